package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sealedDocument = `{
  "party_id": "P",
  "id": "A",
  "name": "Depot 1",
  "last_updated": "2025-01-01T00:00:00Z",
  "children": [{"uid": "u1", "status": "AVAILABLE"}],
  "content_hash": "sha256:aed99bd946359efd9fb5e1e14f1114b6db598c8d828acfbf5dbdfecb10272875"
}`

func TestHash_Golden(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.json", `{"party_id":"P","id":"A","name":"Depot 1"}`)

	out, err := execute(t, "hash", path)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "hash_text", []byte(out))
}

func TestHash_VerifyGolden(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.json", sealedDocument)

	out, err := execute(t, "--format", "json", "hash", "--verify", path)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "hash_verify_json", []byte(out))
}

func TestHash_IgnoresFieldOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"party_id":"P","id":"A","name":"Depot 1"}`)
	b := writeFile(t, dir, "b.json", `{"name":"Depot 1","id":"A","party_id":"P","children":[]}`)

	outA, err := execute(t, "hash", a)
	require.NoError(t, err)
	outB, err := execute(t, "hash", b)
	require.NoError(t, err)
	assert.Equal(t, outA, outB)
}

func TestHash_VerifyMismatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.json", `{"party_id":"P","id":"A","content_hash":"sha256:00"}`)

	out, err := execute(t, "hash", "--verify", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `mismatch sha256:`)
	assert.Contains(t, out, `(document claims "sha256:00")`)
}

func TestHash_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"not json", []string{"hash", writeFile(t, dir, "bad.json", `{`)}},
		{"float", []string{"hash", writeFile(t, dir, "float.json", `{"party_id":"P","id":"A","price":1.5}`)}},
		{"missing identity", []string{"hash", writeFile(t, dir, "noid.json", `{"name":"x"}`)}},
		{"unknown kind", []string{"hash", "--kind", "tariff", writeFile(t, dir, "ok.json", `{"party_id":"P","id":"A"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
