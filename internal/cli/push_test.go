package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/peersync/internal/adapter"
	"github.com/roach88/peersync/internal/resource"
)

// Sequential workers keep the same-resource items in file order.
const pushConfig = `workers: 1
filters:
  facility:
    exclude: ["P/hidden-*"]
`

const mixedChanges = `[
  {"op": "publish", "object": {"party_id": "P", "id": "A", "name": "Depot"}},
  {"op": "publish", "object": {"party_id": "P", "id": "A", "name": "Depot"}},
  {"op": "patch", "target": "P/A", "object": {"children": []}},
  {"op": "publish", "object": {"party_id": "P", "id": "hidden-1"}},
  {"op": "publish", "object": {"party_id": "P", "id": "B", "price": 1.5}}
]`

func TestPush_Golden(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			cfg := writeFile(t, dir, "peersync.yaml", pushConfig)
			changes := writeFile(t, dir, "changes.json", mixedChanges)

			out, err := execute(t, "--config", cfg, "--format", format, "push", changes)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			newGoldie(t).Assert(t, "push_"+format, []byte(out))
		})
	}
}

func TestPush_AllSucceed(t *testing.T) {
	dir := t.TempDir()
	changes := writeFile(t, dir, "changes.json", `[
	  {"op": "publish", "object": {"party_id": "P", "id": "A"}},
	  {"op": "publish", "object": {"party_id": "P", "id": "B"}}
	]`)

	out, err := execute(t, "push", changes)
	require.NoError(t, err)
	assert.Contains(t, out, "status=success succeeded=2 filtered=0 failed=0 retryable=0")
}

func TestPush_PersistsToDatabase(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "peersync.db")
	changes := writeFile(t, dir, "changes.json", `[
	  {"op": "publish", "object": {"party_id": "P", "id": "A", "children": [{"uid": "u1"}]}}
	]`)
	_, err := execute(t, "push", "--db", db, changes)
	require.NoError(t, err)

	more := writeFile(t, dir, "more.json", `[
	  {"op": "set_child", "target": "P/A", "object": {"uid": "u2", "status": "AVAILABLE"}},
	  {"op": "remove_child", "target": "P/A", "uid": "u1"}
	]`)
	out, err := execute(t, "push", "--db", db, more)
	require.NoError(t, err)
	assert.Contains(t, out, "success set_child P/A")
	assert.Contains(t, out, "success remove_child P/A")

	shown, err := execute(t, "show", "--db", db, "P/A")
	require.NoError(t, err)
	assert.Contains(t, shown, `"children":[{"status":"AVAILABLE","uid":"u2"}]`)
}

func TestPush_Remote(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	changes := writeFile(t, t.TempDir(), "changes.json", `[
	  {"op": "publish", "object": {"party_id": "P", "id": "A"}}
	]`)
	out, err := execute(t, "push", "--remote", srv.URL, changes)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued publish P/A")
	assert.Equal(t, []string{"PUT /facility/P/A"}, paths)
}

func TestPush_CommandErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		errCode string
	}{
		{"missing file", []string{"push", filepath.Join(dir, "missing.json")}, ErrCodeInput},
		{"not an array", []string{"push", writeFile(t, dir, "obj.json", `{"op":"publish"}`)}, ErrCodeInput},
		{"bad op", []string{"push", writeFile(t, dir, "op.json", `[{"op":"merge"}]`)}, ErrCodeInput},
		{"bad target", []string{"push", writeFile(t, dir, "target.json", `[{"op":"patch","target":"nope"}]`)}, ErrCodeInput},
		{"bad remote", []string{"push", "--remote", "ftp://peer", writeFile(t, dir, "ok.json", `[]`)}, ErrCodeRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.True(t, strings.HasPrefix(out, "Error ["+tt.errCode+"]"), out)
		})
	}
}

func TestPush_DBAndRemoteExclusive(t *testing.T) {
	changes := writeFile(t, t.TempDir(), "changes.json", `[]`)
	_, err := execute(t, "push", "--db", "x.db", "--remote", "http://peer", changes)
	require.Error(t, err)
}

func TestParseChanges(t *testing.T) {
	changes, err := parseChanges([]byte(`[
	  {"op": "remove_child", "kind": "charger", "target": "P/A/1", "uid": "u1", "allow_downgrade": true},
	  {"op": "patch", "target": "P/A", "object": {"name": "x"}}
	]`))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, adapter.OpRemoveChild, changes[0].Op)
	assert.Equal(t, "charger", changes[0].Kind)
	assert.Equal(t, resource.Identity{PartyID: "P", ID: "A/1"}, changes[0].Target)
	assert.Equal(t, "u1", changes[0].UID)
	assert.True(t, changes[0].AllowDowngrade)
	assert.Nil(t, changes[0].Object)

	assert.Equal(t, `{"name": "x"}`, string(changes[1].Object.(json.RawMessage)))
}
