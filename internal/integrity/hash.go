// Package integrity computes content hashes of canonical resources.
//
// A hash is SHA-256 over the RFC 8785 canonical JSON of a resource's
// canonical form, with a per-kind domain prefix so that equal documents of
// different kinds never collide. Hashes back no-op suppression and audit;
// they are not used for authentication.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/peersync/internal/canon"
)

// Prefix tags the digest algorithm on every hash string.
const Prefix = "sha256:"

// Domain returns the domain separator for a resource kind.
// The version suffix allows a future algorithm migration.
func Domain(kind string) string {
	return "peersync/" + kind + "/v1"
}

// Hash returns "sha256:<hex>" of obj's canonical bytes under kind's domain.
// Fails when obj is not canonically serializable (e.g. holds a null).
func Hash(kind string, obj canon.Object) (string, error) {
	data, err := canon.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("integrity hash %s: %w", kind, err)
	}
	return Prefix + digest(Domain(kind), data), nil
}

// Bytes hashes already-canonical bytes. Callers must guarantee data came
// from canon.MarshalCanonical.
func Bytes(kind string, data []byte) string {
	return Prefix + digest(Domain(kind), data)
}

// Verify reports whether hash matches obj under kind.
func Verify(kind string, obj canon.Object, hash string) (bool, error) {
	if !strings.HasPrefix(hash, Prefix) {
		return false, fmt.Errorf("integrity verify: unsupported hash %q", hash)
	}
	got, err := Hash(kind, obj)
	if err != nil {
		return false, err
	}
	return got == hash, nil
}

// SHA256(domain || 0x00 || data). The null separator keeps the domain/data
// boundary unambiguous.
func digest(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
