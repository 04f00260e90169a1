package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceUIDs generates predictable child UIds: "<prefix>-0001", "<prefix>-0002", ...
//
// This enables golden snapshot comparison of documents whose children were
// assigned generated UIds.
//
// Thread-safety: SequenceUIDs is safe for concurrent use (atomic counter).
type SequenceUIDs struct {
	prefix string
	seq    atomic.Int64
}

// NewSequenceUIDs creates a generator. An empty prefix uses "uid".
func NewSequenceUIDs(prefix string) *SequenceUIDs {
	if prefix == "" {
		prefix = "uid"
	}
	return &SequenceUIDs{prefix: prefix}
}

// NewUID returns the next identifier in the sequence.
func (g *SequenceUIDs) NewUID() (string, error) {
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq.Add(1)), nil
}
