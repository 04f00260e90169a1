// Package result models per-item push outcomes and their aggregation into a
// batch result.
package result

import (
	"time"
)

// Kind classifies a push outcome.
type Kind string

const (
	KindSuccess          Kind = "success"
	KindEnqueued         Kind = "enqueued"
	KindNoOperation      Kind = "no_operation"
	KindFiltered         Kind = "filtered"
	KindLockTimeout      Kind = "lock_timeout"
	KindConversionFailed Kind = "conversion_failed"
	KindFailed           Kind = "failed"
)

// Succeeded reports outcomes that delivered (or legitimately skipped) work.
func (k Kind) Succeeded() bool {
	return k == KindSuccess || k == KindEnqueued || k == KindNoOperation
}

// Retryable reports outcomes that may succeed when pushed again unchanged.
func (k Kind) Retryable() bool {
	return k == KindLockTimeout
}

// Failed reports terminal failures.
func (k Kind) Failed() bool {
	return k == KindConversionFailed || k == KindFailed
}

// State is a position in the per-item sync state machine.
type State string

const (
	StatePending          State = "pending"
	StateFiltered         State = "filtered"
	StateConverting       State = "converting"
	StateConversionFailed State = "conversion_failed"
	StateApplying         State = "applying"
	StateApplied          State = "applied"
	StateLockTimeout      State = "lock_timeout"
	StateError            State = "error"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateFiltered, StateConversionFailed, StateApplied, StateLockTimeout, StateError:
		return true
	}
	return false
}

// Outcome is the result of pushing one item.
type Outcome struct {
	Kind     Kind          `json:"kind"`
	Op       string        `json:"op"`
	Target   string        `json:"target"`
	Reason   string        `json:"reason,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	State    State         `json:"state"`

	// Err is the underlying failure, if any. Not serialized.
	Err error `json:"-"`
}
