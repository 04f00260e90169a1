package result

import "time"

// Status summarizes a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusMixed   Status = "mixed"
)

// Batch aggregates the outcomes of one push batch.
type Batch struct {
	Status   Status        `json:"status"`
	Items    []Outcome     `json:"items"`
	Warnings []string      `json:"warnings,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns"`

	Succeeded []Outcome `json:"-"`
	Failed    []Outcome `json:"-"`
	Filtered  []Outcome `json:"-"`
	Retryable []Outcome `json:"-"`
}

// Flatten aggregates outcomes in input order.
//
// Status:
//   - any terminal failure: Error
//   - else Mixed when retryable items remain next to delivered ones
//   - else Warning when there are warnings or retryable items
//   - else Success
//
// Lock timeout reasons are reported as warnings. Elapsed is the maximum item
// elapsed time, since items run concurrently.
func Flatten(outcomes []Outcome) Batch {
	b := Batch{Items: make([]Outcome, len(outcomes))}
	copy(b.Items, outcomes)

	for _, o := range outcomes {
		switch {
		case o.Kind.Succeeded():
			b.Succeeded = append(b.Succeeded, o)
		case o.Kind.Retryable():
			b.Retryable = append(b.Retryable, o)
		case o.Kind == KindFiltered:
			b.Filtered = append(b.Filtered, o)
		default:
			b.Failed = append(b.Failed, o)
		}

		b.Warnings = append(b.Warnings, o.Warnings...)
		if o.Kind.Retryable() && o.Reason != "" {
			b.Warnings = append(b.Warnings, o.Target+": "+o.Reason)
		}
		if o.Elapsed > b.Elapsed {
			b.Elapsed = o.Elapsed
		}
	}

	switch {
	case len(b.Failed) > 0:
		b.Status = StatusError
	case len(b.Retryable) > 0 && len(b.Succeeded) > 0:
		b.Status = StatusMixed
	case len(b.Warnings) > 0 || len(b.Retryable) > 0:
		b.Status = StatusWarning
	default:
		b.Status = StatusSuccess
	}
	return b
}

// Count returns how many items have kind.
func (b Batch) Count(kind Kind) int {
	n := 0
	for _, o := range b.Items {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Counts tallies items per kind.
func (b Batch) Counts() map[Kind]int {
	out := make(map[Kind]int)
	for _, o := range b.Items {
		out[o.Kind]++
	}
	return out
}

// HasFailures reports whether any item failed terminally.
func (b Batch) HasFailures() bool {
	return len(b.Failed) > 0
}
