// Package version implements monotonic last-modified admission control.
//
// A patch either carries an explicit last_updated timestamp or receives the
// current time. Explicit timestamps that do not move forward are rejected
// unless the caller deliberately allows a downgrade (administrative backfill).
// This rejects replayed and out-of-order deliveries from an unordered
// transport.
package version

import (
	"time"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
)

// Field is the document key carrying the last-modified timestamp.
const Field = "last_updated"

// Layout is the timestamp wire layout. Values are always rendered in UTC.
const Layout = time.RFC3339Nano

// Guard admits or rejects documents by their timestamp.
type Guard struct {
	clock Clock
}

// NewGuard creates a Guard. A nil clock falls back to SystemClock.
func NewGuard(clock Clock) *Guard {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Guard{clock: clock}
}

// Admit returns the timestamp the document will be stored with.
//
//   - no timestamp in doc: current time (never earlier than existing + 1ns)
//   - explicit timestamp <= existing and !allowDowngrade: STALE_UPDATE
//   - otherwise the carried timestamp
func (g *Guard) Admit(existing time.Time, doc canon.Object, allowDowngrade bool) (time.Time, error) {
	carried, ok, err := Extract(doc)
	if err != nil {
		return time.Time{}, err
	}

	if !ok {
		now := g.clock.Now().UTC()
		if !now.After(existing) {
			// Clock went backwards or did not tick; keep the sequence monotonic.
			now = existing.Add(time.Nanosecond)
		}
		return now, nil
	}

	if !allowDowngrade && !carried.After(existing) {
		return time.Time{}, errs.New(errs.CodeStaleUpdate,
			"timestamp %s is not newer than stored %s", Format(carried), Format(existing))
	}
	return carried, nil
}

// Extract reads the timestamp field from doc. Reports false when absent.
func Extract(doc canon.Object) (time.Time, bool, error) {
	v, ok := doc.Get(Field)
	if !ok {
		return time.Time{}, false, nil
	}
	s, isString := v.(canon.String)
	if !isString {
		return time.Time{}, false, &errs.Error{
			Code:    errs.CodeMalformedPatch,
			Message: "timestamp must be an RFC 3339 string, got " + canon.TypeName(v),
			Field:   Field,
		}
	}
	ts, err := Parse(string(s))
	if err != nil {
		return time.Time{}, false, &errs.Error{
			Code:    errs.CodeMalformedPatch,
			Message: "timestamp is not RFC 3339",
			Field:   Field,
			Err:     err,
		}
	}
	return ts, true, nil
}

// Parse parses an RFC 3339 timestamp into UTC.
func Parse(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// Format renders ts in the canonical wire layout.
func Format(ts time.Time) string {
	return ts.UTC().Format(Layout)
}
