package version

import "time"

// Clock supplies wall-clock time for auto-assigned timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
