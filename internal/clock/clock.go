// Package clock gives the tracker core a single, swappable source of coarse
// wall-clock seconds, mirroring the original's cached-time-per-tick design
// without the cross-thread tick plumbing: we just read time.Now() and let
// tests install a fixed Now func.
package clock

import "time"

// Now returns the current coarse time in seconds, monotonic enough for
// backoff and throttle arithmetic. Overridable in tests.
var Now = func() int64 {
	return time.Now().Unix()
}
