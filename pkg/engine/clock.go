package engine

import "time"

// Clock supplies the engine's notion of now. Deadlines and grace windows
// are enforced by comparing this to stored instants; there is no internal
// scheduler. Tests inject a manual clock for deterministic time control.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
