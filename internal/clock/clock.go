// Package clock lets time-driven code run against the wall clock in
// production and against a hand-advanced clock in tests.
package clock

import "time"

// Clock is the subset of the time package the capture loop depends on.
type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed. If d <= 0 the
	// channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return wallClock{}
}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
