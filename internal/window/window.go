// Package window computes the 15-minute market windows a daemon captures.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/daszybak/polymarket_capture/internal/clock"
)

const (
	// Interval is the length of one up/down market.
	Interval = 900 * time.Second
	// IntervalTag is the interval part of a market slug.
	IntervalTag = "15m"
)

const intervalSeconds = int64(Interval / time.Second)

// Tokens are the two outcome token IDs of a window's market.
type Tokens [2]string

// Slice returns the tokens as a slice for wire encoding.
func (t Tokens) Slice() []string {
	return []string{t[0], t[1]}
}

// Window is one fixed-length market for an asset.
type Window struct {
	Asset string
	// Start is the opening epoch in seconds, always a multiple of 900.
	Start int64
}

// Slug identifies the window both on the discovery endpoint and on disk.
func (w Window) Slug() string {
	return fmt.Sprintf("%s-updown-%s-%d", w.Asset, IntervalTag, w.Start)
}

// StartTime returns the opening instant.
func (w Window) StartTime() time.Time {
	return time.Unix(w.Start, 0)
}

// End returns the instant the window closes.
func (w Window) End() time.Time {
	return time.Unix(w.Start+intervalSeconds, 0)
}

// Align floors t to the interval grid.
func Align(t time.Time) int64 {
	sec := t.Unix()
	return sec - mod(sec, intervalSeconds)
}

// Schedule returns n consecutive windows for asset, the first one opening
// one interval after the aligned epoch of now.
func Schedule(now time.Time, asset string, n int) []Window {
	base := Align(now)
	windows := make([]Window, 0, n)
	for i := 1; i <= n; i++ {
		windows = append(windows, Window{
			Asset: asset,
			Start: base + int64(i)*intervalSeconds,
		})
	}
	return windows
}

// Until returns how long to wait from now until t, clamped at zero.
func Until(c clock.Clock, t time.Time) time.Duration {
	d := t.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Wait suspends the caller until start. A start in the past returns
// immediately.
func Wait(ctx context.Context, c clock.Clock, start time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(Until(c, start)):
		return nil
	}
}

// mod keeps negative epochs on the same grid.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
