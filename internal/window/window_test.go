package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daszybak/polymarket_capture/internal/clock"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		name string
		now  int64
		want int64
	}{
		{"zero", 0, 0},
		{"on grid", 1800, 1800},
		{"inside interval", 1000, 900},
		{"one before grid", 1799, 900},
		{"real epoch", 1_767_225_601, 1_767_225_600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Align(time.Unix(tt.now, 0)))
		})
	}
}

func TestScheduleFirstStartIsAlignedAndInFuture(t *testing.T) {
	for _, now := range []int64{0, 1, 899, 900, 1000, 1_767_225_599, 1_767_226_499} {
		windows := Schedule(time.Unix(now, 0), "btc", 3)
		require.Len(t, windows, 3)

		first := windows[0].Start
		require.Zero(t, first%900, "now=%d", now)
		require.Greater(t, first, now, "now=%d", now)
		require.LessOrEqual(t, first-now, int64(900), "now=%d", now)

		for i := 1; i < len(windows); i++ {
			require.Equal(t, int64(900), windows[i].Start-windows[i-1].Start)
		}
	}
}

func TestScheduleZeroWindows(t *testing.T) {
	require.Empty(t, Schedule(time.Unix(1000, 0), "btc", 0))
}

func TestWindowSlugAndEnd(t *testing.T) {
	w := Window{Asset: "btc", Start: 1800}

	require.Equal(t, "btc-updown-15m-1800", w.Slug())
	require.Equal(t, time.Unix(1800, 0), w.StartTime())
	require.Equal(t, time.Unix(2700, 0), w.End())
}

func TestWaitClampsPastStart(t *testing.T) {
	c := clock.Fake(time.Unix(2000, 0))

	require.Equal(t, time.Duration(0), Until(c, time.Unix(1800, 0)))
	require.NoError(t, Wait(context.Background(), c, time.Unix(1800, 0)))
}

func TestWaitBlocksUntilStart(t *testing.T) {
	c := clock.Fake(time.Unix(1000, 0))
	done := make(chan error, 1)

	go func() {
		done <- Wait(context.Background(), c, time.Unix(1800, 0))
	}()

	c.WaitForTimers(1)
	c.Advance(799 * time.Second)
	select {
	case <-done:
		t.Fatal("returned before start")
	default:
	}

	c.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("did not return at start")
	}
}

func TestWaitCancelled(t *testing.T) {
	c := clock.Fake(time.Unix(1000, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Wait(ctx, c, time.Unix(1800, 0)), context.Canceled)
}
