package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSupervisorRunsEveryAsset(t *testing.T) {
	var runs atomic.Int32
	runner := func(asset string) *fakeRunner {
		return &fakeRunner{asset: asset, run: func(context.Context) error {
			runs.Add(1)
			return nil
		}}
	}

	s := NewSupervisor(discardLogger(), runner("btc"), runner("eth"), runner("sol"))
	require.NoError(t, s.Run(context.Background(), 1))
	require.EqualValues(t, 3, runs.Load())
}

func TestSupervisorFailureDoesNotCancelOthers(t *testing.T) {
	boom := errors.New("boom")
	failed := make(chan struct{})

	var survivorErr error
	var survivorFinished atomic.Bool

	failing := &fakeRunner{asset: "btc", run: func(context.Context) error {
		defer close(failed)
		return boom
	}}
	survivor := &fakeRunner{asset: "eth", run: func(ctx context.Context) error {
		<-failed
		survivorErr = ctx.Err()
		survivorFinished.Store(true)
		return nil
	}}

	err := NewSupervisor(discardLogger(), failing, survivor).Run(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "asset btc")
	require.True(t, survivorFinished.Load())
	require.NoError(t, survivorErr)
}

func TestSupervisorNoRunners(t *testing.T) {
	require.NoError(t, NewSupervisor(discardLogger()).Run(context.Background(), 1))
}
