package chainsource

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTxBasedSyncDriverFiresAllThreeJobs(t *testing.T) {
	var onchainCalls, lightningCalls, feeRateCalls atomic.Int32

	onchain := func(ctx context.Context) error { onchainCalls.Add(1); return nil }
	lightning := func(ctx context.Context) error { lightningCalls.Add(1); return nil }
	feeRate := func(ctx context.Context) error { feeRateCalls.Add(1); return nil }

	driver := NewTxBasedSyncDriver(onchain, lightning, feeRate, 5*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	driver.Run(ctx)

	require.Positive(t, onchainCalls.Load())
	require.Positive(t, lightningCalls.Load())
	require.Positive(t, feeRateCalls.Load())
}

// TestTxBasedSyncDriverFeeRateFiresImmediately exercises the documented
// immediate-first-tick behavior: the fee-rate ticker resets to near-zero
// on entry so a freshly started node doesn't wait a full interval for its
// first fee estimate.
func TestTxBasedSyncDriverFeeRateFiresImmediately(t *testing.T) {
	fired := make(chan struct{}, 1)
	onchain := func(ctx context.Context) error { return nil }
	lightning := func(ctx context.Context) error { return nil }
	feeRate := func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}

	driver := NewTxBasedSyncDriver(onchain, lightning, feeRate, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("fee rate update did not fire promptly on entry")
	}
}

func TestTxBasedSyncDriverStopsOnContextCancellation(t *testing.T) {
	onchain := func(ctx context.Context) error { return nil }
	lightning := func(ctx context.Context) error { return nil }
	feeRate := func(ctx context.Context) error { return nil }

	driver := NewTxBasedSyncDriver(onchain, lightning, feeRate, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		driver.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
