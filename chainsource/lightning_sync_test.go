package chainsource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLightningWalletSyncerArchivesOnceIntervalElapsed(t *testing.T) {
	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}
	syncer := NewLightningWalletSyncer(NewNodeMetrics(nil))

	sync := func(ctx context.Context, confirmables []confirmable) error { return nil }
	height := func() int32 { return ResolvedChannelMonitorArchivalInterval }

	err := syncer.Sync(context.Background(), cm, mon, sw, sync, time.Second, height, time.Now)
	require.NoError(t, err)
	require.Equal(t, 1, mon.archiveCalls)
}

func TestLightningWalletSyncerSkipsArchivalBeforeInterval(t *testing.T) {
	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}
	metrics := NewNodeMetrics(nil)
	syncer := NewLightningWalletSyncer(metrics)

	sync := func(ctx context.Context, confirmables []confirmable) error { return nil }

	// First sync establishes an archival height.
	require.NoError(t, syncer.Sync(context.Background(), cm, mon, sw, sync, time.Second,
		func() int32 { return 100 }, time.Now))
	require.Equal(t, 1, mon.archiveCalls)

	// A second sync at a height within the interval must not re-archive.
	err := syncer.Sync(context.Background(), cm, mon, sw, sync, time.Second,
		func() int32 { return 101 }, time.Now)
	require.NoError(t, err)
	require.Equal(t, 1, mon.archiveCalls, "archival within the interval must be skipped")
}

func TestLightningWalletSyncerPropagatesSyncFailure(t *testing.T) {
	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}
	syncer := NewLightningWalletSyncer(NewNodeMetrics(nil))

	sync := func(ctx context.Context, confirmables []confirmable) error {
		return errors.New("backend unreachable")
	}

	err := syncer.Sync(context.Background(), cm, mon, sw, sync, time.Second,
		func() int32 { return 0 }, time.Now)
	require.Error(t, err)

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	require.Equal(t, TxSyncFailed, csErr.Code)
	require.Zero(t, mon.archiveCalls, "archival must not run after a failed sync")
}

func TestLightningWalletSyncerTimesOut(t *testing.T) {
	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}
	syncer := NewLightningWalletSyncer(NewNodeMetrics(nil))

	block := make(chan struct{})
	sync := func(ctx context.Context, confirmables []confirmable) error {
		<-block
		return nil
	}

	err := syncer.Sync(context.Background(), cm, mon, sw, sync, 10*time.Millisecond,
		func() int32 { return 0 }, time.Now)
	close(block)

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	require.Equal(t, TxSyncTimeout, csErr.Code)
}

// TestLightningWalletSyncerPiggybacksConcurrentCalls exercises the
// single-flight property: two concurrent Sync calls against a sync
// function gated on a release channel must result in exactly one
// underlying sync call.
func TestLightningWalletSyncerPiggybacksConcurrentCalls(t *testing.T) {
	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}
	syncer := NewLightningWalletSyncer(NewNodeMetrics(nil))

	var calls atomic.Int32
	release := make(chan struct{})
	sync := func(ctx context.Context, confirmables []confirmable) error {
		calls.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = syncer.Sync(context.Background(), cm, mon, sw, sync, time.Second,
				func() int32 { return 0 }, time.Now)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), calls.Load(), "only the owner should call sync")
}
