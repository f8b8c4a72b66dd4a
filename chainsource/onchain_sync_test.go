package chainsource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainsource/lnchain/chainio"
	"github.com/stretchr/testify/require"
)

func TestOnchainWalletSyncerUsesFullScanWhenNeverSynced(t *testing.T) {
	wallet := &fakeWallet{fullScanRequest: &chainio.ScriptScanRequest{Scripts: [][]byte{{1}}}}
	syncer := NewOnchainWalletSyncer(NewNodeMetrics(nil))

	var gotReq chainio.ScanRequest
	scan := func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
		gotReq = req
		return &chainio.ScanUpdate{}, nil
	}

	err := syncer.Sync(context.Background(), wallet, scan, time.Second, time.Now)
	require.NoError(t, err)
	require.Same(t, wallet.fullScanRequest, gotReq)
}

func TestOnchainWalletSyncerUsesIncrementalScanOnceSynced(t *testing.T) {
	metrics := NewNodeMetrics(nil)
	require.NoError(t, metrics.SetOnchainWalletSyncTimestamp(1))

	wallet := &fakeWallet{incrementalScanRequest: &chainio.ScriptScanRequest{Scripts: [][]byte{{2}}}}
	syncer := NewOnchainWalletSyncer(metrics)

	var gotReq chainio.ScanRequest
	scan := func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
		gotReq = req
		return &chainio.ScanUpdate{}, nil
	}

	err := syncer.Sync(context.Background(), wallet, scan, time.Second, time.Now)
	require.NoError(t, err)
	require.Same(t, wallet.incrementalScanRequest, gotReq)
}

func TestOnchainWalletSyncerPropagatesScanFailure(t *testing.T) {
	wallet := &fakeWallet{}
	syncer := NewOnchainWalletSyncer(NewNodeMetrics(nil))

	scan := func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
		return nil, errors.New("backend unreachable")
	}

	err := syncer.Sync(context.Background(), wallet, scan, time.Second, time.Now)
	require.Error(t, err)
	require.Empty(t, wallet.appliedUpdates)
}

func TestOnchainWalletSyncerTimesOut(t *testing.T) {
	wallet := &fakeWallet{}
	syncer := NewOnchainWalletSyncer(NewNodeMetrics(nil))

	block := make(chan struct{})
	scan := func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
		<-block
		return &chainio.ScanUpdate{}, nil
	}

	err := syncer.Sync(context.Background(), wallet, scan, 10*time.Millisecond, time.Now)
	close(block)
	require.Error(t, err)

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	require.Equal(t, WalletOperationTimeout, csErr.Code)
}

// TestOnchainWalletSyncerPiggybacksConcurrentCalls exercises the
// single-flight property: two concurrent Sync calls against a scan gated
// on a release channel must result in exactly one underlying scan call.
func TestOnchainWalletSyncerPiggybacksConcurrentCalls(t *testing.T) {
	wallet := &fakeWallet{}
	syncer := NewOnchainWalletSyncer(NewNodeMetrics(nil))

	var calls atomic.Int32
	release := make(chan struct{})
	scan := func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
		calls.Add(1)
		<-release
		return &chainio.ScanUpdate{}, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = syncer.Sync(context.Background(), wallet, scan, time.Second, time.Now)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), calls.Load(), "only the owner should call scan")
}
