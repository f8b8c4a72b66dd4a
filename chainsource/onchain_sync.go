package chainsource

import (
	"context"
	"time"

	"github.com/chainsource/lnchain/chainio"
)

// OnchainWalletSyncer drives a single Wallet through a full or incremental
// scan against whichever backend client is supplied, bounding the call
// with a timeout and mapping failures into WalletOperationFailed/Timeout.
// A SyncCoordinator enforces at most one backend call in flight: a caller
// that arrives while a sync is already running piggybacks on that sync's
// result instead of starting a redundant one.
type OnchainWalletSyncer struct {
	metrics     *NodeMetrics
	coordinator *SyncCoordinator
}

// NewOnchainWalletSyncer returns a syncer that stamps metrics on success.
func NewOnchainWalletSyncer(metrics *NodeMetrics) *OnchainWalletSyncer {
	return &OnchainWalletSyncer{metrics: metrics, coordinator: NewSyncCoordinator()}
}

// scanFn performs one backend-specific scan given a request and returns a
// WalletUpdate the wallet knows how to apply. Each backend source supplies
// its own closure: Esplora/Electrum do a full/incremental scan against
// their respective client; Bitcoind never calls this, since
// BlockPollingDriver drives the on-chain wallet directly through Listen
// instead.
type scanFn func(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error)

// Sync performs one on-chain wallet sync, or piggybacks on an
// already-in-flight one if another caller got there first: a full scan if
// the wallet has never synced before (no prior on-chain sync timestamp in
// metrics), an incremental scan otherwise. The call is
// bounded by timeout; on success the wallet's update is applied and the
// onchain sync timestamp is stamped and persisted.
func (s *OnchainWalletSyncer) Sync(ctx context.Context, wallet chainio.Wallet,
	scan scanFn, timeout time.Duration, now func() time.Time) error {

	resultCh, owner := s.coordinator.RegisterOrSubscribe()
	if !owner {
		return Wait(resultCh)
	}

	err := s.syncOnce(ctx, wallet, scan, timeout, now)
	s.coordinator.PropagateResult(err)
	return err
}

func (s *OnchainWalletSyncer) syncOnce(ctx context.Context, wallet chainio.Wallet,
	scan scanFn, timeout time.Duration, now func() time.Time) error {

	var req chainio.ScanRequest
	if s.metrics.LatestOnchainWalletSyncTimestamp() == nil {
		req = wallet.GetFullScanRequest()
	} else {
		req = wallet.GetIncrementalSyncRequest()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		update chainio.WalletUpdate
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		update, err := scan(ctx, req)
		resCh <- result{update, err}
	}()

	select {
	case <-ctx.Done():
		return newError(WalletOperationTimeout, ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return newError(WalletOperationFailed, res.err)
		}
		if err := wallet.ApplyUpdate(res.update); err != nil {
			return newError(WalletOperationFailed, err)
		}
		return s.metrics.SetOnchainWalletSyncTimestamp(uint64(now().Unix()))
	}
}
