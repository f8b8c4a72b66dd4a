package chainsource

import (
	"context"
	"time"

	"github.com/chainsource/lnchain/chainio"
)

// confirmable is one of the three Lightning-side Confirm listeners a sync
// drives together: the channel manager, the chain monitor and the
// sweeper.
type confirmable = chainio.Confirm

// LightningWalletSyncer drives the channel manager, chain monitor and
// output sweeper through a Confirm-based sync against whichever backend
// sync function is supplied, then triggers monitor archival on success. A
// SyncCoordinator enforces at most one backend call in flight, with late
// arrivals piggybacking on the in-flight result.
type LightningWalletSyncer struct {
	metrics     *NodeMetrics
	coordinator *SyncCoordinator
}

// NewLightningWalletSyncer returns a syncer that stamps metrics and
// archives resolved monitors on success.
func NewLightningWalletSyncer(metrics *NodeMetrics) *LightningWalletSyncer {
	return &LightningWalletSyncer{metrics: metrics, coordinator: NewSyncCoordinator()}
}

// confirmSyncFn performs one backend-specific sync of the given
// confirmables and returns once every listener has been brought current.
// Esplora supplies a bdk-style tx_sync.sync closure; Electrum delegates to
// its client's sync_confirmables; Bitcoind never calls this.
type confirmSyncFn func(ctx context.Context, confirmables []confirmable) error

// Sync drives channelManager, chainMonitor and sweeper through sync, or
// piggybacks on an already-in-flight sync if another caller got there
// first. On success it archives any fully resolved channel monitors and
// stamps the Lightning sync timestamp.
func (s *LightningWalletSyncer) Sync(ctx context.Context,
	channelManager chainio.ChannelManager, chainMonitor chainio.ChainMonitor,
	sweeper chainio.Sweeper, sync confirmSyncFn, timeout time.Duration,
	currentHeight func() int32, now func() time.Time) error {

	resultCh, owner := s.coordinator.RegisterOrSubscribe()
	if !owner {
		return Wait(resultCh)
	}

	err := s.syncOnce(ctx, channelManager, chainMonitor, sweeper, sync,
		timeout, currentHeight, now)
	s.coordinator.PropagateResult(err)
	return err
}

func (s *LightningWalletSyncer) syncOnce(ctx context.Context,
	channelManager chainio.ChannelManager, chainMonitor chainio.ChainMonitor,
	sweeper chainio.Sweeper, sync confirmSyncFn, timeout time.Duration,
	currentHeight func() int32, now func() time.Time) error {

	confirmables := []confirmable{channelManager, chainMonitor, sweeper}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sync(ctx, confirmables) }()

	select {
	case <-ctx.Done():
		return newError(TxSyncTimeout, ctx.Err())
	case err := <-errCh:
		if err != nil {
			return newError(TxSyncFailed, err)
		}
	}

	if err := s.archiveFullyResolvedMonitors(chainMonitor, currentHeight()); err != nil {
		return err
	}
	return s.metrics.SetLightningWalletSyncTimestamp(uint64(now().Unix()))
}

// archiveFullyResolvedMonitors holds the metrics write lock for the
// entire height check, archive call and persist, so two syncers racing
// on the same archival window can never both decide it's their turn.
func (s *LightningWalletSyncer) archiveFullyResolvedMonitors(
	chainMonitor chainio.ChainMonitor, height int32) error {

	return s.metrics.WithChannelMonitorArchivalHeight(
		func(last *int32) (*int32, error) {
			if last != nil && height < *last+ResolvedChannelMonitorArchivalInterval {
				return nil, nil
			}

			if err := chainMonitor.ArchiveFullyResolvedChannelMonitors(); err != nil {
				return nil, newError(WalletOperationFailed, err)
			}

			h := height
			return &h, nil
		})
}

// worstBestBlock picks the lowest-height best block among the given
// providers, tie-breaking on first-encountered. The chain source only
// ever polls as far as the slowest listener has confirmed, so no listener
// is ever told about a block it can't yet make sense of.
func worstBestBlock(providers ...chainio.BestBlockProvider) chainio.BestBlock {
	var worst chainio.BestBlock
	first := true
	for _, p := range providers {
		b := p.CurrentBestBlock()
		if first || b.Height < worst.Height {
			worst = b
			first = false
		}
	}
	return worst
}
