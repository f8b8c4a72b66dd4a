package chainsource

import (
	"context"
	"time"
)

// TxBasedSyncDriver runs the three independent periodic jobs shared by the
// Esplora and Electrum backends: on-chain wallet sync, Lightning wallet
// sync, and fee-rate cache update. Each has its own ticker, but all three
// run one at a time on Run's goroutine, so a slow round of one job delays
// the others until it returns.
//
// Go's time.Ticker has no MissedTickBehavior knob, but its channel is
// already non-blocking-send-with-drop: a slow consumer simply misses
// intermediate ticks, a "Skip" policy that suits the fee-rate ticker well
// since fee-rate calls can legitimately hang on a slow backend. The
// wallet-sync and lightning-sync tickers get the same treatment for
// uniformity, even though those two are expected to always finish within
// one interval.
type TxBasedSyncDriver struct {
	onchainSync   func(ctx context.Context) error
	lightningSync func(ctx context.Context) error
	feeRateUpdate func(ctx context.Context) error

	walletSyncInterval   time.Duration
	feeRateUpdateInterval time.Duration
}

// NewTxBasedSyncDriver wires the three job functions a ChainSource backend
// supplies against the given tick intervals.
func NewTxBasedSyncDriver(onchainSync, lightningSync,
	feeRateUpdate func(ctx context.Context) error,
	walletSyncInterval, feeRateUpdateInterval time.Duration) *TxBasedSyncDriver {

	return &TxBasedSyncDriver{
		onchainSync:           onchainSync,
		lightningSync:         lightningSync,
		feeRateUpdate:         feeRateUpdate,
		walletSyncInterval:    walletSyncInterval,
		feeRateUpdateInterval: feeRateUpdateInterval,
	}
}

// Run blocks, firing each job on its own ticker, until ctx is canceled. The
// fee-rate ticker fires immediately on entry (reset to near-zero first) so
// a freshly started node has fee estimates available without waiting a
// full interval.
func (d *TxBasedSyncDriver) Run(ctx context.Context) {
	walletTicker := time.NewTicker(d.walletSyncInterval)
	defer walletTicker.Stop()

	lightningTicker := time.NewTicker(d.walletSyncInterval)
	defer lightningTicker.Stop()

	feeRateTicker := time.NewTicker(d.feeRateUpdateInterval)
	defer feeRateTicker.Stop()
	feeRateTicker.Reset(time.Nanosecond)

	for {
		select {
		case <-ctx.Done():
			return

		case <-walletTicker.C:
			if err := d.onchainSync(ctx); err != nil {
				log.Errorf("on-chain wallet sync failed: %v", err)
			}

		case <-lightningTicker.C:
			if err := d.lightningSync(ctx); err != nil {
				log.Errorf("lightning wallet sync failed: %v", err)
			}

		case <-feeRateTicker.C:
			feeRateTicker.Reset(d.feeRateUpdateInterval)
			if err := d.feeRateUpdate(ctx); err != nil {
				log.Errorf("fee rate cache update failed: %v", err)
			}
		}
	}
}
