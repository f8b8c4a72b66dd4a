package chainsource

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
)

// HeaderSource is satisfied by a Bitcoind client capable of reporting its
// current chain tip. BlockPollingDriver polls it on a fixed interval.
type HeaderSource interface {
	GetBestBlockHeader(ctx context.Context) (*wire.BlockHeader, int32, error)
}

// MempoolSource is satisfied by a Bitcoind client capable of reporting
// mempool membership changes relative to a known set of unconfirmed
// txids.
type MempoolSource interface {
	GetUpdatedMempoolTransactions(ctx context.Context, knownUnconfirmed []chainhash.Hash) (
		newTxs []*wire.MsgTx, evicted []chainhash.Hash, err error)
}

// BlockPollingDriver is the Bitcoind-only counterpart to TxBasedSyncDriver:
// instead of tx-based sync against a block explorer, it polls a full node
// for its chain tip on a fixed interval, fans connected/disconnected
// blocks out to every Listen-capable collaborator via a bounded header
// cache, then polls the mempool and applies the diff to the on-chain
// wallet.
//
// The header cache is a ring of the last few connected headers, bounded so
// a long-running node never grows it unboundedly; entries older than the
// ring's capacity are evicted as new ones are pushed, giving reorg
// detection a bounded look-back window without re-fetching history on
// every poll.
type BlockPollingDriver struct {
	headers HeaderSource
	mempool MempoolSource

	wallet         chainio.Wallet
	channelManager chainio.ChannelManager
	sweeper        chainio.Sweeper
	chainMonitor   chainio.ChainMonitor

	metrics *NodeMetrics

	cache       *boundedHeaderCache
	coordinator *SyncCoordinator
}

// NewBlockPollingDriver wires a driver against the given header/mempool
// sources and the Listen-capable collaborators it must keep in sync.
func NewBlockPollingDriver(headers HeaderSource, mempool MempoolSource,
	wallet chainio.Wallet, channelManager chainio.ChannelManager,
	sweeper chainio.Sweeper, chainMonitor chainio.ChainMonitor,
	metrics *NodeMetrics) *BlockPollingDriver {

	return &BlockPollingDriver{
		headers:        headers,
		mempool:        mempool,
		wallet:         wallet,
		channelManager: channelManager,
		sweeper:        sweeper,
		chainMonitor:   chainMonitor,
		metrics:        metrics,
		cache:          newBoundedHeaderCache(100),
		coordinator:    NewSyncCoordinator(),
	}
}

// listeners returns every Listen-capable collaborator the block poller
// must notify, in a fixed order: wallet first since its confirmations
// gate the Lightning-side ones.
func (d *BlockPollingDriver) listeners() []chainio.Listen {
	return []chainio.Listen{d.wallet, d.channelManager, d.sweeper, d.chainMonitor}
}

// bestBlockProviders mirrors listeners() for the worst-best-block
// selection used to seed catch-up.
func (d *BlockPollingDriver) bestBlockProviders() []chainio.BestBlockProvider {
	return []chainio.BestBlockProvider{d.wallet, d.channelManager, d.sweeper, d.chainMonitor}
}

// Run performs the initial catch-up (with exponential backoff, retried
// forever -- a node with no chain backend available has no path forward
// other than to keep trying) and then polls steadily until ctx is
// canceled.
func (d *BlockPollingDriver) Run(ctx context.Context) {
	if err := d.catchUp(ctx); err != nil {
		// ctx was canceled during catch-up; nothing further to do.
		return
	}

	ticker := time.NewTicker(ChainPollingIntervalSecs)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				log.Errorf("chain poll failed: %v", err)
			}
		}
	}
}

// catchUp polls until the driver successfully brings every listener to
// the current tip at least once. A transient failure (a connection drop
// or RPC timeout, the kind a retry soon has a real chance of clearing)
// doubles the backoff up to MaxBackoffSecs; a persistent one (a malformed
// response, a structural chain-state mismatch) waits the flat
// MaxBackoffSecs instead, since escalating would just delay a retry that
// isn't any more likely to succeed. It only returns early if ctx is
// canceled.
func (d *BlockPollingDriver) catchUp(ctx context.Context) error {
	backoff := time.Second

	for {
		err := d.pollOnce(ctx)
		if err == nil {
			return nil
		}

		wait := MaxBackoffSecs
		if isTransientPollError(err) {
			wait = backoff
			log.Warnf("transient error during initial chain catch-up, retrying in %s: %v", wait, err)
			backoff *= 2
			if backoff > MaxBackoffSecs {
				backoff = MaxBackoffSecs
			}
		} else {
			log.Warnf("persistent error during initial chain catch-up, retrying in %s: %v", wait, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// isTransientPollError reports whether err looks like a recoverable
// connectivity hiccup (a dial/read timeout or refusal) as opposed to a
// persistent condition (a malformed response, an internal invariant
// violation, a structural height mismatch) that no amount of quick
// retrying will clear on its own.
func isTransientPollError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// pollOnce fetches the current tip, connects/disconnects blocks on every
// listener as needed to reach it, then polls the mempool and applies any
// diff to the wallet, stamping metrics on success, or piggybacks on an
// already-in-flight poll if another caller got there first.
func (d *BlockPollingDriver) pollOnce(ctx context.Context) error {
	resultCh, owner := d.coordinator.RegisterOrSubscribe()
	if !owner {
		return Wait(resultCh)
	}

	err := d.pollOnceInner(ctx)
	d.coordinator.PropagateResult(err)
	return err
}

func (d *BlockPollingDriver) pollOnceInner(ctx context.Context) error {
	tip, tipHeight, err := d.headers.GetBestBlockHeader(ctx)
	if err != nil {
		return newError(WalletOperationFailed, err)
	}

	worst := worstBestBlock(d.bestBlockProviders()...)

	if err := d.cache.synchronizeListeners(worst, tip, tipHeight, d.listeners()); err != nil {
		return newError(WalletOperationFailed, err)
	}

	known := d.wallet.GetUnconfirmedTxids()
	newTxs, evicted, err := d.mempool.GetUpdatedMempoolTransactions(ctx, known)
	if err != nil {
		return newError(WalletOperationFailed, err)
	}
	if err := d.wallet.ApplyMempoolTxs(newTxs, evicted); err != nil {
		return newError(WalletOperationFailed, err)
	}

	now := uint64(chainio.Now().Unix())
	if err := d.metrics.SetOnchainWalletSyncTimestamp(now); err != nil {
		return err
	}
	return d.metrics.SetLightningWalletSyncTimestamp(now)
}
