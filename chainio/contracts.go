// Package chainio declares the external collaborator contracts the
// chainsource package depends on: the on-chain wallet, the Lightning-side
// listeners (channel manager, chain monitor, output sweeper), the fee
// estimator, the broadcaster and the persistence store. None of these are
// implemented here -- concrete implementations live outside this module's
// scope, just as a wallet controller interface is satisfied by a concrete
// wallet backend elsewhere rather than by the package declaring it.
package chainio

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BestBlock identifies a block a listener currently considers its tip.
type BestBlock struct {
	Hash   chainhash.Hash
	Height int32
}

// WatchedOutput identifies an on-chain output a Filter-capable backend
// should watch for spends, along with the block context it was registered
// in (used by some backends to bound rescans).
type WatchedOutput struct {
	OutPoint   wire.OutPoint
	Script     []byte
	BlockHash  *chainhash.Hash
}

// Listen is the interface by which a listener is told about connected and
// disconnected blocks, strictly in chain order. Implemented by the
// on-chain wallet, channel manager, chain monitor and output sweeper.
type Listen interface {
	BlockConnected(header *wire.BlockHeader, height int32)
	BlockDisconnected(header *wire.BlockHeader, height int32)
}

// Confirm is the interface by which a listener is told about confirmed and
// reorged transactions, and the current best header, out of strict block
// order. Used by the transaction-based (Esplora/Electrum) sync path.
type Confirm interface {
	TransactionsConfirmed(header *wire.BlockHeader, height int32, txs []*wire.MsgTx)
	TransactionsUnconfirmed(txids []chainhash.Hash)
	BestBlockUpdated(header *wire.BlockHeader, height int32)
	RelevantTxids() []chainhash.Hash
}

// BestBlockProvider is satisfied by anything that can report the chain tip
// it has synced to so far -- the on-chain wallet, channel manager and
// output sweeper all need this for catch-up seeding.
type BestBlockProvider interface {
	CurrentBestBlock() BestBlock
}

// ScanRequest opaquely describes the set of scripts/outpoints a backend
// should scan for on a full or incremental sync. Its shape is owned by the
// wallet implementation; the chain source only threads it through. A
// wallet backed by a transaction-based (Esplora/Electrum) chain source
// returns a *ScriptScanRequest, the one concrete shape this package
// standardizes on for that scan style; a Bitcoind-backed wallet never
// produces a ScanRequest at all, since BlockPollingDriver drives it
// through Listen directly instead.
type ScanRequest interface{}

// WalletUpdate opaquely describes the result of a backend sync that the
// wallet knows how to apply to itself. A transaction-based scan produces a
// *ScanUpdate; see ScanRequest.
type WalletUpdate interface{}

// ScriptScanRequest is the concrete ScanRequest a transaction-based scan
// acts on: every script the wallet wants checked for activity. A full
// scan typically lists every script up to the wallet's derivation gap
// limit; an incremental scan lists only what's changed since the last
// sync.
type ScriptScanRequest struct {
	Scripts [][]byte
}

// ScanUpdate is the concrete WalletUpdate a transaction-based scan
// produces: the transactions it found confirmed, grouped by the height
// they confirmed at, the transactions it found still unconfirmed, and the
// backend's current tip at the time of the scan.
type ScanUpdate struct {
	Confirmed   map[int32][]*wire.MsgTx
	Unconfirmed []*wire.MsgTx
	Tip         BestBlock
}

// Wallet is the on-chain (key-derived UTXO) wallet contract the chain
// source drives.
type Wallet interface {
	BestBlockProvider
	Listen

	// GetFullScanRequest returns a scan request covering the wallet's
	// entire derivation gap limit, used the first time a wallet syncs.
	GetFullScanRequest() ScanRequest

	// GetIncrementalSyncRequest returns a scan request covering only
	// what's changed since the last sync.
	GetIncrementalSyncRequest() ScanRequest

	// ApplyUpdate merges a backend-produced update into wallet state.
	ApplyUpdate(update WalletUpdate) error

	// GetCachedTxs returns the wallet's locally cached transactions, used
	// by Electrum syncs to avoid refetching.
	GetCachedTxs() []*wire.MsgTx

	// GetUnconfirmedTxids returns the txids of transactions the wallet
	// currently considers unconfirmed.
	GetUnconfirmedTxids() []chainhash.Hash

	// ApplyMempoolTxs applies a mempool snapshot: newly observed
	// unconfirmed transactions, and previously-unconfirmed txids that
	// have since been evicted from the mempool.
	ApplyMempoolTxs(unconfirmed []*wire.MsgTx, evicted []chainhash.Hash) error
}

// Monitor is a single channel monitor as exposed by ChainMonitor.ListMonitors.
type Monitor interface {
	BestBlockProvider
}

// ChainMonitor is the Lightning channel-state watchdog collaborator. It
// implements Listen/Confirm over the union of its channel monitors.
// CurrentBestBlock must report the minimum height across ListMonitors(),
// i.e. the tip the least-synced watched channel has reached, since that
// is the point the chain source can't safely poll past without leaving a
// monitor behind.
type ChainMonitor interface {
	Listen
	Confirm
	BestBlockProvider

	// ListMonitors returns the outpoint and Monitor for every channel
	// currently being watched.
	ListMonitors() map[wire.OutPoint]Monitor

	// ArchiveFullyResolvedChannelMonitors prunes monitors for channels
	// that have fully settled on chain.
	ArchiveFullyResolvedChannelMonitors() error
}

// ChannelManager is the Lightning channel-state-machine collaborator.
type ChannelManager interface {
	BestBlockProvider
	Listen
	Confirm
}

// Sweeper is the output-sweeper collaborator responsible for claiming
// time-locked or justice outputs.
type Sweeper interface {
	BestBlockProvider
	Listen
	Confirm
}

// ConfirmationTarget is a semantic "how fast must this confirm" tag; its
// concrete values live in package feerate to avoid an import cycle between
// chainio and feerate.
type ConfirmationTarget int

// FeeEstimator is the fee-rate cache collaborator. SetFeeRateCache performs
// an atomic swap and reports whether any value actually changed, which
// gates a completion log line for some backends.
type FeeEstimator interface {
	SetFeeRateCache(rates map[ConfirmationTarget]FeeRateSatPerKw) (changed bool)
}

// FeeRateSatPerKw is a fee rate expressed in satoshis per 1000 weight units.
type FeeRateSatPerKw uint64

// SatPerVByteToSatPerKw converts a sat/vB rate to sat/kwu (1 sat/vB = 250
// sat/kwu).
func SatPerVByteToSatPerKw(satPerVByte float64) FeeRateSatPerKw {
	return FeeRateSatPerKw(satPerVByte * 250)
}

// Package is an ordered sequence of transactions meant to be broadcast
// together. No cross-backend package-relay semantics exist yet (Non-goal);
// the broadcaster still groups them for ordering purposes only.
type Package []*wire.MsgTx

// Broadcaster is the transaction-broadcast-queue collaborator.
type Broadcaster interface {
	// BroadcastQueue returns the receive side of the packages submitted
	// for broadcast. The channel is closed on shutdown.
	BroadcastQueue() <-chan Package
}

// Persistence is the key-value store collaborator. WriteNodeMetrics is the
// only operation the chain source needs from it.
type Persistence interface {
	WriteNodeMetrics(metrics NodeMetricsSnapshot) error
}

// NodeMetricsSnapshot is the serializable shape of chainsource.NodeMetrics
// passed to Persistence.WriteNodeMetrics, decoupling chainio from
// chainsource's internal locking.
type NodeMetricsSnapshot struct {
	LatestOnchainWalletSyncTimestamp     *uint64
	LatestLightningWalletSyncTimestamp   *uint64
	LatestFeeRateCacheUpdateTimestamp    *uint64
	LatestChannelMonitorArchivalHeight   *int32
}

// Now is the injection point for "current time" used when stamping metrics,
// letting tests pin a deterministic clock the way lntest.harness.go pins a
// mock clock for channel backup tests.
var Now = time.Now
