package chainsource

import (
	"context"

	"github.com/chainsource/lnchain/chainio"
)

// Collaborators bundles every external collaborator a ChainSource backend
// needs access to while running, so its run methods don't grow an
// ever-longer positional parameter list.
type Collaborators struct {
	Wallet         chainio.Wallet
	ChannelManager chainio.ChannelManager
	Sweeper        chainio.Sweeper
	ChainMonitor   chainio.ChainMonitor
	FeeEstimator   chainio.FeeEstimator
	Broadcaster    chainio.Broadcaster
	Persistence    chainio.Persistence
}

// ChainSource is exactly one of an Esplora, Electrum or Bitcoind-backed
// chain data source. Go has no sum type to model a tagged variant
// directly, so it is modeled here as an interface with three distinct
// concrete implementations, one per backend, keeping backend-specific
// code out of shared control flow the way a registry of drivers would.
type ChainSource interface {
	// Start brings up any backend-specific runtime state (only the
	// Electrum backend does anything here: it dials its client and
	// replays queued registrations).
	Start(ctx context.Context) error

	// Stop tears down backend-specific runtime state.
	Stop()

	// ContinuouslySyncWallets blocks, running the backend's sync loop
	// (TxBasedSyncDriver for Esplora/Electrum, BlockPollingDriver for
	// Bitcoind) until ctx is canceled.
	ContinuouslySyncWallets(ctx context.Context, collaborators Collaborators)

	// ProcessBroadcastQueue blocks, draining collaborators.Broadcaster's
	// queue until ctx is canceled or the queue closes.
	ProcessBroadcastQueue(ctx context.Context, collaborators Collaborators)

	// Filter exposes this source's Filter-capable surface for external
	// callers that need to register watched transactions/outputs
	// directly (e.g. a freshly opened channel's funding output).
	Filter() *FilterSink
}

// newMetrics returns a fresh NodeMetrics bound to persist. Each backend's
// ContinuouslySyncWallets calls it once, so that backend's sync drivers
// and fee updater all stamp the same metrics store.
func newMetrics(persist chainio.Persistence) *NodeMetrics {
	return NewNodeMetrics(persist)
}
