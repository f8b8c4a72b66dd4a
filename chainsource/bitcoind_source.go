package chainsource

import (
	"context"
	"fmt"
	"time"

	"github.com/chainsource/lnchain/chainio"
	"github.com/chainsource/lnchain/chainsource/bitcoind"
	"github.com/chainsource/lnchain/feerate"
)

// FeeEstimateSource is satisfied by a Bitcoind client capable of reporting
// the mempool's current minimum relay fee and per-target smart-fee
// estimates. Declared here, not in package bitcoind, so this file has no
// import-cycle dependency on the concrete client package, and so tests can
// substitute a fake; *bitcoind.Client satisfies it.
type FeeEstimateSource interface {
	GetMempoolMinFee(ctx context.Context) (float64, error)
	EstimateSmartFee(ctx context.Context, numBlocks int64, mode bitcoind.FeeEstimateMode) (float64, error)
}

// bitcoindChainSource is the Bitcoin Core RPC/REST backend variant of
// ChainSource. It never uses TxBasedSyncDriver: wallets are synced by
// BlockPollingDriver directly through their Listen interface instead of
// through Confirm, since a full node can hand over complete blocks rather
// than requiring a wallet to ask about specific transactions.
type bitcoindChainSource struct {
	client *bitcoind.Client
	cfg    Config
	sink   *FilterSink
}

// NewBitcoindRPC constructs a Bitcoind-backed ChainSource over JSON-RPC.
func NewBitcoindRPC(cfg Config, rpcCfg bitcoind.Config) (ChainSource, error) {
	client, err := bitcoind.NewRPCClient(rpcCfg)
	if err != nil {
		return nil, newError(WalletOperationFailed, err)
	}
	return newBitcoindChainSource(cfg, client), nil
}

// NewBitcoindREST constructs a Bitcoind-backed ChainSource over the REST
// interface.
func NewBitcoindREST(cfg Config, restCfg bitcoind.Config) (ChainSource, error) {
	client, err := bitcoind.NewRESTClient(restCfg)
	if err != nil {
		return nil, newError(WalletOperationFailed, err)
	}
	return newBitcoindChainSource(cfg, client), nil
}

func newBitcoindChainSource(cfg Config, client *bitcoind.Client) *bitcoindChainSource {
	return &bitcoindChainSource{
		client: client,
		cfg:    cfg,
		// Bitcoind has no server-side watch concept the filter
		// protocol could address: the poller already inspects every
		// connected block and the whole mempool on each tick, so
		// targeted registration is a no-op here.
		sink: NewFilterSink(nil, nil),
	}
}

func (s *bitcoindChainSource) Start(ctx context.Context) error { return nil }

func (s *bitcoindChainSource) Stop() {
	s.client.Shutdown()
}

func (s *bitcoindChainSource) Filter() *FilterSink { return s.sink }

// UTXOSource exposes the underlying client for collaborators that need
// direct UTXO-set queries only a full node can answer (e.g. validating a
// channel funding output actually exists unspent). This is a Bitcoind-
// only accessor, deliberately not part of the ChainSource interface: the
// other two backends have no equivalent capability and so implement no
// such method at all.
func (s *bitcoindChainSource) UTXOSource() *bitcoind.Client {
	return s.client
}

// ContinuouslySyncWallets runs the block poller in the background and
// blocks itself driving the fee-rate ticker, so a single caller goroutine
// covers both jobs for the lifetime of ctx -- mirroring how
// TxBasedSyncDriver.Run blocks its caller for the Esplora/Electrum
// backends.
func (s *bitcoindChainSource) ContinuouslySyncWallets(ctx context.Context, c Collaborators) {
	metrics := newMetrics(c.Persistence)
	poller := NewBlockPollingDriver(s.client, s.client, c.Wallet, c.ChannelManager,
		c.Sweeper, c.ChainMonitor, metrics)
	go poller.Run(ctx)

	feeUpdater := NewFeeRateUpdater(c.FeeEstimator, metrics)
	ticker := time.NewTicker(s.cfg.feeRateCacheUpdateInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := feeUpdater.Update(ctx, s.estimateFees, FeeRateCacheUpdateTimeoutSecs, chainio.Now)
			if err != nil {
				log.Errorf("fee rate cache update failed: %v", err)
			}
		}
	}
}

func (s *bitcoindChainSource) ProcessBroadcastQueue(ctx context.Context, c Collaborators) {
	pump := NewBroadcastPump(s.broadcast, TxBroadcastTimeoutSecs)
	pump.Run(ctx, c.Broadcaster.BroadcastQueue())
}

// estimateFees selects a fee-estimate mode per target -- the two "minimum
// allowed" targets track the mempool's current minimum relay fee, the two
// most urgent targets use Conservative mode, and everything else uses
// Economical mode -- then applies this node's network to whatever
// per-target failures come back. This is the only backend with a
// network-conditioned fallback policy at all: Esplora and Electrum treat
// any call failure as fatal regardless of network.
func (s *bitcoindChainSource) estimateFees(ctx context.Context,
	targets []feerate.Target) (map[feerate.Target]chainio.FeeRateSatPerKw, error) {

	return estimateBitcoindFees(ctx, s.client, s.cfg.Network, targets)
}

// estimateBitcoindFees is estimateFees' logic lifted out to a package-level
// function taking a FeeEstimateSource, so it can be exercised against a
// fake client in tests.
//
// Network fallback policy branches exactly:
//   - Bitcoin mainnet: a failed per-target estimate is fatal and aborts the
//     whole round. Real money is on the line; silently guessing a fee rate
//     risks a stuck or overpaying transaction, so the caller must see the
//     error.
//   - Regtest/Signet: a failed per-target estimate falls back to a fixed
//     250 sat/kwu (1 sat/vB) default for that target and the round
//     continues, since these networks often have no mempool traffic for
//     the backend to estimate from.
//   - Testnet: a failed per-target estimate aborts the round with
//     (nil, nil), leaving the cache untouched, since testnet fee markets
//     are unreliable but not worth surfacing as an error.
func estimateBitcoindFees(ctx context.Context, source FeeEstimateSource, network Network,
	targets []feerate.Target) (map[feerate.Target]chainio.FeeRateSatPerKw, error) {

	out := make(map[feerate.Target]chainio.FeeRateSatPerKw, len(targets))
	for _, target := range targets {
		rate, err := estimateBitcoindOne(ctx, source, target)
		if err == nil {
			out[target] = rate
			continue
		}

		switch network {
		case Regtest, Signet:
			out[target] = chainio.FeeRateSatPerKw(250)
		case Testnet:
			return nil, nil
		default:
			return nil, err
		}
	}
	return out, nil
}

func estimateBitcoindOne(ctx context.Context, source FeeEstimateSource,
	target feerate.Target) (chainio.FeeRateSatPerKw, error) {

	switch target {
	case feerate.MinAllowedAnchorChannelRemoteFee, feerate.MinAllowedNonAnchorChannelRemoteFee:
		satPerKB, err := source.GetMempoolMinFee(ctx)
		if err != nil {
			return 0, err
		}
		return chainio.SatPerVByteToSatPerKw(satPerKB * 1e8 / 1000), nil

	case feerate.MaximumFeeEstimate, feerate.UrgentOnChainSweep:
		return estimateBitcoindSmartFee(ctx, source, target, bitcoind.ModeConservative)

	default:
		return estimateBitcoindSmartFee(ctx, source, target, bitcoind.ModeEconomical)
	}
}

func estimateBitcoindSmartFee(ctx context.Context, source FeeEstimateSource, target feerate.Target,
	mode bitcoind.FeeEstimateMode) (chainio.FeeRateSatPerKw, error) {

	numBlocks := int64(feerate.GetNumBlockDefaultsForTarget(target))
	satPerKB, err := source.EstimateSmartFee(ctx, numBlocks, mode)
	if err != nil {
		return 0, err
	}
	if satPerKB <= 0 {
		return 0, fmt.Errorf("bitcoind: non-positive smart fee estimate for target %v", target)
	}
	return chainio.SatPerVByteToSatPerKw(satPerKB * 1e8 / 1000), nil
}

func (s *bitcoindChainSource) broadcast(ctx context.Context, pkg chainio.Package) error {
	for _, tx := range pkg {
		want := tx.TxHash()
		got, err := s.client.SendRawTransaction(ctx, tx)
		if err != nil {
			return err
		}
		if *got != want {
			// Logged, not panicked: a node whose full node disagrees
			// about a txid it was just handed has a serious problem,
			// but it is not one this goroutine crashing helps with.
			log.Errorf("bitcoind returned txid %s for broadcast of %s", got, want)
			return bugf("bitcoind broadcast txid mismatch: got %s want %s", got, want)
		}
	}
	return nil
}
