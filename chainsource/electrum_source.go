package chainsource

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
	"github.com/chainsource/lnchain/chainsource/electrum"
	"github.com/chainsource/lnchain/feerate"
)

// electrumChainSource is the Electrum TCP backend variant of ChainSource.
// Unlike Esplora and Bitcoind it has real start/stop semantics: its
// client connection is dialed lazily on Start and torn down on Stop, with
// registrations made while stopped queued by its ElectrumRuntimeState for
// replay on the next Start.
type electrumChainSource struct {
	serverAddr string
	cfg        Config
	runtime    *ElectrumRuntimeState
	sink       *FilterSink
}

// NewElectrum constructs an Electrum-backed ChainSource that will dial
// serverAddr ("ssl://host:port" or "tcp://host:port") on Start.
func NewElectrum(cfg Config, serverAddr string) ChainSource {
	runtime := NewElectrumRuntimeState()

	s := &electrumChainSource{
		serverAddr: serverAddr,
		cfg:        cfg,
		runtime:    runtime,
	}
	s.sink = NewFilterSink(runtime.RegisterTx, func(_ chainhash.Hash, script []byte) error {
		return runtime.RegisterOutput(chainio.WatchedOutput{Script: script})
	})
	return s
}

func (s *electrumChainSource) Start(ctx context.Context) error {
	client, err := electrum.NewClient(ctx, s.serverAddr)
	if err != nil {
		return newError(WalletOperationFailed, err)
	}
	return s.runtime.Start(client)
}

func (s *electrumChainSource) Stop() {
	if client, ok := s.runtime.Client(); ok {
		if c, ok := client.(*electrum.Client); ok {
			c.Close()
		}
	}
	s.runtime.Stop()
}

func (s *electrumChainSource) Filter() *FilterSink { return s.sink }

func (s *electrumChainSource) ContinuouslySyncWallets(ctx context.Context, c Collaborators) {
	metrics := newMetrics(c.Persistence)
	onchain := NewOnchainWalletSyncer(metrics)
	lightning := NewLightningWalletSyncer(metrics)
	feeUpdater := NewFeeRateUpdater(c.FeeEstimator, metrics)

	onchainSync := func(ctx context.Context) error {
		return onchain.Sync(ctx, c.Wallet, s.scanWallet, BdkWalletSyncTimeoutSecs, chainio.Now)
	}
	lightningSync := func(ctx context.Context) error {
		return lightning.Sync(ctx, c.ChannelManager, c.ChainMonitor, c.Sweeper,
			s.syncConfirmables, LdkWalletSyncTimeoutSecs,
			func() int32 { return worstBestBlock(c.Wallet, c.ChannelManager, c.Sweeper, c.ChainMonitor).Height },
			chainio.Now)
	}
	feeRateUpdate := func(ctx context.Context) error {
		return feeUpdater.Update(ctx, s.estimateFees, FeeRateCacheUpdateTimeoutSecs, chainio.Now)
	}

	driver := NewTxBasedSyncDriver(onchainSync, lightningSync, feeRateUpdate,
		s.cfg.walletSyncInterval(), s.cfg.feeRateCacheUpdateInterval())
	driver.Run(ctx)
}

func (s *electrumChainSource) ProcessBroadcastQueue(ctx context.Context, c Collaborators) {
	pump := NewBroadcastPump(s.broadcast, TxBroadcastTimeoutSecs)
	pump.Run(ctx, c.Broadcaster.BroadcastQueue())
}

func (s *electrumChainSource) client() (*electrum.Client, error) {
	raw, ok := s.runtime.Client()
	if !ok {
		return nil, newError(WalletOperationFailed, fmt.Errorf("electrum client not started"))
	}
	c, ok := raw.(*electrum.Client)
	if !ok {
		return nil, bugf("electrum runtime client has unexpected type %T", raw)
	}
	return c, nil
}

// scanWallet performs a tx_sync-equivalent scan: for every script the
// wallet asked about, fetch its scripthash history and pull the raw
// transaction for each entry, bucketing it as confirmed (by height) or
// unconfirmed.
func (s *electrumChainSource) scanWallet(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	target, ok := req.(*chainio.ScriptScanRequest)
	if !ok {
		return nil, fmt.Errorf("electrum: scan request has unexpected type %T", req)
	}

	update := &chainio.ScanUpdate{Confirmed: make(map[int32][]*wire.MsgTx)}

	for _, script := range target.Scripts {
		history, err := client.GetScriptHashHistory(ctx, script)
		if err != nil {
			return nil, fmt.Errorf("electrum: fetching script history: %w", err)
		}

		for _, entry := range history {
			tx, err := client.GetTransaction(ctx, entry.Txid)
			if err != nil {
				return nil, fmt.Errorf("electrum: fetching tx %s: %w", entry.Txid, err)
			}
			if entry.Height > 0 {
				update.Confirmed[entry.Height] = append(update.Confirmed[entry.Height], tx)
			} else {
				update.Unconfirmed = append(update.Unconfirmed, tx)
			}
		}
	}

	tipHeader, tipHeight, err := client.GetTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("electrum: fetching tip: %w", err)
	}
	update.Tip = chainio.BestBlock{Hash: tipHeader.BlockHash(), Height: tipHeight}

	return update, nil
}

// syncConfirmables drives the Lightning-side listeners' Confirm interface
// against this Electrum server: for every txid a listener considers
// relevant, pass it to the client's RegisterTx (which fetches it but does
// not subscribe to later updates), check whether the server now reports it
// confirmed, and report it confirmed or unconfirmed accordingly. Then
// report the server's current tip.
func (s *electrumChainSource) syncConfirmables(ctx context.Context, confirmables []chainio.Confirm) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	tipHeader, tipHeight, err := client.GetTip(ctx)
	if err != nil {
		return fmt.Errorf("electrum: fetching tip: %w", err)
	}

	for _, confirmable := range confirmables {
		confirmedByHeight := make(map[int32][]*wire.MsgTx)
		var unconfirmed []chainhash.Hash

		for _, txid := range confirmable.RelevantTxids() {
			if err := client.RegisterTx(txid); err != nil {
				return fmt.Errorf("electrum: registering %s: %w", txid, err)
			}

			height, confirmed := client.GetConfirmedHeight(ctx, txid)
			if !confirmed {
				unconfirmed = append(unconfirmed, txid)
				continue
			}

			tx, err := client.GetTransaction(ctx, txid)
			if err != nil {
				return fmt.Errorf("electrum: fetching tx %s: %w", txid, err)
			}
			confirmedByHeight[height] = append(confirmedByHeight[height], tx)
		}

		for height, txs := range confirmedByHeight {
			header := tipHeader
			if height != tipHeight {
				h, err := client.GetBlockHeader(ctx, height)
				if err != nil {
					return fmt.Errorf("electrum: fetching header at height %d: %w", height, err)
				}
				header = h
			}
			confirmable.TransactionsConfirmed(header, height, txs)
		}
		if len(unconfirmed) > 0 {
			confirmable.TransactionsUnconfirmed(unconfirmed)
		}
		confirmable.BestBlockUpdated(tipHeader, tipHeight)
	}
	return nil
}

func (s *electrumChainSource) estimateFees(ctx context.Context,
	targets []feerate.Target) (map[feerate.Target]chainio.FeeRateSatPerKw, error) {

	client, err := s.client()
	if err != nil {
		return nil, err
	}

	out := make(map[feerate.Target]chainio.FeeRateSatPerKw, len(targets))
	for _, target := range targets {
		numBlocks := feerate.GetNumBlockDefaultsForTarget(target)
		satPerKB, err := client.EstimateFee(ctx, numBlocks)
		if err != nil {
			return nil, err
		}
		if satPerKB <= 0 {
			out[target] = chainio.FeeRateSatPerKw(250)
			continue
		}
		out[target] = chainio.SatPerVByteToSatPerKw(satPerKB * 1e8 / 1000)
	}
	return out, nil
}

func (s *electrumChainSource) broadcast(ctx context.Context, pkg chainio.Package) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	for _, tx := range pkg {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return fmt.Errorf("electrum: serializing %s: %w", tx.TxHash(), err)
		}
		if _, err := client.BroadcastTransaction(ctx, hex.EncodeToString(buf.Bytes())); err != nil {
			return err
		}
	}
	return nil
}
