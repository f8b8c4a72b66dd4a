package chainsource

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
	"github.com/chainsource/lnchain/chainsource/esplora"
	"github.com/chainsource/lnchain/feerate"
)

// esploraChainSource is the Esplora HTTP backend variant of ChainSource.
type esploraChainSource struct {
	client *esplora.Client
	cfg    Config
	sink   *FilterSink
}

// NewEsplora constructs an Esplora-backed ChainSource talking to the
// configured server URL.
func NewEsplora(cfg Config) ChainSource {
	client := esplora.NewClient(cfg.esploraServerURL(), BdkClientConcurrency,
		DefaultEsploraClientTimeoutSecs)

	return &esploraChainSource{
		client: client,
		cfg:    cfg,
		sink:   NewFilterSink(nil, nil),
	}
}

func (s *esploraChainSource) Start(ctx context.Context) error { return nil }
func (s *esploraChainSource) Stop()                            {}

func (s *esploraChainSource) Filter() *FilterSink { return s.sink }

func (s *esploraChainSource) ContinuouslySyncWallets(ctx context.Context, c Collaborators) {
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

func (s *esploraChainSource) ProcessBroadcastQueue(ctx context.Context, c Collaborators) {
	pump := NewBroadcastPump(s.broadcast, TxBroadcastTimeoutSecs)
	pump.Run(ctx, c.Broadcaster.BroadcastQueue())
}

// scanWallet performs a bdk_esplora-equivalent scan: for every script the
// wallet asked about, fetch its address history from Esplora, pull the
// raw transaction for each entry, and bucket it as confirmed (by height)
// or unconfirmed. The script-derivation and gap-limit walking that decide
// which scripts go into req remain the wallet's own concern; this chain
// source only executes the scan Esplora can answer, over addresses since
// that's how Esplora indexes history.
func (s *esploraChainSource) scanWallet(ctx context.Context, req chainio.ScanRequest) (chainio.WalletUpdate, error) {
	target, ok := req.(*chainio.ScriptScanRequest)
	if !ok {
		return nil, fmt.Errorf("esplora: scan request has unexpected type %T", req)
	}

	update := &chainio.ScanUpdate{Confirmed: make(map[int32][]*wire.MsgTx)}

	for _, script := range target.Scripts {
		addr, err := scriptToAddress(script, s.cfg.Network)
		if err != nil {
			// Non-standard scripts (e.g. a raw funding output) have no
			// Esplora-indexable address; the wallet didn't mean for
			// this chain source to watch those via address history.
			continue
		}

		history, err := s.client.GetAddressTxHistory(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("esplora: fetching history for %s: %w", addr, err)
		}

		for _, entry := range history {
			tx, err := s.client.GetTx(ctx, entry.Txid)
			if err != nil {
				return nil, fmt.Errorf("esplora: fetching tx %s: %w", entry.Txid, err)
			}
			if entry.Confirmed {
				update.Confirmed[entry.BlockHeight] = append(update.Confirmed[entry.BlockHeight], tx)
			} else {
				update.Unconfirmed = append(update.Unconfirmed, tx)
			}
		}
	}

	tip, err := s.currentTip(ctx)
	if err != nil {
		return nil, err
	}
	update.Tip = tip

	return update, nil
}

// syncConfirmables drives the Lightning-side listeners' Confirm interface
// against this Esplora server: for every txid a listener considers
// relevant, fetch its current status and report it confirmed or
// unconfirmed accordingly, then report the server's current tip.
func (s *esploraChainSource) syncConfirmables(ctx context.Context, confirmables []chainio.Confirm) error {
	tip, err := s.currentTip(ctx)
	if err != nil {
		return err
	}
	tipHeader, err := s.client.GetBlockHeader(ctx, tip.Hash.String())
	if err != nil {
		return fmt.Errorf("esplora: fetching tip header: %w", err)
	}

	for _, confirmable := range confirmables {
		confirmedByHeight := make(map[int32][]*wire.MsgTx)
		confirmedHash := make(map[int32]string)
		var unconfirmed []chainhash.Hash

		for _, txid := range confirmable.RelevantTxids() {
			status, err := s.client.GetTxStatus(ctx, txid.String())
			if err != nil {
				return fmt.Errorf("esplora: fetching status for %s: %w", txid, err)
			}
			if !status.Confirmed {
				unconfirmed = append(unconfirmed, txid)
				continue
			}

			tx, err := s.client.GetTx(ctx, txid.String())
			if err != nil {
				return fmt.Errorf("esplora: fetching tx %s: %w", txid, err)
			}
			confirmedByHeight[status.BlockHeight] = append(confirmedByHeight[status.BlockHeight], tx)
			confirmedHash[status.BlockHeight] = status.BlockHash
		}

		for height, txs := range confirmedByHeight {
			header := tipHeader
			if height != tip.Height {
				h, err := s.client.GetBlockHeader(ctx, confirmedHash[height])
				if err != nil {
					return fmt.Errorf("esplora: fetching header for height %d: %w", height, err)
				}
				header = h
			}
			confirmable.TransactionsConfirmed(header, height, txs)
		}
		if len(unconfirmed) > 0 {
			confirmable.TransactionsUnconfirmed(unconfirmed)
		}
		confirmable.BestBlockUpdated(tipHeader, tip.Height)
	}
	return nil
}

// currentTip fetches the server's current best block hash and height.
func (s *esploraChainSource) currentTip(ctx context.Context) (chainio.BestBlock, error) {
	height, err := s.client.GetTipHeight(ctx)
	if err != nil {
		return chainio.BestBlock{}, fmt.Errorf("esplora: fetching tip height: %w", err)
	}
	hashHex, err := s.client.GetTipHash(ctx)
	if err != nil {
		return chainio.BestBlock{}, fmt.Errorf("esplora: fetching tip hash: %w", err)
	}
	hash, err := chainhash.NewHashFromStr(hashHex)
	if err != nil {
		return chainio.BestBlock{}, fmt.Errorf("esplora: decoding tip hash: %w", err)
	}
	return chainio.BestBlock{Hash: *hash, Height: height}, nil
}

// scriptToAddress extracts the single standard address a pay-to-* script
// pays to, for address-indexed backends like Esplora. Non-standard or
// multi-address scripts return an error; callers skip those.
func scriptToAddress(script []byte, network Network) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, network.params())
	if err != nil {
		return "", err
	}
	if len(addrs) != 1 {
		return "", fmt.Errorf("esplora: script does not resolve to exactly one address")
	}
	return addrs[0].EncodeAddress(), nil
}

// estimateFees fetches Esplora's block-target fee-estimates map and
// converts it to the per-ConfirmationTarget sat/kwu map the updater
// expects: a single GET /fee-estimates response is reused for every
// target.
func (s *esploraChainSource) estimateFees(ctx context.Context,
	targets []feerate.Target) (map[feerate.Target]chainio.FeeRateSatPerKw, error) {

	raw, err := s.client.GetFeeEstimates(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("esplora: server returned no fee estimates")
	}

	out := make(map[feerate.Target]chainio.FeeRateSatPerKw, len(targets))
	for _, target := range targets {
		numBlocks := feerate.GetNumBlockDefaultsForTarget(target)
		satPerVByte, ok := raw[numBlocks]
		if !ok {
			satPerVByte = 1.0
		}
		out[target] = chainio.SatPerVByteToSatPerKw(satPerVByte)
	}
	return out, nil
}

// broadcast submits every transaction in pkg in order. An HTTP 400 from
// Esplora means the server already knows about (or rejects as
// conflicting with) the transaction, which is routine when another path
// beat this node to relaying it, so it's logged at trace level rather
// than surfaced as a broadcast failure. Any other failure does not stop the
// remaining transactions from being submitted; it is logged and the first
// such error is returned once every transaction has been tried.
func (s *esploraChainSource) broadcast(ctx context.Context, pkg chainio.Package) error {
	var firstErr error
	for _, tx := range pkg {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			err = fmt.Errorf("esplora: serializing %s: %w", tx.TxHash(), err)
			log.Errorf("%v", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		txHex := hex.EncodeToString(buf.Bytes())

		err := s.client.BroadcastTx(ctx, txHex)
		if err == nil {
			continue
		}

		var statusErr *esplora.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 400 {
			log.Tracef("esplora: broadcast of %s returned HTTP 400 (%s), "+
				"treating as already-known", tx.TxHash(), statusErr.Body)
			continue
		}
		log.Errorf("esplora: broadcast of %s failed: %v", tx.TxHash(), err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
