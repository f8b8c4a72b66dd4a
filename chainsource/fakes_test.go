package chainsource

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
)

// fakeNetError is a minimal net.Error implementation for exercising
// isTransientPollError without dialing anything real.
type fakeNetError struct{ msg string }

func (e *fakeNetError) Error() string   { return e.msg }
func (e *fakeNetError) Timeout() bool   { return true }
func (e *fakeNetError) Temporary() bool { return true }

// fakeBestBlockListener satisfies chainio.BestBlockProvider and
// chainio.Listen with a settable best block and recorded connect/disconnect
// calls, the shared shape every Lightning-side collaborator fake embeds.
type fakeBestBlockListener struct {
	mu           sync.Mutex
	best         chainio.BestBlock
	connected    []int32
	disconnected []int32
}

func (f *fakeBestBlockListener) CurrentBestBlock() chainio.BestBlock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best
}

func (f *fakeBestBlockListener) BlockConnected(header *wire.BlockHeader, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, height)
	f.best = chainio.BestBlock{Hash: header.BlockHash(), Height: height}
}

func (f *fakeBestBlockListener) BlockDisconnected(header *wire.BlockHeader, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, height)
}

// fakeConfirmable satisfies chainio.Confirm on top of fakeBestBlockListener,
// the shape channel manager/chain monitor/sweeper fakes share.
type fakeConfirmable struct {
	fakeBestBlockListener

	relevantTxids []chainhash.Hash

	confirmedHeights []int32
	unconfirmedCalls [][]chainhash.Hash
	bestUpdatedCalls []int32
}

func (f *fakeConfirmable) RelevantTxids() []chainhash.Hash {
	return f.relevantTxids
}

func (f *fakeConfirmable) TransactionsConfirmed(header *wire.BlockHeader, height int32, txs []*wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmedHeights = append(f.confirmedHeights, height)
}

func (f *fakeConfirmable) TransactionsUnconfirmed(txids []chainhash.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unconfirmedCalls = append(f.unconfirmedCalls, txids)
}

func (f *fakeConfirmable) BestBlockUpdated(header *wire.BlockHeader, height int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bestUpdatedCalls = append(f.bestUpdatedCalls, height)
}

// fakeChannelManager and fakeSweeper are plain fakeConfirmables; the
// interfaces are identical so no extra methods are needed.
type fakeChannelManager struct{ fakeConfirmable }
type fakeSweeper struct{ fakeConfirmable }

// fakeChainMonitor adds the two ChainMonitor-only methods on top of
// fakeConfirmable.
type fakeChainMonitor struct {
	fakeConfirmable

	archiveCalls int
	archiveErr   error
}

func (f *fakeChainMonitor) ListMonitors() map[wire.OutPoint]chainio.Monitor {
	return nil
}

func (f *fakeChainMonitor) ArchiveFullyResolvedChannelMonitors() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archiveCalls++
	return f.archiveErr
}

// fakeWallet satisfies chainio.Wallet.
type fakeWallet struct {
	fakeBestBlockListener

	fullScanRequest        chainio.ScanRequest
	incrementalScanRequest chainio.ScanRequest

	applyUpdateErr error
	appliedUpdates []chainio.WalletUpdate

	unconfirmedTxids []chainhash.Hash
	applyMempoolErr  error
	appliedNewTxs    [][]*wire.MsgTx
	appliedEvicted   [][]chainhash.Hash
}

func (f *fakeWallet) GetFullScanRequest() chainio.ScanRequest        { return f.fullScanRequest }
func (f *fakeWallet) GetIncrementalSyncRequest() chainio.ScanRequest { return f.incrementalScanRequest }

func (f *fakeWallet) ApplyUpdate(update chainio.WalletUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedUpdates = append(f.appliedUpdates, update)
	return f.applyUpdateErr
}

func (f *fakeWallet) GetCachedTxs() []*wire.MsgTx { return nil }

func (f *fakeWallet) GetUnconfirmedTxids() []chainhash.Hash {
	return f.unconfirmedTxids
}

func (f *fakeWallet) ApplyMempoolTxs(newTxs []*wire.MsgTx, evicted []chainhash.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appliedNewTxs = append(f.appliedNewTxs, newTxs)
	f.appliedEvicted = append(f.appliedEvicted, evicted)
	return f.applyMempoolErr
}

// headerResult is one scripted response for fakeHeaderSource.
type headerResult struct {
	header *wire.BlockHeader
	height int32
	err    error
}

// fakeHeaderSource satisfies HeaderSource with a scripted sequence of
// results: each call consumes the next entry, repeating the last one once
// exhausted. hook, if set, runs synchronously before the result is
// returned, letting a test observe or gate each call.
type fakeHeaderSource struct {
	mu      sync.Mutex
	results []headerResult
	calls   int
	hook    func()
}

func (f *fakeHeaderSource) GetBestBlockHeader(ctx context.Context) (*wire.BlockHeader, int32, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	res := f.results[idx]
	return res.header, res.height, res.err
}

func (f *fakeHeaderSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeMempoolSource satisfies MempoolSource, always reporting no mempool
// change.
type fakeMempoolSource struct{}

func (f *fakeMempoolSource) GetUpdatedMempoolTransactions(ctx context.Context,
	knownUnconfirmed []chainhash.Hash) ([]*wire.MsgTx, []chainhash.Hash, error) {
	return nil, nil, nil
}
