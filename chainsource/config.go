package chainsource

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Config bundles the tunables every chain source backend reads from. An
// unset EsploraServerURL falls back to DefaultEsploraServerURL, and unset
// or too-small intervals are raised to their minimums: a plain struct with
// package-level defaults rather than a config-builder type.
type Config struct {
	// Network selects the Bitcoind backend's fee-rate fallback behavior
	// (see estimateBitcoindFees in bitcoind_source.go) and the address
	// derivation used to resolve watched scripts against an Esplora
	// server's address-indexed history.
	Network Network

	// WalletSyncIntervalSecs sets the on-chain and Lightning wallet sync
	// tick interval, raised to at least WalletSyncIntervalMinimumSecs; see
	// walletSyncInterval.
	WalletSyncIntervalSecs uint64

	// FeeRateCacheUpdateIntervalSecs sets the fee-rate tick interval,
	// raised to at least one minute; see feeRateCacheUpdateInterval.
	FeeRateCacheUpdateIntervalSecs uint64

	// EsploraServerURL is used only by the Esplora backend.
	EsploraServerURL string
}

// Network is the Bitcoin network a chain source is configured against. It
// affects the Bitcoind fee-estimation fallback and the address encoding
// used for Esplora history lookups, never consensus behavior.
type Network int

const (
	Bitcoin Network = iota
	Testnet
	Signet
	Regtest
)

// params returns the chaincfg.Params matching n, used to derive addresses
// from watched scripts for backends (Esplora) that index transaction
// history by address rather than by script or scripthash.
func (n Network) params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Signet:
		return &chaincfg.SigNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// Timing and sizing constants governing the concurrency and backoff
// behavior of the sync drivers and backend clients.
const (
	// ChainPollingIntervalSecs is the Bitcoind poller's steady-state tick.
	ChainPollingIntervalSecs = 2 * time.Second

	// MaxBackoffSecs caps the exponential backoff used during a
	// Bitcoind backend's initial catch-up.
	MaxBackoffSecs = 300 * time.Second

	// WalletSyncIntervalMinimumSecs is the floor applied to a
	// user-configured on-chain/Lightning wallet sync interval.
	WalletSyncIntervalMinimumSecs = 10 * time.Second

	// BdkWalletSyncTimeoutSecs bounds a single Esplora/Electrum on-chain
	// wallet sync call.
	BdkWalletSyncTimeoutSecs = 90 * time.Second

	// BdkClientConcurrency is the number of parallel requests the
	// Esplora HTTP client may issue during a scan.
	BdkClientConcurrency = 4

	// BdkClientStopGap is the stop-gap value for full scans: the number
	// of consecutive unused addresses to probe on a derivation chain.
	// Nothing in this module reads it; which scripts a scan covers is
	// decided by the wallet's own scan request.
	BdkClientStopGap = 20

	// LdkWalletSyncTimeoutSecs bounds a single Lightning wallet
	// (Confirm-capable) sync call.
	LdkWalletSyncTimeoutSecs = 90 * time.Second

	// FeeRateCacheUpdateTimeoutSecs bounds one fee-rate estimation round.
	FeeRateCacheUpdateTimeoutSecs = 15 * time.Second

	// TxBroadcastTimeoutSecs bounds one broadcast call to a backend.
	TxBroadcastTimeoutSecs = 30 * time.Second

	// ResolvedChannelMonitorArchivalInterval is the minimum number of
	// blocks that must elapse between two monitor-archival sweeps.
	ResolvedChannelMonitorArchivalInterval = 4032

	// DefaultEsploraServerURL is used when Config.EsploraServerURL is
	// empty.
	DefaultEsploraServerURL = "https://blockstream.info/api"

	// DefaultEsploraClientTimeoutSecs bounds any single Esplora HTTP
	// request, independent of the higher-level wallet-sync timeout.
	DefaultEsploraClientTimeoutSecs = 10 * time.Second
)

// walletSyncInterval floors cfg's configured interval at
// WalletSyncIntervalMinimumSecs rather than rejecting an under-range
// config outright.
func (c Config) walletSyncInterval() time.Duration {
	d := time.Duration(c.WalletSyncIntervalSecs) * time.Second
	if d < WalletSyncIntervalMinimumSecs {
		return WalletSyncIntervalMinimumSecs
	}
	return d
}

// feeRateCacheUpdateInterval floors cfg's configured interval the same way
// walletSyncInterval does, against a one-minute minimum -- fee estimates
// are cheap but hammering a backend every few seconds serves nobody.
func (c Config) feeRateCacheUpdateInterval() time.Duration {
	d := time.Duration(c.FeeRateCacheUpdateIntervalSecs) * time.Second
	const minimum = 60 * time.Second
	if d < minimum {
		return minimum
	}
	return d
}

func (c Config) esploraServerURL() string {
	if c.EsploraServerURL == "" {
		return DefaultEsploraServerURL
	}
	return c.EsploraServerURL
}
