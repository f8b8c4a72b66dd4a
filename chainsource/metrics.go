package chainsource

import (
	"sync"

	"github.com/chainsource/lnchain/chainio"
)

// NodeMetrics tracks process-wide, monotonically-updated sync timestamps
// and the last channel-monitor-archival height, guarded by a single mutex.
// Every successful unit of work (an on-chain sync, a Lightning sync, a fee
// update, an archival sweep) updates its field and persists the whole
// snapshot before releasing the lock, so a crash can never observe a
// timestamp bump without its matching disk write.
type NodeMetrics struct {
	mu sync.Mutex

	latestOnchainWalletSyncTimestamp   *uint64
	latestLightningWalletSyncTimestamp *uint64
	latestFeeRateCacheUpdateTimestamp  *uint64
	latestChannelMonitorArchivalHeight *int32

	persist chainio.Persistence
}

// NewNodeMetrics constructs metrics backed by the given persistence
// collaborator. persist may be nil in tests that don't care about
// durability.
func NewNodeMetrics(persist chainio.Persistence) *NodeMetrics {
	return &NodeMetrics{persist: persist}
}

func (m *NodeMetrics) snapshotLocked() chainio.NodeMetricsSnapshot {
	return chainio.NodeMetricsSnapshot{
		LatestOnchainWalletSyncTimestamp:   m.latestOnchainWalletSyncTimestamp,
		LatestLightningWalletSyncTimestamp: m.latestLightningWalletSyncTimestamp,
		LatestFeeRateCacheUpdateTimestamp:  m.latestFeeRateCacheUpdateTimestamp,
		LatestChannelMonitorArchivalHeight: m.latestChannelMonitorArchivalHeight,
	}
}

// persistLocked writes the current snapshot while mu is already held. A
// persistence failure is logged by the caller's driver, not here, so
// metrics.go stays free of a logger dependency.
func (m *NodeMetrics) persistLocked() error {
	if m.persist == nil {
		return nil
	}
	if err := m.persist.WriteNodeMetrics(m.snapshotLocked()); err != nil {
		return newError(PersistenceFailed, err)
	}
	return nil
}

// SetOnchainWalletSyncTimestamp records ts and persists the full metrics
// snapshot.
func (m *NodeMetrics) SetOnchainWalletSyncTimestamp(ts uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestOnchainWalletSyncTimestamp = &ts
	return m.persistLocked()
}

// SetLightningWalletSyncTimestamp records ts and persists the full metrics
// snapshot.
func (m *NodeMetrics) SetLightningWalletSyncTimestamp(ts uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestLightningWalletSyncTimestamp = &ts
	return m.persistLocked()
}

// SetFeeRateCacheUpdateTimestamp records ts and persists the full metrics
// snapshot.
func (m *NodeMetrics) SetFeeRateCacheUpdateTimestamp(ts uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestFeeRateCacheUpdateTimestamp = &ts
	return m.persistLocked()
}

// WithChannelMonitorArchivalHeight runs fn while holding the metrics lock,
// passing it the last recorded archival height (nil if none yet). If fn
// returns a non-nil newHeight, that height is recorded and the snapshot is
// persisted before the lock is released, so the height check, the archive
// call and the persist all happen atomically and no other writer can
// observe a half-updated state.
func (m *NodeMetrics) WithChannelMonitorArchivalHeight(
	fn func(last *int32) (newHeight *int32, err error)) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	newHeight, err := fn(m.latestChannelMonitorArchivalHeight)
	if err != nil {
		return err
	}
	if newHeight == nil {
		return nil
	}
	m.latestChannelMonitorArchivalHeight = newHeight
	return m.persistLocked()
}

// LatestOnchainWalletSyncTimestamp returns the last recorded timestamp, or
// nil if none has been recorded yet.
func (m *NodeMetrics) LatestOnchainWalletSyncTimestamp() *uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestOnchainWalletSyncTimestamp
}

// LatestLightningWalletSyncTimestamp returns the last recorded timestamp,
// or nil if none has been recorded yet.
func (m *NodeMetrics) LatestLightningWalletSyncTimestamp() *uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLightningWalletSyncTimestamp
}
