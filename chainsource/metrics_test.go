package chainsource

import (
	"testing"

	"github.com/chainsource/lnchain/chainio"
	"github.com/stretchr/testify/require"
)

type fakePersistence struct {
	snapshots []chainio.NodeMetricsSnapshot
}

func (f *fakePersistence) WriteNodeMetrics(s chainio.NodeMetricsSnapshot) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

func TestNodeMetricsPersistsOnEverySuccessfulUpdate(t *testing.T) {
	persist := &fakePersistence{}
	m := NewNodeMetrics(persist)

	require.NoError(t, m.SetOnchainWalletSyncTimestamp(42))
	require.Len(t, persist.snapshots, 1)
	require.Equal(t, uint64(42), *persist.snapshots[0].LatestOnchainWalletSyncTimestamp)

	require.NoError(t, m.SetLightningWalletSyncTimestamp(43))
	require.Len(t, persist.snapshots, 2)
	require.Equal(t, uint64(42), *persist.snapshots[1].LatestOnchainWalletSyncTimestamp,
		"second persist must still include the first field's value")
}

func TestArchivalHeightSkipsWithinInterval(t *testing.T) {
	persist := &fakePersistence{}
	m := NewNodeMetrics(persist)

	calls := 0
	archive := func(last *int32) (*int32, error) {
		calls++
		h := int32(100)
		return &h, nil
	}

	require.NoError(t, m.WithChannelMonitorArchivalHeight(archive))
	require.Equal(t, 1, calls)
	require.Len(t, persist.snapshots, 1)

	tooSoon := func(last *int32) (*int32, error) {
		require.NotNil(t, last)
		if *last+ResolvedChannelMonitorArchivalInterval > 101 {
			return nil, nil
		}
		h := int32(101)
		return &h, nil
	}
	require.NoError(t, m.WithChannelMonitorArchivalHeight(tooSoon))
	require.Len(t, persist.snapshots, 1, "a height inside the interval must not persist again")
}
