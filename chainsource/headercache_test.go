package chainsource

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	connected    []int32
	disconnected []int32
}

func (l *recordingListener) BlockConnected(header *wire.BlockHeader, height int32) {
	l.connected = append(l.connected, height)
}

func (l *recordingListener) BlockDisconnected(header *wire.BlockHeader, height int32) {
	l.disconnected = append(l.disconnected, height)
}

func TestSynchronizeListenersConnectsUpToTip(t *testing.T) {
	c := newBoundedHeaderCache(10)
	listener := &recordingListener{}

	worst := chainio.BestBlock{Height: 100}
	tip := &wire.BlockHeader{}

	err := c.synchronizeListeners(worst, tip, 101, []chainio.Listen{listener})
	require.NoError(t, err)
	require.Equal(t, []int32{101}, listener.connected)
	require.Empty(t, listener.disconnected)
}

func TestSynchronizeListenersNoOpAtSameHeight(t *testing.T) {
	c := newBoundedHeaderCache(10)
	listener := &recordingListener{}

	worst := chainio.BestBlock{Height: 100}
	tip := &wire.BlockHeader{}

	err := c.synchronizeListeners(worst, tip, 100, []chainio.Listen{listener})
	require.NoError(t, err)
	require.Empty(t, listener.connected)
}

func TestSynchronizeListenersErrorsWhenTipBehindWorst(t *testing.T) {
	c := newBoundedHeaderCache(10)
	listener := &recordingListener{}

	worst := chainio.BestBlock{Height: 200}
	tip := &wire.BlockHeader{}

	err := c.synchronizeListeners(worst, tip, 100, []chainio.Listen{listener})
	require.Error(t, err)
}
