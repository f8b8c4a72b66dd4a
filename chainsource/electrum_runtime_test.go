package chainsource

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainsource/lnchain/chainio"
	"github.com/stretchr/testify/require"
)

type fakeElectrumClient struct {
	registeredTxs     []chainhash.Hash
	registeredOutputs []chainio.WatchedOutput
}

func (f *fakeElectrumClient) RegisterTx(txid chainhash.Hash) error {
	f.registeredTxs = append(f.registeredTxs, txid)
	return nil
}

func (f *fakeElectrumClient) RegisterOutput(output chainio.WatchedOutput) error {
	f.registeredOutputs = append(f.registeredOutputs, output)
	return nil
}

func TestElectrumRuntimeQueuesRegistrationsWhileStopped(t *testing.T) {
	s := NewElectrumRuntimeState()

	var txid chainhash.Hash
	txid[0] = 1
	require.NoError(t, s.RegisterTx(txid))
	require.NoError(t, s.RegisterOutput(chainio.WatchedOutput{Script: []byte{0xaa}}))

	_, started := s.Client()
	require.False(t, started)
}

func TestElectrumRuntimeReplaysQueuedRegistrationsOnStart(t *testing.T) {
	s := NewElectrumRuntimeState()

	var txid1, txid2 chainhash.Hash
	txid1[0], txid2[0] = 1, 2
	require.NoError(t, s.RegisterTx(txid1))
	require.NoError(t, s.RegisterTx(txid2))
	require.NoError(t, s.RegisterOutput(chainio.WatchedOutput{Script: []byte{0xbb}}))

	client := &fakeElectrumClient{}
	require.NoError(t, s.Start(client))

	require.Equal(t, []chainhash.Hash{txid1, txid2}, client.registeredTxs,
		"queued tx registrations must replay in FIFO order")
	require.Len(t, client.registeredOutputs, 1)

	liveClient, started := s.Client()
	require.True(t, started)
	require.Same(t, client, liveClient)
}

func TestElectrumRuntimeRegistersDirectlyOnceStarted(t *testing.T) {
	s := NewElectrumRuntimeState()
	client := &fakeElectrumClient{}
	require.NoError(t, s.Start(client))

	var txid chainhash.Hash
	txid[0] = 9
	require.NoError(t, s.RegisterTx(txid))
	require.Equal(t, []chainhash.Hash{txid}, client.registeredTxs)
}

func TestElectrumRuntimeStartTwiceIsAnError(t *testing.T) {
	s := NewElectrumRuntimeState()
	first := &fakeElectrumClient{}
	require.NoError(t, s.Start(first))

	second := &fakeElectrumClient{}
	err := s.Start(second)
	require.Error(t, err, "starting an already-started runtime is a programmer error")

	liveClient, started := s.Client()
	require.True(t, started)
	require.Same(t, first, liveClient, "a rejected Start must not replace the live client")
}

func TestElectrumRuntimeQueuesAgainAfterStop(t *testing.T) {
	s := NewElectrumRuntimeState()
	client := &fakeElectrumClient{}
	require.NoError(t, s.Start(client))
	s.Stop()

	var txid chainhash.Hash
	txid[0] = 3
	require.NoError(t, s.RegisterTx(txid))
	require.Empty(t, client.registeredTxs, "registrations after Stop must not reach the old client")

	_, started := s.Client()
	require.False(t, started)
}
