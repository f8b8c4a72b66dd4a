package chainsource

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/chainsource/lnchain/chainio"
)

// ElectrumClient is the subset of electrum.Client the runtime state needs
// to drive registrations once a client exists. Declared here, not in
// package electrum, so electrum_runtime.go has no import-cycle dependency
// on the concrete client package; electrum.Client satisfies it.
type ElectrumClient interface {
	RegisterTx(txid chainhash.Hash) error
	RegisterOutput(output chainio.WatchedOutput) error
}

// ElectrumRuntimeState holds the deferred-start Electrum client plus, while
// stopped, the FIFO of tx/output registrations callers have made that must
// be replayed against the client the moment it starts. Started/Stopped is
// modeled as a started bool plus the fields each state uses, guarded by
// one mutex, since Go has no sum type to carry the client only in the
// Started case.
type ElectrumRuntimeState struct {
	mu      sync.Mutex
	started bool
	client  ElectrumClient

	pendingTxs     []chainhash.Hash
	pendingOutputs []chainio.WatchedOutput
}

// NewElectrumRuntimeState returns a runtime state in the Stopped position,
// ready to queue registrations until Start is called.
func NewElectrumRuntimeState() *ElectrumRuntimeState {
	return &ElectrumRuntimeState{}
}

// Start transitions the runtime into the Started position, replaying every
// queued registration against client in the order it was received --
// transactions first, then outputs. Calling Start while already started is
// a programmer error -- the caller has lost track of the chain source's
// lifecycle -- so it's logged and returned as an internal-invariant
// violation rather than silently accepted.
func (s *ElectrumRuntimeState) Start(client ElectrumClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		log.Errorf("electrum runtime Start called while already started")
		return bugf("electrum runtime started twice")
	}

	for _, txid := range s.pendingTxs {
		if err := client.RegisterTx(txid); err != nil {
			return newError(WalletOperationFailed, err)
		}
	}
	for _, out := range s.pendingOutputs {
		if err := client.RegisterOutput(out); err != nil {
			return newError(WalletOperationFailed, err)
		}
	}

	s.client = client
	s.started = true
	s.pendingTxs = nil
	s.pendingOutputs = nil
	return nil
}

// Stop transitions the runtime back into the Stopped position, dropping
// the client reference. Registrations made after this point are queued
// again until the next Start.
func (s *ElectrumRuntimeState) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client = nil
	s.started = false
}

// Client returns the live client and true if the runtime is currently
// started, or (nil, false) otherwise.
func (s *ElectrumRuntimeState) Client() (ElectrumClient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.started
}

// RegisterTx registers txid against the live client if started, or queues
// it for replay on the next Start otherwise.
func (s *ElectrumRuntimeState) RegisterTx(txid chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.client.RegisterTx(txid)
	}
	s.pendingTxs = append(s.pendingTxs, txid)
	return nil
}

// RegisterOutput registers output against the live client if started, or
// queues it for replay on the next Start otherwise.
func (s *ElectrumRuntimeState) RegisterOutput(output chainio.WatchedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.client.RegisterOutput(output)
	}
	s.pendingOutputs = append(s.pendingOutputs, output)
	return nil
}
