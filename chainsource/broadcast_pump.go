package chainsource

import (
	"context"
	"time"

	"github.com/chainsource/lnchain/chainio"
)

// broadcastFn submits a single package to a backend and reports whether it
// succeeded. Each backend source supplies its own: Esplora posts each
// transaction in the package and treats an HTTP 400 response as a
// trace-level "already known/conflicting" signal rather than an error,
// since a concurrent broadcaster elsewhere in the network commonly beats
// the node to the punch; Electrum does a plain broadcast per transaction;
// Bitcoind submits via RPC and asserts the node's returned txid matches
// the one the caller computed, logging (never panicking) if they
// disagree.
type broadcastFn func(ctx context.Context, pkg chainio.Package) error

// BroadcastPump drains a backend's broadcast queue one package at a time,
// in submission order, bounding each attempt with a timeout.
type BroadcastPump struct {
	broadcast broadcastFn
	timeout   time.Duration
}

// NewBroadcastPump wires a pump against the given per-package broadcast
// function.
func NewBroadcastPump(broadcast broadcastFn, timeout time.Duration) *BroadcastPump {
	return &BroadcastPump{broadcast: broadcast, timeout: timeout}
}

// Run drains queue until it is closed or ctx is canceled, broadcasting
// each package in order. A failed broadcast is logged and the pump moves
// on to the next package rather than blocking the queue indefinitely --
// broadcast is best-effort; the caller that originally queued the package
// is responsible for retrying if it still cares.
func (p *BroadcastPump) Run(ctx context.Context, queue <-chan chainio.Package) {
	for {
		select {
		case <-ctx.Done():
			return

		case pkg, ok := <-queue:
			if !ok {
				return
			}
			if err := p.broadcastOne(ctx, pkg); err != nil {
				log.Errorf("broadcast failed: %v", err)
			}
		}
	}
}

func (p *BroadcastPump) broadcastOne(ctx context.Context, pkg chainio.Package) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.broadcast(ctx, pkg) }()

	select {
	case <-ctx.Done():
		return newError(WalletOperationTimeout, ctx.Err())
	case err := <-errCh:
		if err != nil {
			return newError(WalletOperationFailed, err)
		}
		return nil
	}
}
