package lnchain

import (
	"context"

	"github.com/chainsource/lnchain/chainsource"
	"golang.org/x/sync/errgroup"
)

// RunChainSource drives source's two independent background jobs --
// continuous wallet syncing and broadcast-queue draining -- concurrently,
// returning once both have exited. Both jobs run for the lifetime of ctx;
// cancel ctx to shut the chain source down.
//
// errgroup.Group is used rather than a bare sync.WaitGroup because its
// "wait for both, cancel the derived ctx on first error" shape is exactly
// what two top-level, never-expected-to-return jobs need, without pulling
// in a full task-supervision framework for just two goroutines.
func RunChainSource(ctx context.Context, source chainsource.ChainSource,
	collaborators chainsource.Collaborators) error {

	if err := source.Start(ctx); err != nil {
		return err
	}
	defer source.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		source.ContinuouslySyncWallets(ctx, collaborators)
		return ctx.Err()
	})

	g.Go(func() error {
		source.ProcessBroadcastQueue(ctx, collaborators)
		return ctx.Err()
	})

	return g.Wait()
}
