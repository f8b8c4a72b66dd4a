package chainsource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
	"github.com/stretchr/testify/require"
)

func TestBroadcastPumpDrainsQueueInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []chainio.Package

	broadcast := func(ctx context.Context, pkg chainio.Package) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, pkg)
		return nil
	}

	pump := NewBroadcastPump(broadcast, time.Second)
	queue := make(chan chainio.Package, 2)
	pkg1 := chainio.Package{&wire.MsgTx{Version: 1}}
	pkg2 := chainio.Package{&wire.MsgTx{Version: 2}}
	queue <- pkg1
	queue <- pkg2
	close(queue)

	done := make(chan struct{})
	go func() {
		pump.Run(context.Background(), queue)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump.Run did not return after queue closed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []chainio.Package{pkg1, pkg2}, seen)
}

func TestBroadcastPumpContinuesAfterFailure(t *testing.T) {
	var mu sync.Mutex
	var seen []chainio.Package

	broadcast := func(ctx context.Context, pkg chainio.Package) error {
		mu.Lock()
		defer mu.Unlock()
		if len(pkg) > 0 && pkg[0].Version == 1 {
			return errors.New("rejected")
		}
		seen = append(seen, pkg)
		return nil
	}

	pump := NewBroadcastPump(broadcast, time.Second)
	queue := make(chan chainio.Package, 2)
	queue <- chainio.Package{&wire.MsgTx{Version: 1}}
	pkg2 := chainio.Package{&wire.MsgTx{Version: 2}}
	queue <- pkg2
	close(queue)

	done := make(chan struct{})
	go func() {
		pump.Run(context.Background(), queue)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump.Run did not return after queue closed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []chainio.Package{pkg2}, seen,
		"a failed broadcast must not block subsequent packages")
}

func TestBroadcastPumpStopsOnContextCancellation(t *testing.T) {
	block := make(chan struct{})
	broadcast := func(ctx context.Context, pkg chainio.Package) error {
		<-block
		return nil
	}

	pump := NewBroadcastPump(broadcast, time.Second)
	queue := make(chan chainio.Package, 1)
	queue <- chainio.Package{&wire.MsgTx{Version: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pump.Run(ctx, queue)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump.Run did not return after context cancellation")
	}
	close(block)
}

func TestBroadcastPumpTimesOutSlowBroadcast(t *testing.T) {
	block := make(chan struct{})
	broadcast := func(ctx context.Context, pkg chainio.Package) error {
		<-block
		return nil
	}
	defer close(block)

	pump := NewBroadcastPump(broadcast, 10*time.Millisecond)
	err := pump.broadcastOne(context.Background(), chainio.Package{&wire.MsgTx{Version: 1}})

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	require.Equal(t, WalletOperationTimeout, csErr.Code)
}
