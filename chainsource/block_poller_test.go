package chainsource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newTestDriver(headers *fakeHeaderSource, wallet *fakeWallet) (*BlockPollingDriver,
	*fakeChannelManager, *fakeSweeper, *fakeChainMonitor) {

	cm := &fakeChannelManager{}
	sw := &fakeSweeper{}
	mon := &fakeChainMonitor{}

	driver := NewBlockPollingDriver(headers, &fakeMempoolSource{}, wallet, cm, sw, mon,
		NewNodeMetrics(nil))
	return driver, cm, sw, mon
}

func TestIsTransientPollErrorClassification(t *testing.T) {
	require.True(t, isTransientPollError(&fakeNetError{msg: "dial timeout"}),
		"a net.Error must classify as transient")
	require.True(t, isTransientPollError(newError(WalletOperationFailed, &fakeNetError{msg: "x"})),
		"a net.Error wrapped by *Error must still classify as transient")
	require.False(t, isTransientPollError(errors.New("malformed response")),
		"a plain error must classify as persistent")
	require.False(t, isTransientPollError(bugf("height mismatch")),
		"an internal-invariant error must classify as persistent")
}

// TestCatchUpRetriesTransientErrorsWithBackoff exercises the exponential
// backoff path: two transient failures followed by success should succeed
// quickly (1s + 2s backoff), not wait the full 300s persistent-error flat
// wait.
func TestCatchUpRetriesTransientErrorsWithBackoff(t *testing.T) {
	header := &wire.BlockHeader{}
	headers := &fakeHeaderSource{results: []headerResult{
		{err: &fakeNetError{msg: "connection refused"}},
		{err: &fakeNetError{msg: "connection refused"}},
		{header: header, height: 10},
	}}
	wallet := &fakeWallet{}
	driver, _, _, _ := newTestDriver(headers, wallet)

	start := time.Now()
	err := driver.catchUp(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 3, headers.callCount())
	require.Less(t, elapsed, 10*time.Second,
		"transient backoff (1s+2s) must not approach the 300s persistent wait")
}

// TestCatchUpPersistentErrorRespectsContextCancellation confirms a
// persistent (non-net.Error) failure takes the flat MaxBackoffSecs wait
// rather than escalating, and that catchUp still exits promptly on context
// cancellation instead of blocking for the full 300s.
func TestCatchUpPersistentErrorRespectsContextCancellation(t *testing.T) {
	headers := &fakeHeaderSource{results: []headerResult{
		{err: errors.New("malformed chain tip response")},
	}}
	wallet := &fakeWallet{}
	driver, _, _, _ := newTestDriver(headers, wallet)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := driver.catchUp(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, elapsed, 5*time.Second,
		"a canceled context must interrupt the persistent-error wait, not block for 300s")
	require.Equal(t, 1, headers.callCount(),
		"persistent errors must not retry before the flat wait elapses")
}

// TestPollOncePiggybacksConcurrentCalls exercises the single-flight
// property on the C4 driver's pollOnce gate: two concurrent calls against
// a gated header fetch must result in exactly one underlying call.
func TestPollOncePiggybacksConcurrentCalls(t *testing.T) {
	header := &wire.BlockHeader{}
	release := make(chan struct{})
	var hookCalls atomic.Int32

	headers := &fakeHeaderSource{
		results: []headerResult{{header: header, height: 5}},
		hook: func() {
			hookCalls.Add(1)
			<-release
		},
	}
	wallet := &fakeWallet{}
	driver, _, _, _ := newTestDriver(headers, wallet)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = driver.pollOnce(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), hookCalls.Load(), "only the owner should fetch the header")
}
