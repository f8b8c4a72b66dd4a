package chainsource

import "sync"

// syncResult is the outcome a SyncCoordinator fans out to every caller that
// piled up behind an in-flight sync.
type syncResult struct {
	err error
}

// SyncCoordinator enforces at-most-one-in-flight for a single kind of sync
// work (on-chain wallet sync, Lightning wallet sync, or fee-rate update),
// and lets every caller that arrives while a sync is already running ride
// the result of that in-flight attempt instead of starting a redundant one.
//
// Go has no multi-consumer broadcast channel in the standard library, so
// the in-flight state holds a slice of one-shot result channels, one per
// waiting subscriber, all closed together when the result is known.
type SyncCoordinator struct {
	mu          sync.Mutex
	inFlight    bool
	subscribers []chan syncResult
}

// NewSyncCoordinator returns a coordinator ready for its first sync.
func NewSyncCoordinator() *SyncCoordinator {
	return &SyncCoordinator{}
}

// RegisterOrSubscribe reports whether the caller is responsible for
// actually performing the sync (owner == true), or should instead wait on
// the returned channel for the result of the sync some other caller is
// already driving (owner == false). The owner must call PropagateResult
// exactly once when it finishes, whether it succeeds or fails.
func (s *SyncCoordinator) RegisterOrSubscribe() (resultCh <-chan syncResult, owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight {
		s.inFlight = true
		return nil, true
	}

	ch := make(chan syncResult, 1)
	s.subscribers = append(s.subscribers, ch)
	return ch, false
}

// PropagateResult delivers err to every subscriber queued up behind the
// in-flight sync and clears in-flight state, allowing the next caller to
// become the owner of a fresh sync. Must only be called by the goroutine
// that received owner == true from RegisterOrSubscribe.
func (s *SyncCoordinator) PropagateResult(err error) {
	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = nil
	s.inFlight = false
	s.mu.Unlock()

	for _, ch := range subs {
		ch <- syncResult{err: err}
		close(ch)
	}
}

// Wait blocks until resultCh delivers the result propagated by the sync
// owner. It is a small convenience wrapper so callers don't need to know
// the channel's result shape.
func Wait(resultCh <-chan syncResult) error {
	res := <-resultCh
	return res.err
}
