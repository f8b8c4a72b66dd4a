package chainsource

import (
	"context"
	"time"

	"github.com/chainsource/lnchain/chainio"
	"github.com/chainsource/lnchain/feerate"
)

// feeEstimateFn produces raw, pre-adjustment fee-rate estimates for every
// requested target. Each backend source supplies its own: Esplora makes
// one get_fee_estimates() call and converts per target; Electrum issues
// one blockchain.estimatefee call per target; Bitcoind selects a mode (mempool-min,
// conservative, economical) per target and issues one estimatesmartfee
// call each, applying its own network-conditioned fallback policy before
// returning.
//
// A (nil, nil) return means the backend has decided this round should be
// skipped entirely -- the cache is left untouched and no error is
// reported. Only Bitcoind ever does this (a persistent per-target failure
// on Testnet); Esplora and Electrum have no such concept and always
// return either a complete rate map or an error.
type feeEstimateFn func(ctx context.Context, targets []feerate.Target) (
	map[feerate.Target]chainio.FeeRateSatPerKw, error)

// FeeRateUpdater refreshes a FeeEstimator's cache for every confirmation
// target on each tick. It has no network-conditioned fallback policy of
// its own -- that belongs to whichever backend's feeEstimateFn is passed
// in, since the policy differs per backend rather than being a property
// of the updater. A SyncCoordinator enforces at most one estimate call in
// flight, with late arrivals piggybacking on the in-flight result.
type FeeRateUpdater struct {
	estimator   chainio.FeeEstimator
	metrics     *NodeMetrics
	coordinator *SyncCoordinator
}

// NewFeeRateUpdater wires an updater against the cache it refreshes.
func NewFeeRateUpdater(estimator chainio.FeeEstimator, metrics *NodeMetrics) *FeeRateUpdater {
	return &FeeRateUpdater{
		estimator:   estimator,
		metrics:     metrics,
		coordinator: NewSyncCoordinator(),
	}
}

// Update fetches fresh estimates via estimate, bounded by timeout, or
// piggybacks on an already-in-flight update if another caller got there
// first. A (nil, nil) result from estimate skips the round silently. Any
// other failure is fatal and returned as an *Error: a timeout as
// FeeRateEstimationUpdateTimeout, an error from estimate as
// FeeRateEstimationUpdateFailed wrapping it; it is estimate's job to have already applied whatever fallback its
// backend allows before returning. On success the rates are adjusted and
// swapped into the cache and metrics are stamped.
func (u *FeeRateUpdater) Update(ctx context.Context, estimate feeEstimateFn,
	timeout time.Duration, now func() time.Time) error {

	resultCh, owner := u.coordinator.RegisterOrSubscribe()
	if !owner {
		return Wait(resultCh)
	}

	err := u.updateOnce(ctx, estimate, timeout, now)
	u.coordinator.PropagateResult(err)
	return err
}

func (u *FeeRateUpdater) updateOnce(ctx context.Context, estimate feeEstimateFn,
	timeout time.Duration, now func() time.Time) error {

	targets := feerate.GetAllConfTargets()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		rates map[feerate.Target]chainio.FeeRateSatPerKw
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		rates, err := estimate(ctx, targets)
		resCh <- result{rates, err}
	}()

	var rates map[feerate.Target]chainio.FeeRateSatPerKw
	select {
	case <-ctx.Done():
		return newError(FeeRateEstimationUpdateTimeout, ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return newError(FeeRateEstimationUpdateFailed, res.err)
		}
		if res.rates == nil {
			return nil
		}
		rates = res.rates
	}

	adjusted := make(map[feerate.Target]chainio.FeeRateSatPerKw, len(rates))
	for target, rate := range rates {
		adjusted[target] = feerate.ApplyPostEstimationAdjustments(rate)
	}

	u.estimator.SetFeeRateCache(adjusted)
	return u.metrics.SetFeeRateCacheUpdateTimestamp(uint64(now().Unix()))
}
