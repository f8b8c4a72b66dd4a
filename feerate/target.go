// Package feerate defines the confirmation-target taxonomy the chain
// source's fee-rate updater estimates against, and the post-estimation
// adjustment policy applied uniformly across backends. It is kept separate
// from chainsource so chainio can reference ConfirmationTarget without
// importing the sync engine, the same way a fee-estimation package lives
// apart from the wallet package that consumes it.
package feerate

import "github.com/chainsource/lnchain/chainio"

// Target is a semantic urgency tag for a fee-rate estimate, re-exported
// under chainio.ConfirmationTarget so both packages share one underlying
// type without an import cycle.
type Target = chainio.ConfirmationTarget

// The full set of confirmation targets the fee-rate updater refreshes on
// every tick. Order here is not significant; GetAllConfTargets defines
// iteration order for deterministic logging and tests.
const (
	MinAllowedAnchorChannelRemoteFee Target = iota
	MinAllowedNonAnchorChannelRemoteFee
	AnchorChannelFee
	NonAnchorChannelFee
	ChannelCloseMinimum
	OutputSpendingFee
	MaximumFeeEstimate
	UrgentOnChainSweep
)

// GetAllConfTargets returns every confirmation target the updater must
// produce an estimate for, in a stable order.
func GetAllConfTargets() []Target {
	return []Target{
		MinAllowedAnchorChannelRemoteFee,
		MinAllowedNonAnchorChannelRemoteFee,
		AnchorChannelFee,
		NonAnchorChannelFee,
		ChannelCloseMinimum,
		OutputSpendingFee,
		MaximumFeeEstimate,
		UrgentOnChainSweep,
	}
}

// GetNumBlockDefaultsForTarget returns the confirmation-block-count default
// requested from Esplora/Electrum block-target based estimators for a
// given target.
func GetNumBlockDefaultsForTarget(target Target) uint32 {
	switch target {
	case MinAllowedAnchorChannelRemoteFee, MinAllowedNonAnchorChannelRemoteFee:
		return 1008
	case ChannelCloseMinimum, OutputSpendingFee:
		return 144
	case AnchorChannelFee, NonAnchorChannelFee:
		return 12
	case MaximumFeeEstimate, UrgentOnChainSweep:
		return 2
	default:
		return 6
	}
}

// minFeeRateSatPerKw is the network floor below which no fee estimate is
// ever returned (1 sat/vB).
const minFeeRateSatPerKw = chainio.FeeRateSatPerKw(250)

// ApplyPostEstimationAdjustments clamps a raw estimate to the 1 sat/vB
// floor. Every backend's estimator routes its per-target result through
// this before it reaches the cache, so the floor is enforced exactly once
// regardless of which backend produced the number.
func ApplyPostEstimationAdjustments(raw chainio.FeeRateSatPerKw) chainio.FeeRateSatPerKw {
	if raw < minFeeRateSatPerKw {
		return minFeeRateSatPerKw
	}
	return raw
}
