// Package accmath holds the pure accumulated-value-per-share arithmetic shared
// by the lock-slot ledger and the dividend distributor.
//
// All amounts are sdkmath.Int (256-bit checked integer math) and every
// division truncates. The engine deliberately under-pays by at most one unit
// per settlement and never over-pays.
package accmath

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// MultiplierBase is the fixed-point base for lock multipliers: a multiplier of
// 10000 means a +100% bonus on top of the principal.
const MultiplierBase int64 = 10_000

// Scale is the fixed-point base for per-share accumulators.
var Scale = sdkmath.NewInt(1_000_000_000_000_000_000)

var multiplierBase = sdkmath.NewInt(MultiplierBase)

// PendingFromAccumulator returns the amount accrued by a position since its
// last settlement: weighted*accPerShare/Scale - rewardDebt, floor-divided.
//
// Truncation on earlier settlements can leave the debt up to a unit ahead of
// the live computation; the result is clamped at zero.
func PendingFromAccumulator(weighted, accPerShare, rewardDebt sdkmath.Int) sdkmath.Int {
	pending := weighted.Mul(accPerShare).Quo(Scale).Sub(rewardDebt)
	if pending.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return pending
}

// RewardDebt returns the debt snapshot for a weighted amount against the
// current accumulator: weighted*accPerShare/Scale, floor-divided.
func RewardDebt(weighted, accPerShare sdkmath.Int) sdkmath.Int {
	return weighted.Mul(accPerShare).Quo(Scale)
}

// MultiplierForDuration returns the lock bonus multiplier (MultiplierBase
// fixed-point) earned by committing for the given duration. It grows linearly
// with the duration and caps at maxMultiplier once duration reaches
// maxDuration. Monotonically non-decreasing in duration.
func MultiplierForDuration(duration, maxDuration time.Duration, maxMultiplier int64) int64 {
	if maxDuration <= 0 || maxMultiplier <= 0 || duration <= 0 {
		return 0
	}
	if duration >= maxDuration {
		return maxMultiplier
	}
	return maxMultiplier * int64(duration/time.Second) / int64(maxDuration/time.Second)
}

// WeightedAmount returns the principal adjusted by its lock multiplier:
// principal*(MultiplierBase+multiplier)/MultiplierBase.
func WeightedAmount(principal sdkmath.Int, multiplier int64) sdkmath.Int {
	if multiplier <= 0 {
		return principal
	}
	return principal.Mul(sdkmath.NewInt(MultiplierBase + multiplier)).Quo(multiplierBase)
}

// BonusShare splits out the multiplier-attributable portion of a pending
// amount. The remainder is the regular (principal-attributable) share.
func BonusShare(pending sdkmath.Int, multiplier int64) sdkmath.Int {
	if multiplier <= 0 || !pending.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return pending.Mul(sdkmath.NewInt(multiplier)).Quo(sdkmath.NewInt(MultiplierBase + multiplier))
}
