package lockledger

import (
	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
)

func (l *Ledger) requireOperator(caller string) error {
	if caller != l.operator {
		return enginerr.Wrap(enginerr.ErrUnauthorized, "caller %q is not the operator", caller)
	}
	return nil
}

// AddPool registers a new staking pool.
func (l *Ledger) AddPool(caller, pool string, allocPoints uint64, depositFeeBps uint16, secondaryReward bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	if pool == "" {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "pool id must not be empty")
	}
	if depositFeeBps > l.cfg.MaxDepositFeeBps {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "deposit fee %d bps exceeds max %d", depositFeeBps, l.cfg.MaxDepositFeeBps)
	}
	if _, ok := l.pools[pool]; ok {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "pool %q already exists", pool)
	}

	now := l.clock.Now()
	l.updateAllPools(now)

	l.pools[pool] = &Pool{
		ID:                     pool,
		AllocPoints:            allocPoints,
		DepositFeeBps:          depositFeeBps,
		SecondaryReward:        secondaryReward,
		LpSupply:               sdkmath.ZeroInt(),
		LpSupplyWithMultiplier: sdkmath.ZeroInt(),
		AccRewardsPerShare:     sdkmath.ZeroInt(),
		LastRewardTime:         now,
	}
	l.poolOrder = append(l.poolOrder, pool)
	l.totalAlloc += allocPoints

	l.log.Info("lockledger: pool added", "pool", pool, "alloc_points", allocPoints, "deposit_fee_bps", depositFeeBps)
	return nil
}

// SetAllocPoints reweights a pool's share of the emission. Setting a pool that
// has accrued rewards to zero closes it, which retroactively unlocks all of
// its slots.
func (l *Ledger) SetAllocPoints(caller, pool string, allocPoints uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	p, err := l.pool(pool)
	if err != nil {
		return err
	}

	l.updateAllPools(l.clock.Now())
	l.totalAlloc = l.totalAlloc - p.AllocPoints + allocPoints
	p.AllocPoints = allocPoints

	l.log.Info("lockledger: alloc points set", "pool", pool, "alloc_points", allocPoints, "closed", p.Closed())
	return nil
}

// SetDepositFee updates the fee charged on fresh-capital deposits.
func (l *Ledger) SetDepositFee(caller, pool string, depositFeeBps uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	if depositFeeBps > l.cfg.MaxDepositFeeBps {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "deposit fee %d bps exceeds max %d", depositFeeBps, l.cfg.MaxDepositFeeBps)
	}
	p.DepositFeeBps = depositFeeBps
	return nil
}

// SetRewardPerSecond changes the global emission rate, settling all pool
// accumulators at the old rate first.
func (l *Ledger) SetRewardPerSecond(caller string, rewardPerSecond sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	if rewardPerSecond.IsNil() || rewardPerSecond.IsNegative() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "reward per second must not be negative")
	}

	l.updateAllPools(l.clock.Now())
	l.rewardPerSecond = rewardPerSecond

	l.log.Info("lockledger: reward per second set", "reward_per_second", rewardPerSecond.String())
	return nil
}

// SetLocksDisabled flips the global lock-disable switch. While on, every slot
// is withdrawable and bonuses release on harvest regardless of maturity.
func (l *Ledger) SetLocksDisabled(caller string, disabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	l.locksDisabled = disabled
	l.log.Info("lockledger: locks disabled switch", "disabled", disabled)
	return nil
}

// SetOperator hands the operator role to a new address.
func (l *Ledger) SetOperator(caller, operator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOperator(caller); err != nil {
		return err
	}
	if operator == "" {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "operator must not be empty")
	}
	l.operator = operator
	return nil
}
