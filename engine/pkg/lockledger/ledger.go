// Package lockledger implements the time-locked stake multiplier ledger: per
// participant, per pool, a bounded array of independent locked positions with
// their own multiplier, reward debt and unlock time, layered over an external
// base (non-locking) staking ledger.
//
// Every public entry point is atomic under the ledger mutex and first replays
// elapsed-time effects on the pool accumulator before applying the caller's
// mutation, so state always reflects time as of the start of the call.
package lockledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/accmath"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
)

type slotKey struct {
	pool string
	user string
}

// Ledger is the lock-slot subsystem for all pools.
type Ledger struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock

	mu              sync.Mutex
	operator        string
	rewardPerSecond sdkmath.Int
	locksDisabled   bool
	burnedBonus     sdkmath.Int
	totalAlloc      uint64
	pools           map[string]*Pool
	poolOrder       []string
	slots           map[slotKey][]*Slot
}

// New creates a lock-slot ledger.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		log:             cfg.Logger,
		cfg:             cfg,
		clock:           cfg.Clock,
		operator:        cfg.Operator,
		rewardPerSecond: cfg.RewardPerSecond,
		burnedBonus:     sdkmath.ZeroInt(),
		pools:           make(map[string]*Pool),
		slots:           make(map[slotKey][]*Slot),
	}, nil
}

// updatePool advances the pool accumulator to now. Emission is attributed at
// second granularity; a sub-second remainder stays pending until the next
// update rather than being dropped.
func (l *Ledger) updatePool(p *Pool, now time.Time) {
	if !now.After(p.LastRewardTime) {
		return
	}
	elapsed := int64(now.Sub(p.LastRewardTime) / time.Second)
	if elapsed <= 0 {
		return
	}
	if p.LpSupplyWithMultiplier.IsZero() || p.AllocPoints == 0 || l.totalAlloc == 0 || l.rewardPerSecond.IsZero() {
		p.LastRewardTime = p.LastRewardTime.Add(time.Duration(elapsed) * time.Second)
		return
	}
	reward := l.rewardPerSecond.MulRaw(elapsed).MulRaw(int64(p.AllocPoints)).QuoRaw(int64(l.totalAlloc))
	p.AccRewardsPerShare = p.AccRewardsPerShare.Add(reward.Mul(accmath.Scale).Quo(p.LpSupplyWithMultiplier))
	p.LastRewardTime = p.LastRewardTime.Add(time.Duration(elapsed) * time.Second)
}

func (l *Ledger) updateAllPools(now time.Time) {
	for _, id := range l.poolOrder {
		l.updatePool(l.pools[id], now)
	}
}

func (l *Ledger) pool(id string) (*Pool, error) {
	p, ok := l.pools[id]
	if !ok {
		return nil, enginerr.Wrap(enginerr.ErrNotFound, "pool %q", id)
	}
	return p, nil
}

func (l *Ledger) slot(pool, user string, id int) (*Slot, error) {
	ss := l.slots[slotKey{pool, user}]
	if id < 0 || id >= len(ss) {
		return nil, enginerr.Wrap(enginerr.ErrNotFound, "slot %d of %s in pool %q", id, user, pool)
	}
	return ss[id], nil
}

// unlocked reports whether the slot can be withdrawn and its bonus released:
// the lock window elapsed, the pool is closed, or locks are globally disabled.
func (l *Ledger) unlocked(p *Pool, s *Slot, now time.Time) bool {
	return s.Matured(now) || p.Closed() || l.locksDisabled
}

// settle pays the slot's regular pending rewards and either pays or banks the
// bonus part. With releaseBonus the banked bonus is paid out along with the
// newly accrued bonus regardless of lock state. Resets the reward debt.
func (l *Ledger) settle(p *Pool, user string, s *Slot, now time.Time, releaseBonus bool) (regular, bonus sdkmath.Int, err error) {
	pending := accmath.PendingFromAccumulator(s.AmountWithMultiplier, p.AccRewardsPerShare, s.RewardDebt)
	bonusPart := accmath.BonusShare(pending, s.Multiplier)
	regular = pending.Sub(bonusPart)
	bonus = sdkmath.ZeroInt()

	if releaseBonus || l.unlocked(p, s, now) {
		bonus = s.BankedBonus.Add(bonusPart)
		s.BankedBonus = sdkmath.ZeroInt()
	} else {
		s.BankedBonus = s.BankedBonus.Add(bonusPart)
	}
	s.RewardDebt = accmath.RewardDebt(s.AmountWithMultiplier, p.AccRewardsPerShare)

	total := regular.Add(bonus)
	if total.IsPositive() {
		if err := l.cfg.Payer.Pay(user, p.RewardToken(), total); err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("failed to pay rewards: %w", err)
		}
	}
	return regular, bonus, nil
}

// fund sources the deposit principal: either debited from the user's base
// stake (no fee, base rewards harvested first) or pulled as fresh capital with
// the pool deposit fee taken off the top. Returns the locked net amount.
func (l *Ledger) fund(p *Pool, user string, amount sdkmath.Int, fromBaseStake bool) (sdkmath.Int, error) {
	if fromBaseStake {
		if err := l.cfg.BaseStake.HarvestBase(p.ID, user); err != nil {
			return sdkmath.Int{}, fmt.Errorf("failed to harvest base stake: %w", err)
		}
		if err := l.cfg.BaseStake.DebitBaseStake(p.ID, user, amount); err != nil {
			return sdkmath.Int{}, fmt.Errorf("failed to debit base stake: %w", err)
		}
		return amount, nil
	}
	if err := l.cfg.Vault.Pull(p.ID, user, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to pull capital: %w", err)
	}
	fee := amount.MulRaw(int64(p.DepositFeeBps)).QuoRaw(10_000)
	if fee.IsPositive() {
		if err := l.cfg.Vault.CollectFee(p.ID, fee); err != nil {
			return sdkmath.Int{}, fmt.Errorf("failed to collect deposit fee: %w", err)
		}
		amount = amount.Sub(fee)
	}
	return amount, nil
}

// Deposit locks amount into a new slot for lockDuration and returns the new
// slot id. Slot ids are positional and may be reused after removals.
func (l *Ledger) Deposit(pool, user string, amount sdkmath.Int, lockDuration time.Duration, fromBaseStake bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return 0, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return 0, enginerr.Wrap(enginerr.ErrInvalidArgument, "deposit amount must be positive")
	}
	if lockDuration < l.cfg.MinLockDuration || lockDuration > l.cfg.MaxLockDuration {
		return 0, enginerr.Wrap(enginerr.ErrInvalidArgument, "lock duration %s outside [%s, %s]",
			lockDuration, l.cfg.MinLockDuration, l.cfg.MaxLockDuration)
	}
	key := slotKey{pool, user}
	if len(l.slots[key]) >= l.cfg.MaxSlotsPerUser {
		return 0, enginerr.Wrap(enginerr.ErrCapacityExceeded, "no free lock slot (max %d)", l.cfg.MaxSlotsPerUser)
	}

	now := l.clock.Now()
	l.updatePool(p, now)

	locked, err := l.fund(p, user, amount, fromBaseStake)
	if err != nil {
		return 0, err
	}

	multiplier := accmath.MultiplierForDuration(lockDuration, l.cfg.MaxLockDuration, l.cfg.MaxLockMultiplier)
	weighted := accmath.WeightedAmount(locked, multiplier)
	s := &Slot{
		Amount:               locked,
		AmountWithMultiplier: weighted,
		RewardDebt:           accmath.RewardDebt(weighted, p.AccRewardsPerShare),
		LockDuration:         lockDuration,
		DepositTime:          now,
		Multiplier:           multiplier,
		BankedBonus:          sdkmath.ZeroInt(),
	}
	l.slots[key] = append(l.slots[key], s)
	p.LpSupply = p.LpSupply.Add(locked)
	p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Add(weighted)

	id := len(l.slots[key]) - 1
	metrics.LockOperationsTotal.WithLabelValues("deposit", "ok").Inc()
	metrics.LockSlotsActive.WithLabelValues(pool).Inc()
	l.log.Info("lockledger: deposit",
		"pool", pool, "user", user, "slot", id,
		"amount", locked.String(), "duration", lockDuration, "multiplier", multiplier,
		"from_base_stake", fromBaseStake)
	return id, nil
}

// Renew restarts the slot's lock window at newLockDuration. Pending rewards
// are harvested first with the bonus force-released. While the slot is still
// within its lock window the configured duration cannot be shortened.
func (l *Ledger) Renew(pool, user string, slot int, newLockDuration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	s, err := l.slot(pool, user, slot)
	if err != nil {
		return err
	}
	if newLockDuration < l.cfg.MinLockDuration || newLockDuration > l.cfg.MaxLockDuration {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "lock duration %s outside [%s, %s]",
			newLockDuration, l.cfg.MinLockDuration, l.cfg.MaxLockDuration)
	}

	now := l.clock.Now()
	l.updatePool(p, now)

	stillLocked := !l.unlocked(p, s, now)
	if stillLocked && newLockDuration < s.LockDuration {
		return enginerr.Wrap(enginerr.ErrInvalidArgument,
			"cannot shorten an active lock from %s to %s", s.LockDuration, newLockDuration)
	}

	if _, _, err := l.settle(p, user, s, now, true); err != nil {
		return err
	}

	if newLockDuration != s.LockDuration {
		multiplier := accmath.MultiplierForDuration(newLockDuration, l.cfg.MaxLockDuration, l.cfg.MaxLockMultiplier)
		weighted := accmath.WeightedAmount(s.Amount, multiplier)
		p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Sub(s.AmountWithMultiplier).Add(weighted)
		s.Multiplier = multiplier
		s.AmountWithMultiplier = weighted
		s.LockDuration = newLockDuration
	}
	s.DepositTime = now
	s.RewardDebt = accmath.RewardDebt(s.AmountWithMultiplier, p.AccRewardsPerShare)

	metrics.LockOperationsTotal.WithLabelValues("renew", "ok").Inc()
	l.log.Info("lockledger: renew", "pool", pool, "user", user, "slot", slot, "duration", newLockDuration)
	return nil
}

// Redeposit adds extraAmount to the slot's principal, keeping the existing
// multiplier, and restarts the lock window at the current duration. Funding
// semantics match Deposit.
func (l *Ledger) Redeposit(pool, user string, slot int, extraAmount sdkmath.Int, fromBaseStake bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	s, err := l.slot(pool, user, slot)
	if err != nil {
		return err
	}
	if extraAmount.IsNil() || !extraAmount.IsPositive() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "redeposit amount must be positive")
	}

	now := l.clock.Now()
	l.updatePool(p, now)

	if _, _, err := l.settle(p, user, s, now, true); err != nil {
		return err
	}

	added, err := l.fund(p, user, extraAmount, fromBaseStake)
	if err != nil {
		return err
	}

	s.Amount = s.Amount.Add(added)
	weighted := accmath.WeightedAmount(s.Amount, s.Multiplier)
	p.LpSupply = p.LpSupply.Add(added)
	p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Sub(s.AmountWithMultiplier).Add(weighted)
	s.AmountWithMultiplier = weighted
	s.DepositTime = now
	s.RewardDebt = accmath.RewardDebt(weighted, p.AccRewardsPerShare)

	metrics.LockOperationsTotal.WithLabelValues("redeposit", "ok").Inc()
	l.log.Info("lockledger: redeposit",
		"pool", pool, "user", user, "slot", slot, "added", added.String(), "from_base_stake", fromBaseStake)
	return nil
}

// Harvest settles the slot's rewards. Regular rewards pay out immediately;
// the bonus pays only once the slot is unlocked, otherwise it banks on the
// slot. A slot whose lock window has elapsed has its principal migrated back
// into the base stake and is removed.
func (l *Ledger) Harvest(pool, user string, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	s, err := l.slot(pool, user, slot)
	if err != nil {
		return err
	}

	now := l.clock.Now()
	l.updatePool(p, now)

	// The global disable switch makes slots withdrawable but a routine
	// harvest must not liquidate them; migration needs maturity or closure.
	migrate := s.Matured(now) || p.Closed()
	if _, _, err := l.settle(p, user, s, now, false); err != nil {
		return err
	}

	if migrate {
		if err := l.cfg.BaseStake.CreditBaseStake(pool, user, s.Amount); err != nil {
			return fmt.Errorf("failed to migrate principal to base stake: %w", err)
		}
		p.LpSupply = p.LpSupply.Sub(s.Amount)
		p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Sub(s.AmountWithMultiplier)
		l.removeSlot(slotKey{pool, user}, slot)
		metrics.LockSlotsActive.WithLabelValues(pool).Dec()
		l.log.Info("lockledger: harvest migrated matured slot", "pool", pool, "user", user, "slot", slot)
	}

	metrics.LockOperationsTotal.WithLabelValues("harvest", "ok").Inc()
	return nil
}

// Withdraw force-harvests everything including the banked bonus, returns the
// principal, and removes the slot. Fails with ErrStillLocked before maturity
// unless the pool is closed or locks are globally disabled.
func (l *Ledger) Withdraw(pool, user string, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	s, err := l.slot(pool, user, slot)
	if err != nil {
		return err
	}

	now := l.clock.Now()
	l.updatePool(p, now)

	if !l.unlocked(p, s, now) {
		return enginerr.Wrap(enginerr.ErrStillLocked, "slot unlocks at %s", s.UnlockTime().UTC().Format(time.RFC3339))
	}
	if _, _, err := l.settle(p, user, s, now, true); err != nil {
		return err
	}
	if err := l.cfg.Vault.Push(pool, user, s.Amount); err != nil {
		return fmt.Errorf("failed to return principal: %w", err)
	}

	p.LpSupply = p.LpSupply.Sub(s.Amount)
	p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Sub(s.AmountWithMultiplier)
	l.removeSlot(slotKey{pool, user}, slot)

	metrics.LockOperationsTotal.WithLabelValues("withdraw", "ok").Inc()
	metrics.LockSlotsActive.WithLabelValues(pool).Dec()
	l.log.Info("lockledger: withdraw", "pool", pool, "user", user, "slot", slot, "amount", s.Amount.String())
	return nil
}

// EmergencyWithdraw returns the principal without settling any rewards. The
// banked bonus is burned, not paid. Same unlock gate as Withdraw. The pool
// accumulator is deliberately not replayed: the escape hatch works even when
// reward accounting is suspect.
func (l *Ledger) EmergencyWithdraw(pool, user string, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.pool(pool)
	if err != nil {
		return err
	}
	s, err := l.slot(pool, user, slot)
	if err != nil {
		return err
	}

	now := l.clock.Now()
	if !l.unlocked(p, s, now) {
		return enginerr.Wrap(enginerr.ErrStillLocked, "slot unlocks at %s", s.UnlockTime().UTC().Format(time.RFC3339))
	}

	if s.BankedBonus.IsPositive() {
		if err := l.cfg.Payer.Burn(p.RewardToken(), s.BankedBonus); err != nil {
			return fmt.Errorf("failed to burn forfeited bonus: %w", err)
		}
		l.burnedBonus = l.burnedBonus.Add(s.BankedBonus)
		metrics.LockBonusForfeitedTotal.Inc()
	}
	if err := l.cfg.Vault.Push(pool, user, s.Amount); err != nil {
		return fmt.Errorf("failed to return principal: %w", err)
	}

	p.LpSupply = p.LpSupply.Sub(s.Amount)
	p.LpSupplyWithMultiplier = p.LpSupplyWithMultiplier.Sub(s.AmountWithMultiplier)
	l.removeSlot(slotKey{pool, user}, slot)

	metrics.LockOperationsTotal.WithLabelValues("emergency_withdraw", "ok").Inc()
	metrics.LockSlotsActive.WithLabelValues(pool).Dec()
	l.log.Warn("lockledger: emergency withdraw",
		"pool", pool, "user", user, "slot", slot,
		"amount", s.Amount.String(), "forfeited_bonus", s.BankedBonus.String())
	return nil
}

// removeSlot swap-removes: the last slot takes the removed slot's id.
func (l *Ledger) removeSlot(key slotKey, id int) {
	ss := l.slots[key]
	last := len(ss) - 1
	ss[id] = ss[last]
	ss[last] = nil
	if last == 0 {
		delete(l.slots, key)
		return
	}
	l.slots[key] = ss[:last]
}
