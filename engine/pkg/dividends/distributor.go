// Package dividends implements the cyclical streaming distributor: per reward
// token, a pending/distributing two-stage buffer that releases a capped
// fraction of pending funds linearly over fixed time cycles into a
// holder-weighted accumulator.
//
// A single cycle clock is shared by all tokens and advances in fixed steps,
// never snapping to the current time, so the cadence survives late refreshes.
// A refresh advances at most one cycle boundary; the amount streamable for an
// elapsed cycle is capped at that cycle's budget, so a long interruption can
// never over-distribute.
package dividends

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

// scale100 bridges the x100 streamed precision back to the 1e18 accumulator:
// 1e18 / 100.
var scale100 = sdkmath.NewInt(10_000_000_000_000_000)

// Distributor is the cyclical dividend subsystem for all reward tokens.
type Distributor struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock

	mu             sync.Mutex
	operator       string
	trusted        map[string]bool
	tokens         map[string]*TokenState
	tokenOrder     []string
	removed        map[string]bool
	users          map[string]map[string]*UserState // token -> holder
	excluded       map[string]bool
	totalExcluded  sdkmath.Int
	cycleStartTime time.Time
}

// New creates a dividend distributor. The first cycle starts at the clock's
// current time.
func New(cfg Config) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Distributor{
		log:            cfg.Logger,
		cfg:            cfg,
		clock:          cfg.Clock,
		operator:       cfg.Operator,
		trusted:        make(map[string]bool),
		tokens:         make(map[string]*TokenState),
		removed:        make(map[string]bool),
		users:          make(map[string]map[string]*UserState),
		excluded:       make(map[string]bool),
		totalExcluded:  sdkmath.ZeroInt(),
		cycleStartTime: cfg.Clock.Now(),
	}
	for _, s := range cfg.TrustedSources {
		d.trusted[s] = true
	}
	return d, nil
}

func (d *Distributor) token(symbol string) (*TokenState, error) {
	t, ok := d.tokens[symbol]
	if !ok {
		return nil, enginerr.Wrap(enginerr.ErrNotFound, "distribution token %q", symbol)
	}
	return t, nil
}

func (d *Distributor) user(token, holder string) *UserState {
	byHolder, ok := d.users[token]
	if !ok {
		byHolder = make(map[string]*UserState)
		d.users[token] = byHolder
	}
	u, ok := byHolder[holder]
	if !ok {
		u = &UserState{PendingDividends: sdkmath.ZeroInt(), RewardDebt: sdkmath.ZeroInt()}
		byHolder[holder] = u
	}
	return u
}

// eligibleSupply is the holder supply that earns dividends: total supply
// minus the balances of excluded contracts.
func (d *Distributor) eligibleSupply(totalSupply sdkmath.Int) sdkmath.Int {
	eligible := totalSupply.Sub(d.totalExcluded)
	if eligible.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return eligible
}

// stream advances one token's accumulator to upTo against the given eligible
// supply. Emission is the cycle budget spread linearly over the cycle,
// tracked at x100 precision and capped at the budget.
func (d *Distributor) stream(t *TokenState, upTo time.Time, eligible sdkmath.Int) {
	if !upTo.After(t.LastUpdateTime) {
		return
	}
	elapsed := int64(upTo.Sub(t.LastUpdateTime) / time.Second)
	if elapsed <= 0 {
		return
	}
	t.LastUpdateTime = t.LastUpdateTime.Add(time.Duration(elapsed) * time.Second)

	if !t.CurrentDistributionAmount.IsPositive() || !eligible.IsPositive() {
		return
	}
	cycleSeconds := int64(d.cfg.CycleDuration / time.Second)
	toDistribute := t.CurrentDistributionAmount.MulRaw(100).MulRaw(elapsed).QuoRaw(cycleSeconds)
	budget100 := t.CurrentDistributionAmount.MulRaw(100)
	if t.CurrentCycleDistributed100.Add(toDistribute).GT(budget100) {
		toDistribute = budget100.Sub(t.CurrentCycleDistributed100)
	}
	if !toDistribute.IsPositive() {
		return
	}
	t.CurrentCycleDistributed100 = t.CurrentCycleDistributed100.Add(toDistribute)
	t.AccDividendsPerShare = t.AccDividendsPerShare.Add(toDistribute.Mul(scale100).Quo(eligible))
}

// rollover finalizes the elapsed cycle for one token: the streamed part of
// the budget becomes distributed, the un-streamed remainder returns to
// pending, and a new budget is carved unless the token is disabled.
func (d *Distributor) rollover(t *TokenState, boundary time.Time) {
	streamed := t.CurrentCycleDistributed100.QuoRaw(100)
	remainder := t.CurrentDistributionAmount.Sub(streamed)
	t.DistributedAmount = t.DistributedAmount.Add(streamed)
	t.PendingAmount = t.PendingAmount.Add(remainder)
	t.CurrentCycleDistributed100 = sdkmath.ZeroInt()

	if t.Enabled {
		budget := t.PendingAmount.MulRaw(t.CycleReleasePct).QuoRaw(100)
		t.CurrentDistributionAmount = budget
		t.PendingAmount = t.PendingAmount.Sub(budget)
	} else {
		t.CurrentDistributionAmount = sdkmath.ZeroInt()
	}
	t.LastUpdateTime = boundary

	metrics.DividendCycleRolloversTotal.WithLabelValues(t.Symbol).Inc()
	d.log.Debug("dividends: cycle rollover",
		"token", t.Symbol,
		"streamed", streamed.String(),
		"new_budget", t.CurrentDistributionAmount.String(),
		"pending", t.PendingAmount.String())
}

// refresh replays elapsed time for every token against the given eligible
// supply, advancing at most one cycle boundary.
func (d *Distributor) refresh(now time.Time, eligible sdkmath.Int) {
	cycleEnd := d.cycleStartTime.Add(d.cfg.CycleDuration)
	if now.Before(cycleEnd) {
		for _, sym := range d.tokenOrder {
			d.stream(d.tokens[sym], now, eligible)
		}
		return
	}
	for _, sym := range d.tokenOrder {
		t := d.tokens[sym]
		d.stream(t, cycleEnd, eligible)
		d.rollover(t, cycleEnd)
	}
	d.cycleStartTime = cycleEnd
}

// Refresh catches the distributor up to now against the current eligible
// supply. One call advances at most one cycle boundary; call repeatedly (or
// periodically) to fully catch up after an interruption.
func (d *Distributor) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
}

// CycleStartTime returns the start of the current cycle.
func (d *Distributor) CycleStartTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycleStartTime
}

// AddToPending credits the token's pending buffer with funds pulled from a
// trusted source. The credited amount is what the vault actually received.
// The token does not need to be enabled yet; funds may accumulate before
// activation.
func (d *Distributor) AddToPending(source, token string, amount sdkmath.Int) (sdkmath.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.trusted[source] {
		return sdkmath.Int{}, enginerr.Wrap(enginerr.ErrUnauthorized, "source %q is not a trusted funding source", source)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, enginerr.Wrap(enginerr.ErrInvalidArgument, "amount must be positive")
	}
	if d.removed[token] {
		return sdkmath.Int{}, enginerr.Wrap(enginerr.ErrNotFound, "distribution token %q was removed", token)
	}

	t, ok := d.tokens[token]
	if !ok {
		t = d.newTokenState(token)
		d.tokens[token] = t
		d.tokenOrder = append(d.tokenOrder, token)
	}

	received, err := d.cfg.Vault.Pull(token, source, amount)
	if err != nil {
		metrics.DividendOperationsTotal.WithLabelValues("add_to_pending", "error").Inc()
		return sdkmath.Int{}, fmt.Errorf("failed to pull funds: %w", err)
	}
	t.PendingAmount = t.PendingAmount.Add(received)
	t.AddedAmount = t.AddedAmount.Add(received)

	metrics.DividendOperationsTotal.WithLabelValues("add_to_pending", "ok").Inc()
	d.log.Info("dividends: pending funded",
		"token", token, "source", source, "received", received.String())
	return received, nil
}

func (d *Distributor) newTokenState(symbol string) *TokenState {
	return &TokenState{
		Symbol:                     symbol,
		CycleReleasePct:            d.cfg.MinCycleReleasePct,
		PendingAmount:              sdkmath.ZeroInt(),
		CurrentDistributionAmount:  sdkmath.ZeroInt(),
		CurrentCycleDistributed100: sdkmath.ZeroInt(),
		DistributedAmount:          sdkmath.ZeroInt(),
		AddedAmount:                sdkmath.ZeroInt(),
		AccDividendsPerShare:       sdkmath.ZeroInt(),
		LastUpdateTime:             d.clock.Now(),
	}
}

// OnHolderBalanceChanged must be called synchronously on every mint, burn or
// transfer of the eligible token, carrying the holder's balance and the total
// supply as they were immediately before the change. Every token's
// accumulator is refreshed against the prior supply, the holder is settled at
// the prior balance, then re-debted against the new balance.
//
// The eligible-supply snapshot is taken as of the refresh that spans a cycle
// boundary; supply changes mid-cycle apply going forward, not retroactively.
// This ordering-dependent approximation is part of the accounting scheme.
func (d *Distributor) OnHolderBalanceChanged(holder string, previousBalance, previousTotalSupply sdkmath.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.refresh(now, d.eligibleSupply(previousTotalSupply))

	newBalance := d.cfg.Supply.BalanceOf(holder)
	for _, sym := range d.tokenOrder {
		t := d.tokens[sym]
		u := d.user(sym, holder)
		if d.excluded[holder] {
			// An excluded contract's balance is outside the eligible supply,
			// so accumulator growth since exclusion was never carved for it.
			// Only a banked claim (from before exclusion, or restore-loaded)
			// is real and goes back to the pending buffer.
			if u.PendingDividends.IsPositive() {
				t.PendingAmount = t.PendingAmount.Add(u.PendingDividends)
				u.PendingDividends = sdkmath.ZeroInt()
			}
		} else {
			accrued := accmath.PendingFromAccumulator(previousBalance, t.AccDividendsPerShare, u.RewardDebt)
			if accrued.IsPositive() {
				u.PendingDividends = u.PendingDividends.Add(accrued)
			}
		}
		u.RewardDebt = accmath.RewardDebt(newBalance, t.AccDividendsPerShare)
	}

	if d.excluded[holder] {
		d.totalExcluded = d.totalExcluded.Add(newBalance).Sub(previousBalance)
		if d.totalExcluded.IsNegative() {
			d.totalExcluded = sdkmath.ZeroInt()
		}
	}
}

// Harvest pays out the holder's banked plus newly accrued dividends for one
// token, capped at the vault's actual balance: a rounding shortfall degrades
// to a partial payment rather than failing the call.
func (d *Distributor) Harvest(holder, token string) (sdkmath.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.token(token)
	if err != nil {
		return sdkmath.Int{}, err
	}
	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	paid, err := d.harvestToken(t, holder)
	if err != nil {
		return sdkmath.Int{}, err
	}
	metrics.DividendOperationsTotal.WithLabelValues("harvest", "ok").Inc()
	return paid, nil
}

// HarvestAll harvests every distribution token for the holder and returns the
// total paid per token.
func (d *Distributor) HarvestAll(holder string) (map[string]sdkmath.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	out := make(map[string]sdkmath.Int, len(d.tokenOrder))
	for _, sym := range d.tokenOrder {
		paid, err := d.harvestToken(d.tokens[sym], holder)
		if err != nil {
			return nil, err
		}
		if paid.IsPositive() {
			out[sym] = paid
		}
	}
	metrics.DividendOperationsTotal.WithLabelValues("harvest_all", "ok").Inc()
	return out, nil
}

func (d *Distributor) harvestToken(t *TokenState, holder string) (sdkmath.Int, error) {
	u := d.user(t.Symbol, holder)
	balance := d.cfg.Supply.BalanceOf(holder)

	if d.excluded[holder] {
		// Phantom accrual since exclusion is dropped, not reclaimed; only a
		// banked claim is backed by a past carve-out.
		if u.PendingDividends.IsPositive() {
			t.PendingAmount = t.PendingAmount.Add(u.PendingDividends)
			u.PendingDividends = sdkmath.ZeroInt()
		}
		u.RewardDebt = accmath.RewardDebt(balance, t.AccDividendsPerShare)
		return sdkmath.ZeroInt(), nil
	}

	accrued := accmath.PendingFromAccumulator(balance, t.AccDividendsPerShare, u.RewardDebt)
	u.RewardDebt = accmath.RewardDebt(balance, t.AccDividendsPerShare)

	amount := u.PendingDividends.Add(accrued)
	if !amount.IsPositive() {
		u.PendingDividends = sdkmath.ZeroInt()
		return sdkmath.ZeroInt(), nil
	}

	paid := amount
	if held := d.cfg.Vault.Balance(t.Symbol); paid.GT(held) {
		paid = held
	}
	// A shortfall stays banked for a later harvest once the vault is topped up.
	u.PendingDividends = amount.Sub(paid)
	if !paid.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	if err := d.cfg.Vault.Transfer(t.Symbol, holder, paid); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to pay dividends: %w", err)
	}
	d.log.Info("dividends: harvest", "token", t.Symbol, "holder", holder, "paid", paid.String())
	return paid, nil
}
