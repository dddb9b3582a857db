package dividends

import (
	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/accmath"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
)

func (d *Distributor) requireOperator(caller string) error {
	if caller != d.operator {
		return enginerr.Wrap(enginerr.ErrUnauthorized, "caller %q is not the operator", caller)
	}
	return nil
}

func (d *Distributor) activeTokenCount() int {
	n := 0
	for _, sym := range d.tokenOrder {
		if d.tokens[sym].Enabled {
			n++
		}
	}
	return n
}

// EnableToken starts (or resumes) cyclical distribution for a token with the
// given per-cycle release percentage. New budgets are carved from the next
// cycle rollover onward.
func (d *Distributor) EnableToken(caller, token string, cycleReleasePct int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if d.removed[token] {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distribution token %q was removed", token)
	}
	if cycleReleasePct < d.cfg.MinCycleReleasePct || cycleReleasePct > d.cfg.MaxCycleReleasePct {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "cycle release percent %d outside [%d, %d]",
			cycleReleasePct, d.cfg.MinCycleReleasePct, d.cfg.MaxCycleReleasePct)
	}

	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))

	t, ok := d.tokens[token]
	if !ok {
		t = d.newTokenState(token)
		d.tokens[token] = t
		d.tokenOrder = append(d.tokenOrder, token)
	}
	if t.Enabled {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distribution token %q is already enabled", token)
	}
	if d.activeTokenCount() >= d.cfg.MaxActiveTokens {
		return enginerr.Wrap(enginerr.ErrCapacityExceeded, "too many active distribution tokens (max %d)", d.cfg.MaxActiveTokens)
	}

	t.Enabled = true
	t.CycleReleasePct = cycleReleasePct
	t.LastUpdateTime = d.clock.Now()

	metrics.DividendTokensActive.Inc()
	d.log.Info("dividends: token enabled", "token", token, "cycle_release_pct", cycleReleasePct)
	return nil
}

// DisableToken stops new budget carve-outs from the next cycle onward,
// letting the distribution wind down.
func (d *Distributor) DisableToken(caller, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	t, err := d.token(token)
	if err != nil {
		return err
	}
	if !t.Enabled {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distribution token %q is already disabled", token)
	}

	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	t.Enabled = false

	metrics.DividendTokensActive.Dec()
	d.log.Info("dividends: token disabled", "token", token)
	return nil
}

// RemoveToken retires a disabled token whose current-cycle budget has fully
// drained. Removal is irreversible and frees a slot for a new token.
func (d *Distributor) RemoveToken(caller, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if d.removed[token] {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distribution token %q was already removed", token)
	}
	t, err := d.token(token)
	if err != nil {
		return err
	}
	if t.Enabled {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distribution token %q is still enabled", token)
	}

	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	if t.BudgetRemaining().IsPositive() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "distribution token %q still has an active cycle budget", token)
	}

	delete(d.tokens, token)
	for i, sym := range d.tokenOrder {
		if sym == token {
			d.tokenOrder = append(d.tokenOrder[:i], d.tokenOrder[i+1:]...)
			break
		}
	}
	delete(d.users, token)
	d.removed[token] = true

	d.log.Info("dividends: token removed", "token", token)
	return nil
}

// SetCycleReleasePct adjusts the fraction of pending carved into each new
// cycle's budget, effective from the next rollover.
func (d *Distributor) SetCycleReleasePct(caller, token string, cycleReleasePct int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	t, err := d.token(token)
	if err != nil {
		return err
	}
	if cycleReleasePct < d.cfg.MinCycleReleasePct || cycleReleasePct > d.cfg.MaxCycleReleasePct {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "cycle release percent %d outside [%d, %d]",
			cycleReleasePct, d.cfg.MinCycleReleasePct, d.cfg.MaxCycleReleasePct)
	}
	t.CycleReleasePct = cycleReleasePct
	return nil
}

// SetExcluded adds or removes a contract address from dividend eligibility.
// Excluding a holder atomically reclaims their banked pending dividends into
// the token buffers and counts their balance out of the eligible supply.
func (d *Distributor) SetExcluded(caller, holder string, excluded bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if !d.cfg.Supply.IsContract(holder) {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "only contract addresses can be excluded")
	}
	if d.excluded[holder] == excluded {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "holder %q exclusion already %t", holder, excluded)
	}

	d.refresh(d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	balance := d.cfg.Supply.BalanceOf(holder)

	if excluded {
		for _, sym := range d.tokenOrder {
			t := d.tokens[sym]
			u := d.user(sym, holder)
			reclaim := accmath.PendingFromAccumulator(balance, t.AccDividendsPerShare, u.RewardDebt).
				Add(u.PendingDividends)
			if reclaim.IsPositive() {
				t.PendingAmount = t.PendingAmount.Add(reclaim)
			}
			u.PendingDividends = sdkmath.ZeroInt()
			u.RewardDebt = accmath.RewardDebt(balance, t.AccDividendsPerShare)
		}
		d.excluded[holder] = true
		d.totalExcluded = d.totalExcluded.Add(balance)
	} else {
		delete(d.excluded, holder)
		d.totalExcluded = d.totalExcluded.Sub(balance)
		if d.totalExcluded.IsNegative() {
			d.totalExcluded = sdkmath.ZeroInt()
		}
		// Re-included holders earn from here on, not retroactively.
		for _, sym := range d.tokenOrder {
			u := d.user(sym, holder)
			u.RewardDebt = accmath.RewardDebt(balance, d.tokens[sym].AccDividendsPerShare)
		}
	}

	d.log.Info("dividends: exclusion set", "holder", holder, "excluded", excluded, "balance", balance.String())
	return nil
}

// AddTrustedSource allow-lists a funding source for AddToPending.
func (d *Distributor) AddTrustedSource(caller, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if d.trusted[source] {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "source %q is already trusted", source)
	}
	d.trusted[source] = true
	d.log.Info("dividends: trusted source added", "source", source)
	return nil
}

// RemoveTrustedSource drops a funding source from the allow-list.
func (d *Distributor) RemoveTrustedSource(caller, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if !d.trusted[source] {
		return enginerr.Wrap(enginerr.ErrNotFound, "source %q is not trusted", source)
	}
	delete(d.trusted, source)
	return nil
}

// SetOperator hands the operator role to a new address.
func (d *Distributor) SetOperator(caller, operator string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireOperator(caller); err != nil {
		return err
	}
	if operator == "" {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "operator must not be empty")
	}
	d.operator = operator
	return nil
}
