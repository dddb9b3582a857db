package dividends

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/accmath"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
)

// TokenInfo is a read-only view of one distribution token.
type TokenInfo struct {
	Symbol                    string      `json:"symbol"`
	Enabled                   bool        `json:"enabled"`
	CycleReleasePct           int64       `json:"cycle_release_pct"`
	PendingAmount             sdkmath.Int `json:"pending_amount"`
	CurrentDistributionAmount sdkmath.Int `json:"current_distribution_amount"`
	CycleDistributed          sdkmath.Int `json:"cycle_distributed"`
	DistributedAmount         sdkmath.Int `json:"distributed_amount"`
	AddedAmount               sdkmath.Int `json:"added_amount"`
}

func tokenInfo(t *TokenState) TokenInfo {
	return TokenInfo{
		Symbol:                    t.Symbol,
		Enabled:                   t.Enabled,
		CycleReleasePct:           t.CycleReleasePct,
		PendingAmount:             t.PendingAmount,
		CurrentDistributionAmount: t.CurrentDistributionAmount,
		CycleDistributed:          t.CurrentCycleDistributed100.QuoRaw(100),
		DistributedAmount:         t.DistributedAmount,
		AddedAmount:               t.AddedAmount,
	}
}

// TokenInfo returns the state of one distribution token.
func (d *Distributor) TokenInfo(token string) (TokenInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.token(token)
	if err != nil {
		return TokenInfo{}, err
	}
	return tokenInfo(t), nil
}

// Tokens returns every distribution token in registration order.
func (d *Distributor) Tokens() []TokenInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TokenInfo, 0, len(d.tokenOrder))
	for _, sym := range d.tokenOrder {
		out = append(out, tokenInfo(d.tokens[sym]))
	}
	return out
}

// simulatedAcc projects a token's accumulator to now without mutating state,
// applying the same per-cycle capping as a real refresh up to the current
// cycle boundary.
func (d *Distributor) simulatedAcc(t *TokenState, now time.Time, eligible sdkmath.Int) sdkmath.Int {
	upTo := now
	if cycleEnd := d.cycleStartTime.Add(d.cfg.CycleDuration); upTo.After(cycleEnd) {
		upTo = cycleEnd
	}
	if !upTo.After(t.LastUpdateTime) || !t.CurrentDistributionAmount.IsPositive() || !eligible.IsPositive() {
		return t.AccDividendsPerShare
	}
	elapsed := int64(upTo.Sub(t.LastUpdateTime) / time.Second)
	if elapsed <= 0 {
		return t.AccDividendsPerShare
	}
	cycleSeconds := int64(d.cfg.CycleDuration / time.Second)
	toDistribute := t.CurrentDistributionAmount.MulRaw(100).MulRaw(elapsed).QuoRaw(cycleSeconds)
	budget100 := t.CurrentDistributionAmount.MulRaw(100)
	if t.CurrentCycleDistributed100.Add(toDistribute).GT(budget100) {
		toDistribute = budget100.Sub(t.CurrentCycleDistributed100)
	}
	if !toDistribute.IsPositive() {
		return t.AccDividendsPerShare
	}
	return t.AccDividendsPerShare.Add(toDistribute.Mul(scale100).Quo(eligible))
}

// PendingOf returns the holder's harvestable amount for one token as of now,
// banked plus a projected accrual. Excluded holders always read zero.
func (d *Distributor) PendingOf(holder, token string) (sdkmath.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.token(token)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if d.excluded[holder] {
		return sdkmath.ZeroInt(), nil
	}
	u := d.user(token, holder)
	acc := d.simulatedAcc(t, d.clock.Now(), d.eligibleSupply(d.cfg.Supply.TotalSupply()))
	accrued := accmath.PendingFromAccumulator(d.cfg.Supply.BalanceOf(holder), acc, u.RewardDebt)
	return u.PendingDividends.Add(accrued), nil
}

// PendingAll returns the holder's harvestable amount for every token that has
// a non-zero entry.
func (d *Distributor) PendingAll(holder string) map[string]sdkmath.Int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.excluded[holder] {
		return nil
	}
	now := d.clock.Now()
	eligible := d.eligibleSupply(d.cfg.Supply.TotalSupply())
	balance := d.cfg.Supply.BalanceOf(holder)

	out := make(map[string]sdkmath.Int)
	for _, sym := range d.tokenOrder {
		t := d.tokens[sym]
		u := d.user(sym, holder)
		acc := d.simulatedAcc(t, now, eligible)
		pending := u.PendingDividends.Add(accmath.PendingFromAccumulator(balance, acc, u.RewardDebt))
		if pending.IsPositive() {
			out[sym] = pending
		}
	}
	return out
}

// IsExcluded reports whether the holder sits on the exclusion registry.
func (d *Distributor) IsExcluded(holder string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.excluded[holder]
}

// TotalExcluded returns the summed balance of all excluded holders.
func (d *Distributor) TotalExcluded() sdkmath.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalExcluded
}

// IsTrustedSource reports whether a source may call AddToPending.
func (d *Distributor) IsTrustedSource(source string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trusted[source]
}

// Snapshot captures the full distributor state for persistence.
func (d *Distributor) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		Operator:       d.operator,
		CycleStartTime: d.cycleStartTime,
		TotalExcluded:  d.totalExcluded,
	}
	for src := range d.trusted {
		snap.Trusted = append(snap.Trusted, src)
	}
	for holder := range d.excluded {
		snap.Excluded = append(snap.Excluded, holder)
	}
	for sym := range d.removed {
		snap.Removed = append(snap.Removed, sym)
	}
	for _, sym := range d.tokenOrder {
		snap.Tokens = append(snap.Tokens, *d.tokens[sym])
	}
	for sym, byHolder := range d.users {
		for holder, u := range byHolder {
			snap.Users = append(snap.Users, UserSnapshot{Token: sym, Holder: holder, State: *u})
		}
	}
	return snap
}

// Restore loads a previously captured snapshot into a freshly constructed
// distributor.
func (d *Distributor) Restore(snap Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tokens) != 0 || len(d.users) != 0 {
		return enginerr.Wrap(enginerr.ErrAlreadyInState, "distributor already has state")
	}

	if snap.Operator != "" {
		d.operator = snap.Operator
	}
	if !snap.CycleStartTime.IsZero() {
		d.cycleStartTime = snap.CycleStartTime
	}
	if !snap.TotalExcluded.IsNil() {
		d.totalExcluded = snap.TotalExcluded
	}
	for _, src := range snap.Trusted {
		d.trusted[src] = true
	}
	for _, holder := range snap.Excluded {
		d.excluded[holder] = true
	}
	for _, sym := range snap.Removed {
		d.removed[sym] = true
	}
	active := 0
	for i := range snap.Tokens {
		t := snap.Tokens[i]
		d.tokens[t.Symbol] = &t
		d.tokenOrder = append(d.tokenOrder, t.Symbol)
		if t.Enabled {
			active++
		}
	}
	for _, u := range snap.Users {
		state := u.State
		d.user(u.Token, u.Holder)
		d.users[u.Token][u.Holder] = &state
	}
	metrics.DividendTokensActive.Set(float64(active))
	return nil
}
