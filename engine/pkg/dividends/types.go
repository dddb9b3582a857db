package dividends

import (
	"errors"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
)

// SupplyReader exposes the dividend-eligible token's supply and balances.
// Implementations must not call back into the Distributor.
type SupplyReader interface {
	TotalSupply() sdkmath.Int
	BalanceOf(holder string) sdkmath.Int
	IsContract(holder string) bool
}

// Vault holds the distributable reward-token balances. Pull reports the
// amount actually received so fee-on-transfer tokens credit the realized
// delta, not the requested amount.
type Vault interface {
	Balance(token string) sdkmath.Int
	Pull(token, source string, amount sdkmath.Int) (sdkmath.Int, error)
	Transfer(token, to string, amount sdkmath.Int) error
}

// TokenState is the per-reward-token distribution state.
type TokenState struct {
	Symbol          string `json:"symbol"`
	Enabled         bool   `json:"enabled"`
	CycleReleasePct int64  `json:"cycle_release_pct"`

	// PendingAmount is deposited but not yet releasing.
	PendingAmount sdkmath.Int `json:"pending_amount"`
	// CurrentDistributionAmount is this cycle's fixed streaming budget.
	CurrentDistributionAmount sdkmath.Int `json:"current_distribution_amount"`
	// CurrentCycleDistributed100 is the amount already streamed this cycle,
	// tracked at x100 precision to limit per-refresh rounding loss.
	CurrentCycleDistributed100 sdkmath.Int `json:"current_cycle_distributed_x100"`
	// DistributedAmount is the cumulative amount finalized by cycle rollovers.
	DistributedAmount sdkmath.Int `json:"distributed_amount"`
	// AddedAmount is the cumulative amount ever credited via AddToPending.
	AddedAmount sdkmath.Int `json:"added_amount"`

	AccDividendsPerShare sdkmath.Int `json:"acc_dividends_per_share"`
	LastUpdateTime       time.Time   `json:"last_update_time"`
}

// BudgetRemaining is the un-streamed part of the current cycle's budget.
func (t *TokenState) BudgetRemaining() sdkmath.Int {
	return t.CurrentDistributionAmount.Sub(t.CurrentCycleDistributed100.QuoRaw(100))
}

// UserState is one holder's position against one reward token.
type UserState struct {
	// PendingDividends is realized but not yet withdrawn.
	PendingDividends sdkmath.Int `json:"pending_dividends"`
	RewardDebt       sdkmath.Int `json:"reward_debt"`
}

// Config configures a Distributor.
type Config struct {
	Logger             *slog.Logger
	Clock              clockwork.Clock
	Operator           string
	CycleDuration      time.Duration
	MinCycleReleasePct int64
	MaxCycleReleasePct int64
	MaxActiveTokens    int
	Supply             SupplyReader
	Vault              Vault
	TrustedSources     []string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Operator == "" {
		return errors.New("operator is required")
	}
	if cfg.Supply == nil {
		return errors.New("supply reader is required")
	}
	if cfg.Vault == nil {
		return errors.New("vault is required")
	}
	if cfg.CycleDuration <= 0 {
		return errors.New("cycle duration must be greater than 0")
	}
	if cfg.MinCycleReleasePct <= 0 {
		cfg.MinCycleReleasePct = 1
	}
	if cfg.MaxCycleReleasePct == 0 {
		cfg.MaxCycleReleasePct = 100
	}
	if cfg.MinCycleReleasePct > cfg.MaxCycleReleasePct || cfg.MaxCycleReleasePct > 100 {
		return errors.New("cycle release percent bounds must satisfy 0 < min <= max <= 100")
	}
	if cfg.MaxActiveTokens <= 0 {
		cfg.MaxActiveTokens = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Snapshot is a full serializable export of the distributor state.
type Snapshot struct {
	Operator       string          `json:"operator"`
	CycleStartTime time.Time       `json:"cycle_start_time"`
	Tokens         []TokenState    `json:"tokens"`
	Removed        []string        `json:"removed"`
	Trusted        []string        `json:"trusted"`
	Excluded       []string        `json:"excluded"`
	TotalExcluded  sdkmath.Int     `json:"total_excluded"`
	Users          []UserSnapshot  `json:"users"`
}

// UserSnapshot pairs one holder's state with its token for snapshotting.
type UserSnapshot struct {
	Token  string    `json:"token"`
	Holder string    `json:"holder"`
	State  UserState `json:"state"`
}
