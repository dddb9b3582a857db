package lockledger

import (
	"errors"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
)

// RewardToken selects which of the two pool reward tokens a payout is made in.
type RewardToken int

const (
	RewardTokenPrimary RewardToken = iota
	RewardTokenSecondary
)

func (t RewardToken) String() string {
	if t == RewardTokenSecondary {
		return "secondary"
	}
	return "primary"
}

// BaseStakeLedger is the external non-locking staking ledger the lock slots
// are layered on. Implementations must not call back into the Ledger.
type BaseStakeLedger interface {
	BaseStake(pool, user string) sdkmath.Int
	DebitBaseStake(pool, user string, amount sdkmath.Int) error
	CreditBaseStake(pool, user string, amount sdkmath.Int) error
	HarvestBase(pool, user string) error
}

// StakeVault moves pool principal between participants and the engine.
type StakeVault interface {
	Pull(pool, user string, amount sdkmath.Int) error
	Push(pool, user string, amount sdkmath.Int) error
	CollectFee(pool string, amount sdkmath.Int) error
}

// RewardPayer settles harvested rewards and burns forfeited bonuses.
type RewardPayer interface {
	Pay(user string, token RewardToken, amount sdkmath.Int) error
	Burn(token RewardToken, amount sdkmath.Int) error
}

// Pool is one staking pool's aggregate lock-slot state.
type Pool struct {
	ID                     string      `json:"id"`
	AllocPoints            uint64      `json:"alloc_points"`
	DepositFeeBps          uint16      `json:"deposit_fee_bps"`
	SecondaryReward        bool        `json:"secondary_reward"`
	LpSupply               sdkmath.Int `json:"lp_supply"`
	LpSupplyWithMultiplier sdkmath.Int `json:"lp_supply_with_multiplier"`
	AccRewardsPerShare     sdkmath.Int `json:"acc_rewards_per_share"`
	LastRewardTime         time.Time   `json:"last_reward_time"`
}

// Closed reports the terminal pool state: allocation forced to zero after the
// pool has accrued rewards. Closed pools retroactively unlock all slots.
func (p *Pool) Closed() bool {
	return p.AllocPoints == 0 && p.AccRewardsPerShare.IsPositive()
}

// RewardToken returns the token this pool pays harvests in.
func (p *Pool) RewardToken() RewardToken {
	if p.SecondaryReward {
		return RewardTokenSecondary
	}
	return RewardTokenPrimary
}

// Slot is one independent locked position. Slot ids are indexes into a
// bounded per-user array; removal swap-removes, so ids are invalidated and
// may be reused after any removal of the same user's slots in that pool.
type Slot struct {
	Amount               sdkmath.Int   `json:"amount"`
	AmountWithMultiplier sdkmath.Int   `json:"amount_with_multiplier"`
	RewardDebt           sdkmath.Int   `json:"reward_debt"`
	LockDuration         time.Duration `json:"lock_duration"`
	DepositTime          time.Time     `json:"deposit_time"`
	Multiplier           int64         `json:"multiplier"`
	BankedBonus          sdkmath.Int   `json:"banked_bonus"`
}

// UnlockTime is the instant the slot's lock window elapses.
func (s *Slot) UnlockTime() time.Time {
	return s.DepositTime.Add(s.LockDuration)
}

// Matured reports whether the lock window has elapsed at the given time.
func (s *Slot) Matured(now time.Time) bool {
	return !now.Before(s.UnlockTime())
}

// Config configures a lock-slot Ledger.
type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	Operator          string
	MinLockDuration   time.Duration
	MaxLockDuration   time.Duration
	MaxLockMultiplier int64 // accmath.MultiplierBase fixed-point
	MaxSlotsPerUser   int
	MaxDepositFeeBps  uint16
	RewardPerSecond   sdkmath.Int
	BaseStake         BaseStakeLedger
	Vault             StakeVault
	Payer             RewardPayer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Operator == "" {
		return errors.New("operator is required")
	}
	if cfg.BaseStake == nil {
		return errors.New("base stake ledger is required")
	}
	if cfg.Vault == nil {
		return errors.New("stake vault is required")
	}
	if cfg.Payer == nil {
		return errors.New("reward payer is required")
	}
	if cfg.MinLockDuration <= 0 || cfg.MaxLockDuration <= 0 {
		return errors.New("lock durations must be greater than 0")
	}
	if cfg.MinLockDuration > cfg.MaxLockDuration {
		return errors.New("min lock duration must not exceed max lock duration")
	}
	if cfg.MaxLockMultiplier < 0 {
		return errors.New("max lock multiplier must not be negative")
	}
	if cfg.MaxSlotsPerUser <= 0 {
		cfg.MaxSlotsPerUser = 2
	}
	if cfg.MaxDepositFeeBps == 0 {
		cfg.MaxDepositFeeBps = 500
	}
	if cfg.RewardPerSecond.IsNil() {
		cfg.RewardPerSecond = sdkmath.ZeroInt()
	}
	if cfg.RewardPerSecond.IsNegative() {
		return errors.New("reward per second must not be negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Snapshot is a full serializable export of the ledger state.
type Snapshot struct {
	Operator        string         `json:"operator"`
	RewardPerSecond sdkmath.Int    `json:"reward_per_second"`
	LocksDisabled   bool           `json:"locks_disabled"`
	BurnedBonus     sdkmath.Int    `json:"burned_bonus"`
	Pools           []Pool         `json:"pools"`
	Positions       []UserPosition `json:"positions"`
}

// UserPosition groups one user's slots in one pool for snapshotting.
type UserPosition struct {
	Pool  string `json:"pool"`
	User  string `json:"user"`
	Slots []Slot `json:"slots"`
}
