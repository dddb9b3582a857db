// Package engine composes the lock-slot ledger and the dividend distributor
// with their collaborators into one service, and runs the periodic refresh
// and snapshot-persistence loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/basestake"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/dividends"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/lockledger"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
)

// State is the full persistable engine state.
type State struct {
	TakenAt   time.Time           `json:"taken_at"`
	Locks     lockledger.Snapshot `json:"locks"`
	Dividends dividends.Snapshot  `json:"dividends"`
}

// SnapshotStore persists engine state snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, state State) error
	LatestSnapshot(ctx context.Context) (*State, error)
}

// Config configures the composed engine.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Operator string

	// Lock ledger.
	MinLockDuration   time.Duration
	MaxLockDuration   time.Duration
	MaxLockMultiplier int64
	MaxSlotsPerUser   int
	MaxDepositFeeBps  uint16
	RewardPerSecond   sdkmath.Int

	// Dividend distributor.
	CycleDuration      time.Duration
	MinCycleReleasePct int64
	MaxCycleReleasePct int64
	MaxActiveTokens    int
	TrustedSources     []string

	// Persistence. Optional; without a store the engine runs in memory only.
	Store            SnapshotStore
	SnapshotInterval time.Duration
	RefreshInterval  time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Operator == "" {
		return errors.New("operator is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	return nil
}

// Engine owns both accounting subsystems and the reference collaborators
// they run against.
type Engine struct {
	log   *slog.Logger
	cfg   Config
	clock clockwork.Clock

	Locks     *lockledger.Ledger
	Dividends *dividends.Distributor

	Token         *basestake.Token
	BaseStake     *basestake.Ledger
	StakeVault    *basestake.StakeVault
	RewardPayer   *basestake.RewardPayer
	DividendVault *basestake.DividendVault
}

// New builds the engine: collaborators first, then both subsystems, then the
// token balance hook feeding the distributor.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	token := basestake.NewToken()
	baseStake := basestake.NewLedger()
	stakeVault := basestake.NewStakeVault()
	rewardPayer := basestake.NewRewardPayer()
	dividendVault := basestake.NewDividendVault()

	locks, err := lockledger.New(lockledger.Config{
		Logger:            cfg.Logger,
		Clock:             cfg.Clock,
		Operator:          cfg.Operator,
		MinLockDuration:   cfg.MinLockDuration,
		MaxLockDuration:   cfg.MaxLockDuration,
		MaxLockMultiplier: cfg.MaxLockMultiplier,
		MaxSlotsPerUser:   cfg.MaxSlotsPerUser,
		MaxDepositFeeBps:  cfg.MaxDepositFeeBps,
		RewardPerSecond:   cfg.RewardPerSecond,
		BaseStake:         baseStake,
		Vault:             stakeVault,
		Payer:             rewardPayer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock ledger: %w", err)
	}

	divs, err := dividends.New(dividends.Config{
		Logger:             cfg.Logger,
		Clock:              cfg.Clock,
		Operator:           cfg.Operator,
		CycleDuration:      cfg.CycleDuration,
		MinCycleReleasePct: cfg.MinCycleReleasePct,
		MaxCycleReleasePct: cfg.MaxCycleReleasePct,
		MaxActiveTokens:    cfg.MaxActiveTokens,
		Supply:             token,
		Vault:              dividendVault,
		TrustedSources:     cfg.TrustedSources,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dividend distributor: %w", err)
	}

	token.SetBalanceHook(divs.OnHolderBalanceChanged)

	return &Engine{
		log:           cfg.Logger,
		cfg:           cfg,
		clock:         cfg.Clock,
		Locks:         locks,
		Dividends:     divs,
		Token:         token,
		BaseStake:     baseStake,
		StakeVault:    stakeVault,
		RewardPayer:   rewardPayer,
		DividendVault: dividendVault,
	}, nil
}

// Snapshot captures both subsystems.
func (e *Engine) Snapshot() State {
	return State{
		TakenAt:   e.clock.Now(),
		Locks:     e.Locks.Snapshot(),
		Dividends: e.Dividends.Snapshot(),
	}
}

// Restore loads a snapshot into freshly constructed subsystems.
func (e *Engine) Restore(state State) error {
	if err := e.Locks.Restore(state.Locks); err != nil {
		return fmt.Errorf("failed to restore lock ledger: %w", err)
	}
	if err := e.Dividends.Restore(state.Dividends); err != nil {
		return fmt.Errorf("failed to restore dividend distributor: %w", err)
	}
	e.log.Info("engine: state restored", "taken_at", state.TakenAt)
	return nil
}

// RestoreLatest loads the most recent persisted snapshot, if any.
func (e *Engine) RestoreLatest(ctx context.Context) error {
	if e.cfg.Store == nil {
		return nil
	}
	state, err := e.cfg.Store.LatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, enginerr.ErrNotFound) {
			e.log.Info("engine: no persisted snapshot, starting fresh")
			return nil
		}
		return fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return e.Restore(*state)
}

// Start runs the refresh and snapshot loops until the context is canceled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		e.log.Info("engine: starting refresh loop", "interval", e.cfg.RefreshInterval)

		ticker := e.clock.NewTicker(e.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.Dividends.Refresh()
			}
		}
	}()

	if e.cfg.Store == nil {
		return
	}
	go func() {
		e.log.Info("engine: starting snapshot loop", "interval", e.cfg.SnapshotInterval)

		ticker := e.clock.NewTicker(e.cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.persist(context.WithoutCancel(ctx))
				return
			case <-ticker.Chan():
				e.persist(ctx)
			}
		}
	}()
}

func (e *Engine) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := e.cfg.Store.SaveSnapshot(ctx, e.Snapshot()); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		e.log.Error("engine: failed to persist snapshot", "error", err)
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
}
