// Package postgres persists engine state snapshots as jsonb rows.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/engine"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/utils/pkg/retry"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config holds the snapshot store configuration.
type Config struct {
	Logger  *slog.Logger
	ConnStr string

	// KeepSnapshots bounds the table size; older rows are pruned on save.
	KeepSnapshots int

	RunMigrations bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ConnStr == "" {
		return errors.New("connection string is required")
	}
	if cfg.KeepSnapshots <= 0 {
		cfg.KeepSnapshots = 100
	}
	return nil
}

// Store is a Postgres-backed engine.SnapshotStore.
type Store struct {
	log  *slog.Logger
	cfg  Config
	pool *pgxpool.Pool
}

// NewStore connects to Postgres, retrying transient failures, and optionally
// runs the embedded migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := runMigrations(cfg.ConnStr); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	cfg.Logger.Info("postgres: snapshot store connected")
	return &Store{log: cfg.Logger, cfg: cfg, pool: pool}, nil
}

func runMigrations(connStr string) error {
	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveSnapshot inserts the state as a jsonb row and prunes rows beyond the
// retention bound.
func (s *Store) SaveSnapshot(ctx context.Context, state engine.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO engine_snapshots (taken_at, state) VALUES ($1, $2)`,
		state.TakenAt, payload)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM engine_snapshots
		 WHERE id NOT IN (
		     SELECT id FROM engine_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1
		 )`,
		s.cfg.KeepSnapshots)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.log.Debug("postgres: snapshot saved", "taken_at", state.TakenAt, "bytes", len(payload))
	return nil
}

// LatestSnapshot returns the most recent snapshot, or ErrNotFound when the
// table is empty.
func (s *Store) LatestSnapshot(ctx context.Context) (*engine.State, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM engine_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, enginerr.Wrap(enginerr.ErrNotFound, "no persisted snapshots")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	var state engine.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &state, nil
}

// SnapshotCount returns the number of retained snapshots.
func (s *Store) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM engine_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}
