package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/engine"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/postgres"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/server"
	"github.com/ExcaliburExchange/yield-engine/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server on localhost:6060")
	listenAddrFlag := flag.String("listen-addr", ":8080", "address to listen on for HTTP (or set LISTEN_ADDR env var)")

	operatorFlag := flag.String("operator", "", "operator identity allowed to call admin operations (or set OPERATOR env var)")
	trustedSourcesFlag := flag.StringSlice("trusted-source", nil, "identity allowed to fund dividend tokens, repeatable (or set TRUSTED_SOURCES env var, comma-separated)")

	rewardPerSecondFlag := flag.String("reward-per-second", "0", "lock reward emission per second, integer base units")
	minLockFlag := flag.Duration("min-lock", 24*time.Hour, "minimum lock duration")
	maxLockFlag := flag.Duration("max-lock", 364*24*time.Hour, "maximum lock duration")
	maxLockMultiplierFlag := flag.Int64("max-lock-multiplier", 20_000, "bonus multiplier at max lock duration, basis points")
	cycleDurationFlag := flag.Duration("cycle-duration", 24*time.Hour, "dividend distribution cycle duration")

	databaseURLFlag := flag.String("database-url", "", "PostgreSQL connection string for snapshot persistence (or set DATABASE_URL env var); empty runs in memory only")
	migrateFlag := flag.Bool("migrate", true, "run database migrations on startup")
	snapshotIntervalFlag := flag.Duration("snapshot-interval", 5*time.Minute, "interval between state snapshots")

	flag.Parse()

	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	if env := os.Getenv("OPERATOR"); env != "" {
		*operatorFlag = env
	}
	if env := os.Getenv("TRUSTED_SOURCES"); env != "" {
		*trustedSourcesFlag = splitCommaList(env)
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		*databaseURLFlag = env
	}

	if *operatorFlag == "" {
		return fmt.Errorf("--operator is required")
	}
	rewardPerSecond, ok := sdkmath.NewIntFromString(*rewardPerSecondFlag)
	if !ok {
		return fmt.Errorf("invalid --reward-per-second %q", *rewardPerSecondFlag)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: sentryEnv,
			Release:     version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store engine.SnapshotStore
	if *databaseURLFlag != "" {
		pgStore, err := postgres.NewStore(ctx, postgres.Config{
			Logger:        log,
			ConnStr:       *databaseURLFlag,
			RunMigrations: *migrateFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	}

	eng, err := engine.New(engine.Config{
		Logger:            log,
		Clock:             clockwork.NewRealClock(),
		Operator:          *operatorFlag,
		MinLockDuration:   *minLockFlag,
		MaxLockDuration:   *maxLockFlag,
		MaxLockMultiplier: *maxLockMultiplierFlag,
		RewardPerSecond:   rewardPerSecond,
		CycleDuration:     *cycleDurationFlag,
		TrustedSources:    *trustedSourcesFlag,
		Store:             store,
		SnapshotInterval:  *snapshotIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if store != nil {
		if err := eng.RestoreLatest(ctx); err != nil {
			return fmt.Errorf("failed to restore latest snapshot: %w", err)
		}
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		ListenAddr: *listenAddrFlag,
		Engine:     eng,
		Version:    server.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	eng.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if *enablePprofFlag {
		g.Go(func() error {
			pprofSrv := &http.Server{Addr: "localhost:6060"}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = pprofSrv.Shutdown(shutdownCtx)
			}()
			log.Info("pprof server listening", "address", pprofSrv.Addr)
			if err := pprofSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("pprof server error: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
