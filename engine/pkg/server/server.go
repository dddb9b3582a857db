// Package server exposes the engine over HTTP: health endpoints, Prometheus
// metrics, read queries, and the mutating operations with caller identity
// taken from the X-Caller header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/engine"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	"github.com/ExcaliburExchange/yield-engine/engine/pkg/metrics"
)

// VersionInfo identifies the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Config holds the HTTP server configuration.
type Config struct {
	Logger     *slog.Logger
	ListenAddr string
	Engine     *engine.Engine
	Version    VersionInfo

	ShutdownTimeout time.Duration

	// Mutating-endpoint rate limit per client IP.
	MutationRate  rate.Limit
	MutationBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MutationRate == 0 {
		cfg.MutationRate = rate.Every(time.Minute / 100)
	}
	if cfg.MutationBurst <= 0 {
		cfg.MutationBurst = 20
	}
	return nil
}

// Server is the engine's HTTP front.
type Server struct {
	log     *slog.Logger
	cfg     Config
	engine  *engine.Engine
	router  *chi.Mux
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		engine: cfg.Engine,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(requestIDMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Caller"},
	}))
	s.router.Use(s.metricsMiddleware)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
	})
	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.cfg.Version)
	})
	s.router.Handle("/metrics", promhttp.Handler())

	limiter := NewRateLimiter(s.cfg.MutationRate, s.cfg.MutationBurst)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Read queries.
		r.Get("/locks/pools", s.handleListPools)
		r.Get("/locks/pools/{pool}", s.handleGetPool)
		r.Get("/locks/pools/{pool}/slots/{user}", s.handleListSlots)
		r.Get("/locks/pools/{pool}/slots/{user}/{slot}/pending", s.handleSlotPending)
		r.Get("/dividends/tokens", s.handleListDividendTokens)
		r.Get("/dividends/tokens/{token}", s.handleGetDividendToken)
		r.Get("/dividends/pending/{holder}", s.handleHolderPending)

		// Mutations.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter))

			r.Post("/locks/pools", s.handleAddPool)
			r.Post("/locks/pools/{pool}/alloc-points", s.handleSetAllocPoints)
			r.Post("/locks/pools/{pool}/deposit-fee", s.handleSetDepositFee)
			r.Post("/locks/emission", s.handleSetRewardPerSecond)
			r.Post("/locks/disabled", s.handleSetLocksDisabled)
			r.Post("/locks/pools/{pool}/deposit", s.handleDeposit)
			r.Post("/locks/pools/{pool}/slots/{slot}/renew", s.handleRenew)
			r.Post("/locks/pools/{pool}/slots/{slot}/redeposit", s.handleRedeposit)
			r.Post("/locks/pools/{pool}/slots/{slot}/harvest", s.handleLockHarvest)
			r.Post("/locks/pools/{pool}/slots/{slot}/withdraw", s.handleWithdraw)
			r.Post("/locks/pools/{pool}/slots/{slot}/emergency-withdraw", s.handleEmergencyWithdraw)

			r.Post("/dividends/tokens/{token}/enable", s.handleEnableToken)
			r.Post("/dividends/tokens/{token}/disable", s.handleDisableToken)
			r.Post("/dividends/tokens/{token}/remove", s.handleRemoveToken)
			r.Post("/dividends/tokens/{token}/release-pct", s.handleSetCycleReleasePct)
			r.Post("/dividends/tokens/{token}/fund", s.handleAddToPending)
			r.Post("/dividends/harvest", s.handleDividendHarvest)
			r.Post("/dividends/excluded", s.handleSetExcluded)
		})
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps engine sentinels onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, enginerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, enginerr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, enginerr.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, enginerr.ErrStillLocked),
		errors.Is(err, enginerr.ErrCapacityExceeded),
		errors.Is(err, enginerr.ErrAlreadyInState):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// caller returns the request's caller identity.
func caller(r *http.Request) string {
	return r.Header.Get("X-Caller")
}
