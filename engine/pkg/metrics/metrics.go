package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "yield_engine_build_info",
			Help: "Build information of the yield engine",
		},
		[]string{"version", "commit", "date"},
	)

	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_engine_lock_operations_total",
			Help: "Total lock-slot ledger operations by type and status",
		},
		[]string{"operation", "status"},
	)

	LockSlotsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "yield_engine_lock_slots_active",
			Help: "Currently active lock slots per pool",
		},
		[]string{"pool"},
	)

	LockBonusForfeitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yield_engine_lock_bonus_forfeited_total",
			Help: "Number of emergency withdrawals that burned a locked bonus",
		},
	)

	DividendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_engine_dividend_operations_total",
			Help: "Total dividend distributor operations by type and status",
		},
		[]string{"operation", "status"},
	)

	DividendCycleRolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_engine_dividend_cycle_rollovers_total",
			Help: "Cycle boundary rollovers per distribution token",
		},
		[]string{"token"},
	)

	DividendTokensActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yield_engine_dividend_tokens_active",
			Help: "Number of currently enabled distribution tokens",
		},
	)

	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_engine_snapshots_total",
			Help: "Total engine state snapshots persisted",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yield_engine_http_requests_total",
			Help: "Total HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
