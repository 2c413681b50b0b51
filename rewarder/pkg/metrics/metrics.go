package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airvault_rewarder_build_info",
			Help: "Build information of the AirVault rewarder",
		},
		[]string{"version", "commit", "date"},
	)

	PollerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_poller_ticks_total",
			Help: "Total number of poller ticks by result",
		},
		[]string{"result"},
	)

	SettlementPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_settlement_passes_total",
			Help: "Total number of settlement passes by outcome",
		},
		[]string{"outcome"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airvault_rewarder_settlement_duration_seconds",
			Help:    "Duration of settlement passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
	)

	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airvault_rewarder_last_processed_block",
			Help: "Block number of the last settlement pass",
		},
	)

	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_distributions_total",
			Help: "Total number of disbursement attempts by status",
		},
		[]string{"status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_notifications_total",
			Help: "Total number of vault notifications ingested",
		},
		[]string{"kind", "status"},
	)

	OverConsumptionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_over_consumption_total",
			Help: "Total number of withdrawals that exceeded the recorded balance",
		},
	)

	LedgerDepositors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airvault_rewarder_ledger_depositors",
			Help: "Number of depositors with an outstanding balance at the last settlement pass",
		},
	)

	LedgerLots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airvault_rewarder_ledger_lots",
			Help: "Number of outstanding lots at the last settlement pass",
		},
	)

	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_journal_writes_total",
			Help: "Total number of settlement journal writes",
		},
		[]string{"status"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_alerts_total",
			Help: "Total number of alerts sent",
		},
		[]string{"reporter", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airvault_rewarder_http_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"route", "status"},
	)
)
