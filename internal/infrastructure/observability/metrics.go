package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	LedgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total number of applied ledger entries",
		},
		[]string{"type"},
	)

	LedgerAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_amount_total",
			Help: "Absolute amount moved by applied ledger entries",
		},
		[]string{"type"},
	)

	SchedulerJobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "status"},
	)

	PostingFeeListings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posting_fee_listings_total",
			Help: "Listings processed by the daily posting fee run, by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		LedgerTransactions,
		LedgerAmount,
		SchedulerJobRuns,
		PostingFeeListings,
	)
}
