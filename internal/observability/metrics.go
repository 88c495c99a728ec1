package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the lending ledger. All names
// carry the lending_ prefix.
type Metrics struct {
	// --- Actions ---
	ActionsApplied  *prometheus.CounterVec
	ActionsRejected *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
	Sequence        prometheus.Gauge

	// --- Risk ---
	Liquidations     *prometheus.CounterVec
	LiquidatedRepaid *prometheus.CounterVec
	LiquidatedSeized *prometheus.CounterVec
	StalePrices      *prometheus.CounterVec
	PriceUpdates     *prometheus.CounterVec
	PriceGaps        *prometheus.CounterVec

	// --- Banks ---
	BankDeposits *prometheus.GaugeVec
	BankBorrowed *prometheus.GaugeVec

	// --- Custody ---
	TransferFailures *prometheus.CounterVec
	Compensations    *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	IdempotencyTier2Errors prometheus.Counter

	// --- Channels ---
	ProjectionDrops prometheus.Counter
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistActionsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Projections ---
	ProjectionUpdates   *prometheus.CounterVec
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		ActionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_actions_applied_total",
			Help: "Actions committed by the engine",
		}, []string{"kind"}),

		ActionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_actions_rejected_total",
			Help: "Actions rejected before commit",
		}, []string{"kind", "reason"}),

		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_action_duration_seconds",
			Help:    "Time to execute one action including settlement",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lending_sequence",
			Help: "Last committed global sequence",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidations_total",
			Help: "Liquidations applied",
		}, []string{"collateral_asset", "debt_asset", "capped"}),

		LiquidatedRepaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidation_repaid_units_total",
			Help: "Debt-asset units repaid by liquidators",
		}, []string{"asset"}),

		LiquidatedSeized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidation_seized_units_total",
			Help: "Collateral-asset units seized by liquidators",
		}, []string{"asset"}),

		StalePrices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_stale_price_rejections_total",
			Help: "Actions rejected because a quote exceeded max age",
		}, []string{"asset"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_price_updates_total",
			Help: "Price updates received, by outcome",
		}, []string{"asset", "outcome"}),

		PriceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_price_sequence_gaps_total",
			Help: "Price sequences skipped between consecutive updates",
		}, []string{"asset"}),

		BankDeposits: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_bank_total_deposits",
			Help: "Bank total_deposits after the last committed action",
		}, []string{"asset"}),

		BankBorrowed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_bank_total_borrowed",
			Help: "Bank total_borrowed after the last committed action",
		}, []string{"asset"}),

		TransferFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_transfer_failures_total",
			Help: "Custody transfers rejected during settlement",
		}, []string{"kind"}),

		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_compensations_total",
			Help: "Settled transfers reversed after a failed store commit",
		}, []string{"outcome"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_idempotency_duplicates_total",
			Help: "Duplicate actions detected, by tier",
		}, []string{"kind", "tier"}),

		IdempotencyTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_idempotency_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_publish_drops_total",
			Help: "Outputs dropped because the publish channel was full",
		}),

		PersistActionsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_actions_written_total",
			Help: "Actions written to the Postgres event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_persist_batch_size",
			Help:    "Actions per persistence batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: latencyBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lending_persist_last_sequence",
			Help: "Highest sequence persisted",
		}),

		ProjectionUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_projection_updates_total",
			Help: "Projection rows updated",
		}, []string{"projection"}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_projection_update_duration_seconds",
			Help:    "Time to apply one output to the projections",
			Buckets: latencyBuckets,
		}, []string{"projection"}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ingest_messages_total",
			Help: "NATS messages handled, by subject kind and outcome",
		}, []string{"kind", "outcome"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),
	}
}
