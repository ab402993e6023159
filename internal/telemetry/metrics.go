package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the Prometheus instruments exported by the engine:
// one struct of pre-registered vectors constructed once at startup and
// passed down into the components that record to them.
type Registry struct {
	IngestBatchSize    *prometheus.HistogramVec
	IngestFailures     *prometheus.CounterVec
	LeafTickDuration   *prometheus.HistogramVec
	LeafMatchedCount   *prometheus.GaugeVec
	CompositeTickDur   *prometheus.HistogramVec
	CompositeCount     prometheus.Gauge
	NotificationsSent  *prometheus.CounterVec
	DensityRecords     prometheus.Gauge
	DensityDeltaSize   *prometheus.HistogramVec
	BroadcastConsumers prometheus.Gauge
}

// NewRegistry constructs and registers every instrument against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		IngestBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertrun_ingest_batch_rows",
			Help:    "Rows per upserted ingestion batch, by metric family.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"family"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertrun_ingest_failures_total",
			Help: "Consecutive-counted ingestion failures, by metric family.",
		}, []string{"family"}),
		LeafTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertrun_leaf_tick_duration_seconds",
			Help:    "Time spent evaluating one leaf listener update.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		LeafMatchedCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alertrun_leaf_matched_symbols",
			Help: "Current matched-symbol count per leaf listener.",
		}, []string{"kind", "fingerprint"}),
		CompositeTickDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertrun_composite_tick_duration_seconds",
			Help:    "Time spent evaluating one composite alert tick.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		CompositeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertrun_composites_active",
			Help: "Number of live composite alerts in the registry.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertrun_notifications_total",
			Help: "Notifications dispatched, by outcome.",
		}, []string{"outcome"}),
		DensityRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertrun_density_records",
			Help: "Current in-memory order-density record count.",
		}),
		DensityDeltaSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertrun_density_delta_entries",
			Help:    "Entries per broadcast density delta, by kind.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"kind"}),
		BroadcastConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alertrun_density_consumers",
			Help: "Currently connected density broadcast consumers.",
		}),
	}

	reg.MustRegister(
		m.IngestBatchSize, m.IngestFailures, m.LeafTickDuration, m.LeafMatchedCount,
		m.CompositeTickDur, m.CompositeCount, m.NotificationsSent,
		m.DensityRecords, m.DensityDeltaSize, m.BroadcastConsumers,
	)
	return m
}
