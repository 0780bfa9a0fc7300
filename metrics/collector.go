package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/namegraph-indexer/logging"
)

// Collector manages all metrics for the indexer.
type Collector struct {
	logger *logging.ComponentLogger

	// Counters
	chunksProcessed    prometheus.Counter
	chunkFailures      prometheus.Counter
	eventsNormalized   *prometheus.CounterVec
	eventsStored       *prometheus.CounterVec
	projectionWarnings prometheus.Counter
	placeholders       prometheus.Counter
	rpcRetries         prometheus.Counter
	namesResolved      prometheus.Counter

	// Gauges
	currentBlock prometheus.Gauge
	targetBlock  prometheus.Gauge

	// Histograms
	chunkDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector(logger *logging.ComponentLogger) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		logger:   logger,
		registry: registry,

		chunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_chunks_processed_total",
			Help: "Total number of block chunks processed",
		}),

		chunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_chunk_failures_total",
			Help: "Total number of chunks that failed after retries",
		}),

		eventsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namegraph_events_normalized_total",
			Help: "Total number of normalized events by kind",
		}, []string{"kind"}),

		eventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namegraph_events_stored_total",
			Help: "Total number of event documents written by result",
		}, []string{"result"}),

		projectionWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_projection_warnings_total",
			Help: "Total number of events dropped for referencing unknown entries",
		}),

		placeholders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_placeholders_created_total",
			Help: "Total number of placeholder entries created for unseen parents",
		}),

		rpcRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_rpc_retries_total",
			Help: "Total number of retried ledger RPC calls",
		}),

		namesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "namegraph_names_resolved_total",
			Help: "Total number of full names resolved",
		}),

		currentBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "namegraph_ingest_current_block",
			Help: "Next block the ingestion will start from",
		}),

		targetBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "namegraph_ingest_target_block",
			Help: "Target block of the current ingestion pass",
		}),

		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "namegraph_chunk_duration_seconds",
			Help:    "Time spent fetching, storing and projecting one chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
	}

	registry.MustRegister(
		c.chunksProcessed,
		c.chunkFailures,
		c.eventsNormalized,
		c.eventsStored,
		c.projectionWarnings,
		c.placeholders,
		c.rpcRetries,
		c.namesResolved,
		c.currentBlock,
		c.targetBlock,
		c.chunkDuration,
	)

	registry.MustRegister(collectors.NewGoCollector())

	logger.Debug().Msg("Metrics collector initialized")

	return c
}

// Handler returns the Prometheus scrape handler for this collector's
// registry, mounted by the operational HTTP server.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordChunkProcessed increments the chunk counter and observes its
// duration in seconds.
func (c *Collector) RecordChunkProcessed(seconds float64) {
	c.chunksProcessed.Inc()
	c.chunkDuration.Observe(seconds)
}

// RecordChunkFailure increments the failed-chunk counter.
func (c *Collector) RecordChunkFailure() {
	c.chunkFailures.Inc()
}

// RecordEventNormalized increments the per-kind normalization counter.
func (c *Collector) RecordEventNormalized(kind string) {
	c.eventsNormalized.WithLabelValues(kind).Inc()
}

// RecordEventsStored adds the per-result document write counts.
func (c *Collector) RecordEventsStored(inserted, updated, failed int) {
	c.eventsStored.WithLabelValues("inserted").Add(float64(inserted))
	c.eventsStored.WithLabelValues("updated").Add(float64(updated))
	c.eventsStored.WithLabelValues("failed").Add(float64(failed))
}

// RecordProjectionWarnings adds dropped-event warnings from one batch.
func (c *Collector) RecordProjectionWarnings(n int) {
	c.projectionWarnings.Add(float64(n))
}

// RecordPlaceholders adds placeholder entries created by one batch.
func (c *Collector) RecordPlaceholders(n int) {
	c.placeholders.Add(float64(n))
}

// RecordRetry increments the RPC retry counter.
func (c *Collector) RecordRetry() {
	c.rpcRetries.Inc()
}

// RecordNamesResolved adds names resolved by one resolver pass.
func (c *Collector) RecordNamesResolved(n int) {
	c.namesResolved.Add(float64(n))
}

// UpdateCurrentBlock sets the ingestion cursor gauge.
func (c *Collector) UpdateCurrentBlock(block uint64) {
	c.currentBlock.Set(float64(block))
}

// UpdateTargetBlock sets the pass target gauge.
func (c *Collector) UpdateTargetBlock(block uint64) {
	c.targetBlock.Set(float64(block))
}
