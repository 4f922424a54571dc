package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the wxcode Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	BodiesExtracted   prometheus.Counter
	BodiesSkipped     prometheus.Counter
	AggregateReused   prometheus.Counter
	Syncs             *prometheus.CounterVec
	NodesWritten      prometheus.Counter
	EdgesWritten      prometheus.Counter
	Placeholders      prometheus.Gauge
	CycleNodes        prometheus.Gauge
	QueryDuration     *prometheus.HistogramVec
	SyncBatchDuration prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BodiesExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "wxcode_code_bodies_extracted_total",
			Help: "Code bodies run through the dependency extractor",
		}),
		BodiesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "wxcode_code_bodies_skipped_total",
			Help: "Code bodies skipped because they could not be decoded",
		}),
		AggregateReused: f.NewCounter(prometheus.CounterOpts{
			Name: "wxcode_aggregate_reused_total",
			Help: "Artifacts whose dependency set was reused from a previous run",
		}),
		Syncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wxcode_syncs_total",
			Help: "Graph syncs by result",
		}, []string{"result"}),
		NodesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "wxcode_graph_nodes_written_total",
			Help: "Nodes written to the graph store",
		}),
		EdgesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "wxcode_graph_edges_written_total",
			Help: "Relationships written to the graph store",
		}),
		Placeholders: f.NewGauge(prometheus.GaugeOpts{
			Name: "wxcode_graph_external_placeholders",
			Help: "External placeholder nodes created by the last build",
		}),
		CycleNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "wxcode_sequence_cycle_nodes",
			Help: "Nodes flagged with a cycle warning by the last sequencing",
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wxcode_query_duration_seconds",
			Help:    "Analyzer query latency",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"query"}),
		SyncBatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wxcode_sync_batch_duration_seconds",
			Help:    "Time spent writing one batch to the graph store",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordExtraction counts extracted and skipped bodies plus reused artifacts.
func (m *Metrics) RecordExtraction(extracted, skipped, reused int) {
	if m == nil {
		return
	}
	m.BodiesExtracted.Add(float64(extracted))
	m.BodiesSkipped.Add(float64(skipped))
	m.AggregateReused.Add(float64(reused))
}

// RecordSync counts one sync outcome and what it wrote.
func (m *Metrics) RecordSync(err error, nodes, edges int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Syncs.WithLabelValues("error").Inc()
		return
	}
	m.Syncs.WithLabelValues("ok").Inc()
	m.NodesWritten.Add(float64(nodes))
	m.EdgesWritten.Add(float64(edges))
}

// RecordBuild sets the gauges describing the last built model.
func (m *Metrics) RecordBuild(placeholders, cycleNodes int) {
	if m == nil {
		return
	}
	m.Placeholders.Set(float64(placeholders))
	m.CycleNodes.Set(float64(cycleNodes))
}

// ObserveQuery records the latency of one analyzer query.
func (m *Metrics) ObserveQuery(query string, start time.Time) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// ObserveBatch records the latency of one store batch.
func (m *Metrics) ObserveBatch(start time.Time) {
	if m == nil {
		return
	}
	m.SyncBatchDuration.Observe(time.Since(start).Seconds())
}
