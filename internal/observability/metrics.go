package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects pipeline-level counters and latencies.
//
// A nil *Metrics is valid and records nothing, so components can take it
// optionally without nil checks at every call site.
type Metrics struct {
	registry *prometheus.Registry

	triggersTotal     *prometheus.CounterVec
	pipelineRunsTotal *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	llmLatency        prometheus.Histogram
	photosSkipped     prometheus.Counter
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_triggers_total",
			Help: "Trigger events by source and outcome (accepted, debounced, ignored).",
		}, []string{"source", "outcome"}),
		pipelineRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_pipeline_runs_total",
			Help: "Pipeline runs by terminal state.",
		}, []string{"state"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_total",
			Help: "Dispatch attempts by destination and result.",
		}, []string{"destination", "result"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_llm_generation_seconds",
			Help:    "Latency of LLM generation calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		photosSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_photos_skipped_total",
			Help: "Photos skipped because their timestamp was at or below a workflow gate.",
		}),
	}

	registry.MustRegister(
		m.triggersTotal,
		m.pipelineRunsTotal,
		m.dispatchTotal,
		m.llmLatency,
		m.photosSkipped,
	)
	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTrigger counts a trigger event outcome for a source.
func (m *Metrics) RecordTrigger(source, outcome string) {
	if m == nil {
		return
	}
	m.triggersTotal.WithLabelValues(source, outcome).Inc()
}

// RecordPipelineRun counts a pipeline run ending in the given terminal state.
func (m *Metrics) RecordPipelineRun(state string) {
	if m == nil {
		return
	}
	m.pipelineRunsTotal.WithLabelValues(state).Inc()
}

// RecordDispatch counts a dispatch attempt.
func (m *Metrics) RecordDispatch(destination string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.dispatchTotal.WithLabelValues(destination, result).Inc()
}

// RecordLLMLatency observes the duration of one generation call.
func (m *Metrics) RecordLLMLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(d.Seconds())
}

// RecordPhotoSkipped counts a gate-timestamp skip.
func (m *Metrics) RecordPhotoSkipped() {
	if m == nil {
		return
	}
	m.photosSkipped.Inc()
}
