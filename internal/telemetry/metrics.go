// Package telemetry exposes Prometheus collectors for pipeline runs, agent
// calls and adapter health.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sherpa"

// Metrics implements pipeline.Metrics and agent.Observer.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	agentLatency  *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	adapterHealth *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages including retries.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_retries_total",
			Help:      "Stage retries by error code.",
		}, []string{"stage", "code"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by terminal stage.",
		}, []string{"outcome"}),
		agentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "completion_duration_seconds",
			Help:      "Latency of single adapter completion attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"agent_type", "adapter", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "adapter_fallbacks_total",
			Help:      "Switches from one adapter to the next candidate.",
		}, []string{"agent_type", "from", "to"}),
		adapterHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "adapter",
			Name:      "healthy",
			Help:      "1 when the last health probe of the adapter succeeded.",
		}, []string{"adapter"}),
	}
	reg.MustRegister(m.stageDuration, m.stageRetries, m.outcomes, m.agentLatency, m.fallbacks, m.adapterHealth)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage, result(err)).Observe(d.Seconds())
}

func (m *Metrics) IncStageRetry(stage, code string) {
	m.stageRetries.WithLabelValues(stage, code).Inc()
}

func (m *Metrics) IncOutcome(stage string) {
	m.outcomes.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveCompletion(agentType, adapterID string, d time.Duration, err error) {
	m.agentLatency.WithLabelValues(agentType, adapterID, result(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveFallback(agentType, from, to string) {
	m.fallbacks.WithLabelValues(agentType, from, to).Inc()
}

// SetAdapterHealth matches adapter.WithHealthObserver.
func (m *Metrics) SetAdapterHealth(id string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.adapterHealth.WithLabelValues(id).Set(v)
}
