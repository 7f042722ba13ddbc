package web

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics implements run.Metrics on a prometheus registry.
type PromMetrics struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	forcedAccepts *prometheus.CounterVec
	stageSeconds  *prometheus.HistogramVec
}

// NewPromMetrics registers the forge metrics on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "forge_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_runs_finished_total",
			Help: "Pipeline runs finished, by terminal status.",
		}, []string{"status"}),
		forcedAccepts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_gate_forced_accepts_total",
			Help: "Gates that advanced by forced acceptance, by gate.",
		}, []string{"gate"}),
		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_stage_duration_seconds",
			Help:    "Stage invocation duration, by stage.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"stage"}),
	}
}

func (p *PromMetrics) RunStarted() { p.runsStarted.Inc() }

func (p *PromMetrics) RunFinished(status string, _ time.Duration) {
	p.runsFinished.WithLabelValues(status).Inc()
}

func (p *PromMetrics) ForcedAccept(gateName string) {
	p.forcedAccepts.WithLabelValues(gateName).Inc()
}

func (p *PromMetrics) StageDuration(stage string, d time.Duration) {
	p.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
