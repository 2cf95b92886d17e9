package trace

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// RiskLabel is the label under which training reports the risk of a candidate.
const RiskLabel = "risk"

// Metrics counts traced values on a private prometheus registry and keeps a
// histogram of the finite risks it sees.
type Metrics struct {
	Registry *prometheus.Registry

	events     *prometheus.CounterVec
	risks      prometheus.Histogram
	infeasible prometheus.Counter
	best       prometheus.Gauge
	bestRisk   float64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bagcluster",
			Name:      "trace_events_total",
			Help:      "Traced values by level and label.",
		}, []string{"level", "label"}),
		risks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bagcluster",
			Name:      "candidate_risk",
			Help:      "Risk of every evaluated weight vector.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 2, 16),
		}),
		infeasible: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bagcluster",
			Name:      "infeasible_candidates_total",
			Help:      "Evaluated weight vectors without a usable labeling.",
		}),
		best: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bagcluster",
			Name:      "best_risk",
			Help:      "Lowest finite risk seen so far.",
		}),
		bestRisk: math.Inf(1),
	}
	m.Registry.MustRegister(m.events, m.risks, m.infeasible, m.best)
	return m
}

// WriteToTextfile writes the metrics in the text exposition format.
func (m *Metrics) WriteToTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, m.Registry)
}

func (m *Metrics) observe(level, label string, value interface{}) {
	m.events.WithLabelValues(level, label).Inc()
	if label != RiskLabel {
		return
	}
	r, ok := value.(float64)
	if !ok {
		return
	}
	if math.IsInf(r, 0) || math.IsNaN(r) {
		m.infeasible.Inc()
		return
	}
	m.risks.Observe(r)
	if r < m.bestRisk {
		m.bestRisk = r
		m.best.Set(r)
	}
}

func (m *Metrics) Trace(label string, value interface{}) { m.observe("trace", label, value) }
func (m *Metrics) Debug(label string, value interface{}) { m.observe("debug", label, value) }
func (m *Metrics) Info(label string, value interface{})  { m.observe("info", label, value) }
func (m *Metrics) Warn(label string, value interface{})  { m.observe("warn", label, value) }
func (m *Metrics) Error(label string, value interface{}) { m.observe("error", label, value) }
