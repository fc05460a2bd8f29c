package optimizer

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the optimizer does across all optimizations it runs.
type Metrics struct {
	RulesApplied       *prometheus.CounterVec
	ProjectionsApplied *prometheus.CounterVec
	BudgetExceeded     *prometheus.CounterVec
	Splices            prometheus.Counter
	OptimizeDuration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	const (
		namespace = "planopt"
		subsystem = "optimizer"
	)

	return &Metrics{
		RulesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rules_applied_total",
			Help:      "Number of first-pass rule applications that changed a plan",
		}, []string{"rule"}),

		ProjectionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "projections_applied_total",
			Help:      "Number of times a projection replaced a table read",
		}, []string{"projection"}),

		BudgetExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "budget_exceeded_total",
			Help:      "Number of optimizations that ran out of their rewrite budget",
		}, []string{"pass", "mode"}),

		Splices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subplan_splices_total",
			Help:      "Number of local sub-plans optimized and spliced into their parent plan",
		}),

		OptimizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "optimize_duration_seconds",
			Help:      "Histogram of times spent optimizing plans",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 5, 7),
		}),
	}
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RulesApplied,
		m.ProjectionsApplied,
		m.BudgetExceeded,
		m.Splices,
		m.OptimizeDuration,
	}
}

func budgetMode(s *Settings) string {
	if s.IsExplain() {
		return "explain"
	}
	return "execute"
}
