package pool

import "github.com/prometheus/client_golang/prometheus"

// PromMetrics implements pipeline.Metrics on top of two Prometheus
// counters, satisfying §4.2's "fire-and-forget" increment hooks with
// the metrics stack the rest of the corpus reaches for.
type PromMetrics struct {
	success prometheus.Counter
	failure prometheus.Counter
}

// NewPromMetrics registers commandSuccess/commandFailure counters on
// reg. reg may be a dedicated prometheus.NewRegistry() in tests to
// avoid colliding with the default global registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		success: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "respool_command_success_total",
			Help: "Number of commands that received a non-error RESP reply.",
		}),
		failure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "respool_command_failure_total",
			Help: "Number of commands that received a RESP error reply.",
		}),
	}
	reg.MustRegister(m.success, m.failure)
	return m
}

func (m *PromMetrics) IncSuccess() { m.success.Inc() }
func (m *PromMetrics) IncFailure() { m.failure.Inc() }
