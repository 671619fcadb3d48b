package pipeline

// Metrics receives fire-and-forget increment hooks from a Handler. It
// is deliberately opaque: the pipeline never inspects counts, it only
// reports events. rclient.NewClient wires the Prometheus-backed
// pool.PromMetrics; pool.NewPool and NewHandler fall back to
// NoopMetrics when given nil.
type Metrics interface {
	IncSuccess()
	IncFailure()
}

// NoopMetrics discards every hook.
type NoopMetrics struct{}

func (NoopMetrics) IncSuccess() {}
func (NoopMetrics) IncFailure() {}
