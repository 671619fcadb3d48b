package pool

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPromMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)

	m.IncSuccess()
	m.IncSuccess()
	m.IncFailure()

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			counts[f.GetName()] += metric.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(2), counts["respool_command_success_total"])
	require.Equal(t, float64(1), counts["respool_command_failure_total"])
}
