package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCoreMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCoreMetrics(reg)
	m.ObserveEvent("appended")
	m.ObserveBatchSkipped(3)
	m.ObserveCycle("accepted", 1)
	m.ObserveQueued()
	m.ObserveFeedback("sent")
}

func TestCoreMetricsNilSafe(t *testing.T) {
	var m *CoreMetrics
	m.ObserveEvent("appended")
	m.ObserveBatchSkipped(1)
	m.ObserveCycle("failed", 2)
	m.ObserveQueued()
	m.ObserveFeedback("failed")
}
