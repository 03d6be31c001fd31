package metrics

import "github.com/prometheus/client_golang/prometheus"

// CoreMetrics exposes counters/histograms for ingest and generation flows.
type CoreMetrics struct {
	eventsTotal   *prometheus.CounterVec
	batchSkipped  prometheus.Counter
	cyclesTotal   *prometheus.CounterVec
	cycleAttempts prometheus.Histogram
	queuedTotal   prometheus.Counter
	feedbackTotal *prometheus.CounterVec
}

func NewCoreMetrics(reg prometheus.Registerer) *CoreMetrics {
	m := &CoreMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scambaiter",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total ingested events",
		}, []string{"status"}),
		batchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scambaiter",
			Subsystem: "ingest",
			Name:      "forward_batch_skipped_total",
			Help:      "Total forward-batch events skipped as duplicates",
		}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scambaiter",
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total generation cycles by terminal status",
		}, []string{"status"}),
		cycleAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scambaiter",
			Subsystem: "cycle",
			Name:      "attempts_per_run",
			Help:      "Model attempts spent per cycle",
			Buckets:   []float64{1, 2},
		}),
		queuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scambaiter",
			Subsystem: "handoff",
			Name:      "queued_total",
			Help:      "Total action plans queued for delivery",
		}),
		feedbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scambaiter",
			Subsystem: "handoff",
			Name:      "feedback_total",
			Help:      "Total delivery feedback reports by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.batchSkipped, m.cyclesTotal, m.cycleAttempts, m.queuedTotal, m.feedbackTotal)
	return m
}

func (m *CoreMetrics) ObserveEvent(status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(status).Inc()
}

func (m *CoreMetrics) ObserveBatchSkipped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchSkipped.Add(float64(count))
}

// ObserveCycle satisfies the cycle runner's metrics hook.
func (m *CoreMetrics) ObserveCycle(status string, attempts int) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.cycleAttempts.Observe(float64(attempts))
	}
}

func (m *CoreMetrics) ObserveQueued() {
	if m == nil {
		return
	}
	m.queuedTotal.Inc()
}

func (m *CoreMetrics) ObserveFeedback(outcome string) {
	if m == nil {
		return
	}
	m.feedbackTotal.WithLabelValues(outcome).Inc()
}
