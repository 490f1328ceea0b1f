// Package metrics defines the prometheus instruments of the review service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var generationBuckets = []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90}

type Metrics struct {
	TransitionsTotal         *prometheus.CounterVec
	AssignmentsTotal         *prometheus.CounterVec
	GenerationDuration       *prometheus.HistogramVec
	GenerationDegradedTotal  *prometheus.CounterVec
	GenerationRecordsDropped prometheus.Counter
	EventsBroadcastTotal     prometheus.Counter
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftreview_transitions_total",
			Help: "Workflow transitions by event and result.",
		}, []string{"event", "result"}),
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftreview_assignments_total",
			Help: "Reviewer assignment attempts by result.",
		}, []string{"result"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "draftreview_generation_duration_seconds",
			Help:    "AI provider call duration in seconds.",
			Buckets: generationBuckets,
		}, []string{"provider", "outcome"}),
		GenerationDegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftreview_generation_degraded_total",
			Help: "Generations that fell back to the primary draft, by reason.",
		}, []string{"reason"}),
		GenerationRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftreview_generation_records_dropped_total",
			Help: "Usage records dropped because the recorder pool was saturated.",
		}),
		EventsBroadcastTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftreview_task_events_broadcast_total",
			Help: "Task events published to the live feed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TransitionsTotal,
			m.AssignmentsTotal,
			m.GenerationDuration,
			m.GenerationDegradedTotal,
			m.GenerationRecordsDropped,
			m.EventsBroadcastTotal,
		)
	}
	return m
}

// NewNop returns unregistered instruments, for tests.
func NewNop() *Metrics {
	return New(nil)
}
