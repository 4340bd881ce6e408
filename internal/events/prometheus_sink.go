package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink counts events
type PrometheusSink struct {
	created      prometheus.Counter
	transitions  *prometheus.CounterVec
	pollAttempts *prometheus.CounterVec
}

// NewPrometheusSink registers the job counters with registerer. A nil
// registerer uses the default registry.
func NewPrometheusSink(registerer prometheus.Registerer, service string) (*PrometheusSink, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if service == "" {
		service = "product-video"
	}
	constLabels := prometheus.Labels{"service": service}

	sink := &PrometheusSink{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "video_jobs_created_total",
			Help:        "Video jobs accepted for processing.",
			ConstLabels: constLabels,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "video_job_transitions_total",
			Help:        "Video job state transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "video_job_poll_attempts_total",
			Help:        "Generation operation polls by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{sink.created, sink.transitions, sink.pollAttempts} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return sink, nil
}

// Emit increments the counter matching the event
func (s *PrometheusSink) Emit(_ context.Context, event Event) {
	switch event.Kind {
	case KindJobCreated:
		s.created.Inc()
	case KindStateChanged:
		s.transitions.WithLabelValues(string(event.From), string(event.To)).Inc()
	case KindPollAttempt:
		s.pollAttempts.WithLabelValues(event.Outcome).Inc()
	}
}
