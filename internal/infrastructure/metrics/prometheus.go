// Package metrics exposes dispatch outcomes as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "case_event_handler"

// Recorder implements the dispatcher's Metrics interface
type Recorder struct {
	events   *prometheus.CounterVec
	duration prometheus.Histogram
	handlers *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Case events processed, by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_seconds",
			Help:      "Time spent processing one case event",
			Buckets:   prometheus.DefBuckets,
		}),
		handlers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_runs_total",
			Help:      "Handler executions, by handler and outcome",
		}, []string{"handler", "outcome"}),
	}
}

// EventProcessed counts one event and records its processing time
func (r *Recorder) EventProcessed(outcome string, elapsed time.Duration) {
	r.events.WithLabelValues(outcome).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// HandlerCompleted counts one handler execution
func (r *Recorder) HandlerCompleted(handler, outcome string) {
	r.handlers.WithLabelValues(handler, outcome).Inc()
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
