package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry           *prometheus.Registry
	computations       *prometheus.CounterVec
	computationSeconds *prometheus.HistogramVec
	externalFetches    *prometheus.CounterVec
	unmatchedAttendees prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raid_attendance",
			Name:      "computations_total",
			Help:      "Attendance computations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		computationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "raid_attendance",
			Name:      "computation_duration_seconds",
			Help:      "Time spent loading sources and computing attendance.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		externalFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raid_attendance",
			Name:      "external_fetches_total",
			Help:      "Report refreshes against the external log provider.",
		}, []string{"outcome"}),
		unmatchedAttendees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raid_attendance",
			Name:      "unmatched_attendees_total",
			Help:      "External attendees dropped because no roster member matched their name.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.computations,
		m.computationSeconds,
		m.externalFetches,
		m.unmatchedAttendees,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveComputation records one finished computation started at start.
func (m *Metrics) ObserveComputation(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.computations.WithLabelValues(operation, outcome).Inc()
	m.computationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ExternalFetch(err error) {
	if err != nil {
		m.externalFetches.WithLabelValues("error").Inc()
		return
	}
	m.externalFetches.WithLabelValues("ok").Inc()
}

func (m *Metrics) UnmatchedAttendees(n int) {
	if n > 0 {
		m.unmatchedAttendees.Add(float64(n))
	}
}
