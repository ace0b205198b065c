// Package metrics exposes admission activity in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/lab-scheduler/internal/admission"
)

const namespace = "lab_scheduler"

// Collector records admission activity. It satisfies admission.Observer.
type Collector struct {
	registry *prometheus.Registry

	admissions    *prometheus.CounterVec
	completions   *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	bindFailures  *prometheus.CounterVec
	occupancy     *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
}

var _ admission.Observer = (*Collector)(nil)

// New builds a Collector on its own registry, including Go runtime and process metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome (admitted, queued, promoted).",
		}, []string{"laboratory", "outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_completions_total",
			Help:      "Completed sessions by reason (ended, expired).",
		}, []string{"laboratory", "reason"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_cancellations_total",
			Help:      "Waiting entries removed before admission, by reason.",
		}, []string{"laboratory", "reason"}),
		bindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hardware_bind_failures_total",
			Help:      "Session creations that found no hardware to bind.",
		}, []string{"laboratory"}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "laboratory_occupancy",
			Help:      "InProgress sessions per laboratory.",
		}, []string{"laboratory"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Waiting entries per laboratory.",
		}, []string{"laboratory"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.admissions,
		c.completions,
		c.cancellations,
		c.bindFailures,
		c.occupancy,
		c.queueDepth,
	)
	return c
}

// TrackChannels exports the number of open waiting and admitted channels as
// reported by count at scrape time.
func (c *Collector) TrackChannels(count func() (waiting, admitted int)) {
	for _, kind := range []string{"waiting", "admitted"} {
		kind := kind
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "open_channels",
			Help:        "Notification channels currently bound.",
			ConstLabels: prometheus.Labels{"state": kind},
		}, func() float64 {
			waiting, admitted := count()
			if kind == "waiting" {
				return float64(waiting)
			}
			return float64(admitted)
		}))
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveAdmission(labID, outcome string) {
	c.admissions.WithLabelValues(labID, outcome).Inc()
}

func (c *Collector) ObserveCompletion(labID, reason string) {
	c.completions.WithLabelValues(labID, reason).Inc()
}

func (c *Collector) ObserveCancellation(labID, reason string) {
	c.cancellations.WithLabelValues(labID, reason).Inc()
}

func (c *Collector) ObserveBindFailure(labID string) {
	c.bindFailures.WithLabelValues(labID).Inc()
}

func (c *Collector) ObserveLaboratory(labID string, occupancy, queued int) {
	c.occupancy.WithLabelValues(labID).Set(float64(occupancy))
	c.queueDepth.WithLabelValues(labID).Set(float64(queued))
}
