package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stopAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "control",
			Name:      "stop_attempts_total",
			Help:      "Number of stop escalation stages delivered to a server process.",
		}, []string{"stage"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "control",
			Name:      "stops_total",
			Help:      "Number of stop requests by outcome (stopped, nothing_to_do, failed).",
		}, []string{"result"},
	)
	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "control",
			Name:      "starts_total",
			Help:      "Number of start requests by outcome.",
		}, []string{"result"},
	)
	stopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "serverctl",
			Subsystem: "control",
			Name:      "stop_duration_seconds",
			Help:      "Wall time spent in the stop escalation ladder.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	portResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "resolver",
			Name:      "port_resolutions_total",
			Help:      "Number of port to PID lookups by result (found, free).",
		}, []string{"result"},
	)
	extractionTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "extraction",
			Name:      "tasks_total",
			Help:      "Number of extraction tasks reaching a status.",
		}, []string{"status"},
	)
	extractionRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "serverctl",
			Subsystem: "extraction",
			Name:      "queue_rejections_total",
			Help:      "Number of extraction submissions rejected because the pool was saturated.",
		},
	)
	extractionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "serverctl",
			Subsystem: "extraction",
			Name:      "active",
			Help:      "Extraction tasks currently being processed by a worker.",
		},
	)
	serverCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "serverctl",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage of the active server process at the last sample.",
		}, []string{"name"},
	)
	serverMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "serverctl",
			Subsystem: "server",
			Name:      "memory_mb",
			Help:      "Resident memory of the active server process at the last sample.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		stopAttempts, stops, starts, stopDuration, portResolutions,
		extractionTasks, extractionRejections, extractionActive,
		serverCPUPercent, serverMemoryMB,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStopAttempt(stage string) {
	if regOK.Load() {
		stopAttempts.WithLabelValues(stage).Inc()
	}
}

func IncStop(result string) {
	if regOK.Load() {
		stops.WithLabelValues(result).Inc()
	}
}

func IncStart(result string) {
	if regOK.Load() {
		starts.WithLabelValues(result).Inc()
	}
}

func ObserveStopDuration(seconds float64) {
	if regOK.Load() {
		stopDuration.Observe(seconds)
	}
}

func IncPortResolution(found bool) {
	if !regOK.Load() {
		return
	}
	if found {
		portResolutions.WithLabelValues("found").Inc()
	} else {
		portResolutions.WithLabelValues("free").Inc()
	}
}

func IncExtraction(status string) {
	if regOK.Load() {
		extractionTasks.WithLabelValues(status).Inc()
	}
}

func IncExtractionRejected() {
	if regOK.Load() {
		extractionRejections.Inc()
	}
}

func AddExtractionActive(delta float64) {
	if regOK.Load() {
		extractionActive.Add(delta)
	}
}

func SetServerUsage(name string, s Sample) {
	if regOK.Load() {
		serverCPUPercent.WithLabelValues(name).Set(s.CPUPercent)
		serverMemoryMB.WithLabelValues(name).Set(s.MemoryMB)
	}
}
