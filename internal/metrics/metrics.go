package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camsim"

// Metrics exposes engine and HTTP counters on a private registry
type Metrics struct {
	registry *prometheus.Registry

	eventsSent     *prometheus.CounterVec
	deviceErrors   *prometheus.CounterVec
	devicesRemoved *prometheus.CounterVec
	reportsDropped *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Events published per device.",
		}, []string{"device_id"}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Failed ticks per device.",
		}, []string{"device_id"}),
		devicesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_removed_total",
			Help:      "Remove commands processed by the engine, by outcome.",
		}, []string{"success"}),
		reportsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_dropped_total",
			Help:      "Reports discarded because a sink's queue was full.",
		}, []string{"sink"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.eventsSent,
		m.deviceErrors,
		m.devicesRemoved,
		m.reportsDropped,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// TrackActiveDevices registers a gauge that reads the device count on every scrape
func (m *Metrics) TrackActiveDevices(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_devices",
		Help:      "Devices currently registered.",
	}, func() float64 { return float64(count()) }))
}

// Name identifies the sink in logs
func (m *Metrics) Name() string { return "metrics" }

// HandleReport counts an engine report. A successful removal drops the device's series.
func (m *Metrics) HandleReport(_ context.Context, r models.Report) error {
	switch r.Type {
	case models.ReportEventSent:
		m.eventsSent.WithLabelValues(r.DeviceID).Inc()
	case models.ReportError:
		m.deviceErrors.WithLabelValues(r.DeviceID).Inc()
	case models.ReportDeviceRemoved:
		m.devicesRemoved.WithLabelValues(strconv.FormatBool(r.Succeeded())).Inc()
		if r.Succeeded() {
			m.eventsSent.DeleteLabelValues(r.DeviceID)
			m.deviceErrors.DeleteLabelValues(r.DeviceID)
		}
	}
	return nil
}

// ReportDropped counts a report a sink never saw
func (m *Metrics) ReportDropped(sink string) {
	m.reportsDropped.WithLabelValues(sink).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations labelled by route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}
