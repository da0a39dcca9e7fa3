package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/handle"
	"github.com/dunamismax/filezenith/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	bytesServed       prometheus.Counter
}

func newMetrics(handles *handle.Registry, sessions *session.Manager) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filezenith_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_queue_jobs_enqueued_total",
			Help: "Total jobs enqueued to the processing queue.",
		}, []string{"queue", "kind"}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filezenith_api_download_bytes_total",
			Help: "Bytes of images and archives sent to clients.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.bytesServed,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filezenith_handles_live",
			Help: "Blobs currently held by unreleased handles.",
		}, func() float64 { return float64(handles.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filezenith_handles_bytes",
			Help: "Bytes currently held by unreleased handles.",
		}, func() float64 { return float64(handles.Bytes()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "filezenith_batches_live",
			Help: "Open batch sessions.",
		}, func() float64 { return float64(sessions.Len()) }),
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses ids in the path so labels stay bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "batches":
		parts[2] = "{id}"
		if len(parts) == 5 && parts[3] == "files" {
			parts[4] = "{index}"
		}
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "jobs":
		parts[2] = "{id}"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "handles":
		parts[2] = "{handle}"
	}
	if len(parts) > 5 {
		return "other"
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
