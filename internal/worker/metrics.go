package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	outputsTotal         *prometheus.CounterVec
	webhookFailures      *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	bytesInTotal         prometheus.Counter
	bytesOutTotal        prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_worker_jobs_total",
			Help: "Total batch jobs by kind, source type and final status.",
		}, []string{"kind", "source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filezenith_worker_job_duration_seconds",
			Help:    "Wall time spent on each batch job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "filezenith_worker_active_jobs",
			Help: "Batch jobs currently holding a worker slot.",
		}),
		outputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_worker_outputs_total",
			Help: "Files and bundles written by successful jobs.",
		}, []string{"kind"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filezenith_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their retries.",
		}, []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filezenith_usage_pixels_processed_total",
			Help: "Pixels rendered across successful jobs.",
		}),
		bytesInTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filezenith_usage_bytes_in_total",
			Help: "Source bytes read by successful jobs.",
		}),
		bytesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filezenith_usage_bytes_out_total",
			Help: "Output bytes written by successful jobs, bundles excluded.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filezenith_usage_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.webhookFailures,
		m.pixelsProcessedTotal,
		m.bytesInTotal,
		m.bytesOutTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
