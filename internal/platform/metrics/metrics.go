package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the camera pipeline.
// All components share one instance; a nil *Metrics disables recording.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	segmentsFinalizedTotal prometheus.Counter
	finalizeErrorsTotal    prometheus.Counter
	uploadsTotal           prometheus.Counter
	uploadFailuresTotal    prometheus.Counter
	uploadDuration         prometheus.Histogram
	encoderRestartsTotal   prometheus.Counter
	encoderRunning         prometheus.Gauge
	filesSweptTotal        prometheus.Counter
	dirsSweptTotal         prometheus.Counter
	diskUsedPercent        prometheus.Gauge
	activeSessions         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		segmentsFinalizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_segments_finalized_total",
			Help: "Total number of temp segments renamed to their final name",
		}),
		finalizeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_finalize_errors_total",
			Help: "Total number of errors while finalizing segments",
		}),
		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_uploads_total",
			Help: "Total number of successful segment uploads",
		}),
		uploadFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_upload_failures_total",
			Help: "Total number of failed segment uploads",
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "camera_upload_duration_seconds",
			Help:    "Time taken to upload a single file to the storage sink",
			Buckets: prometheus.DefBuckets,
		}),
		encoderRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_encoder_restarts_total",
			Help: "Total number of encoder process restarts after a crash",
		}),
		encoderRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_encoder_running",
			Help: "1 while the encoder process is running, 0 otherwise",
		}),
		filesSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_retention_files_removed_total",
			Help: "Total number of files removed by the retention sweeper",
		}),
		dirsSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camera_retention_dirs_removed_total",
			Help: "Total number of empty directories removed by the retention sweeper",
		}),
		diskUsedPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_disk_used_percent",
			Help: "Disk utilization of the mount holding the staging directory",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_active_sessions",
			Help: "Number of live stream sessions currently running",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsFinalizedTotal,
		m.finalizeErrorsTotal,
		m.uploadsTotal,
		m.uploadFailuresTotal,
		m.uploadDuration,
		m.encoderRestartsTotal,
		m.encoderRunning,
		m.filesSweptTotal,
		m.dirsSweptTotal,
		m.diskUsedPercent,
		m.activeSessions,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncSegmentsFinalized increments the finalized segment counter.
func (m *Metrics) IncSegmentsFinalized() {
	if m == nil {
		return
	}
	m.segmentsFinalizedTotal.Inc()
}

// IncFinalizeErrors increments the finalize error counter.
func (m *Metrics) IncFinalizeErrors() {
	if m == nil {
		return
	}
	m.finalizeErrorsTotal.Inc()
}

// ObserveUpload records one successful upload and its duration.
func (m *Metrics) ObserveUpload(d time.Duration) {
	if m == nil {
		return
	}
	m.uploadsTotal.Inc()
	m.uploadDuration.Observe(d.Seconds())
}

// IncUploadFailures increments the upload failure counter.
func (m *Metrics) IncUploadFailures() {
	if m == nil {
		return
	}
	m.uploadFailuresTotal.Inc()
}

// IncEncoderRestarts increments the encoder restart counter.
func (m *Metrics) IncEncoderRestarts() {
	if m == nil {
		return
	}
	m.encoderRestartsTotal.Inc()
}

// SetEncoderRunning records whether the encoder process is currently live.
func (m *Metrics) SetEncoderRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.encoderRunning.Set(1)
	} else {
		m.encoderRunning.Set(0)
	}
}

// AddSwept records files and directories removed by a retention sweep.
func (m *Metrics) AddSwept(files, dirs int) {
	if m == nil {
		return
	}
	m.filesSweptTotal.Add(float64(files))
	m.dirsSweptTotal.Add(float64(dirs))
}

// SetDiskUsedPercent records the staging mount utilization.
func (m *Metrics) SetDiskUsedPercent(p float64) {
	if m == nil {
		return
	}
	m.diskUsedPercent.Set(p)
}

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
