package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting transcriber.
// All record methods tolerate a nil receiver so metrics stay optional.
type Metrics struct {
	// Splitting metrics
	ChunksSplit      prometheus.Counter
	ChunkBytes       prometheus.Histogram
	DownsamplePasses prometheus.Counter

	// Blob staging metrics
	ChunksUploaded prometheus.Counter
	BytesUploaded  prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Run metrics
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsPartial   prometheus.Counter
	RunsFailed    prometheus.Counter
	RunDuration   prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Splitting metrics
		ChunksSplit: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_chunks_split_total",
			Help: "Total number of audio chunks produced by splitting",
		}),
		ChunkBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mt_chunk_size_bytes",
			Help:    "Size of uploaded audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10), // 64KB to ~32MB
		}),
		DownsamplePasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_downsample_passes_total",
			Help: "Total number of adaptive downsample passes on oversized chunks",
		}),

		// Blob staging metrics
		ChunksUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_chunks_uploaded_total",
			Help: "Total number of chunks staged in the blob store",
		}),
		BytesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_bytes_uploaded_total",
			Help: "Total bytes staged in the blob store",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mt_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8.5 minutes
		}),

		// Run metrics
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_runs_started_total",
			Help: "Total number of transcription runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_runs_completed_total",
			Help: "Total number of transcription runs completed",
		}),
		RunsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_runs_partial_total",
			Help: "Total number of runs completed with failed chunks",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mt_runs_failed_total",
			Help: "Total number of failed transcription runs",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mt_run_duration_seconds",
			Help:    "End-to-end duration of transcription runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordChunksSplit increments the split counter by the chunk count
func (m *Metrics) RecordChunksSplit(count int) {
	if m == nil {
		return
	}
	m.ChunksSplit.Add(float64(count))
}

// RecordDownsamplePass increments the downsample pass counter
func (m *Metrics) RecordDownsamplePass() {
	if m == nil {
		return
	}
	m.DownsamplePasses.Inc()
}

// RecordChunkUploaded records one staged chunk and its size
func (m *Metrics) RecordChunkUploaded(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksUploaded.Inc()
	m.BytesUploaded.Add(float64(sizeBytes))
	m.ChunkBytes.Observe(float64(sizeBytes))
}

// RecordTranscription records one transcription attempt and its outcome
func (m *Metrics) RecordTranscription(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	if success {
		m.TranscriptionSuccesses.Inc()
	} else {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(duration.Seconds())
}

// RecordRunStarted increments the runs started counter
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RecordRunCompleted records a finished run and whether it was partial
func (m *Metrics) RecordRunCompleted(duration time.Duration, partial bool) {
	if m == nil {
		return
	}
	m.RunsCompleted.Inc()
	if partial {
		m.RunsPartial.Inc()
	}
	m.RunDuration.Observe(duration.Seconds())
}

// RecordRunFailed increments the runs failed counter
func (m *Metrics) RecordRunFailed() {
	if m == nil {
		return
	}
	m.RunsFailed.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
