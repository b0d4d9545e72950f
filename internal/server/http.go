package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/config"
	"github.com/skypro1111/meeting-transcriber/internal/metrics"
	"github.com/skypro1111/meeting-transcriber/internal/pipeline"
)

// HTTPServer serves the transcription REST API.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	pipeline  *pipeline.Pipeline
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewHTTPServer creates an HTTP server exposing the transcription API.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, pipe *pipeline.Pipeline, m *metrics.Metrics) *HTTPServer {
	s := &HTTPServer{
		logger:    logger,
		config:    cfg,
		pipeline:  pipe,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler: mux,
		// Uploads can be large; keep the read timeout generous.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/transcribe", s.withMetrics("/transcribe", s.handleTranscribe))
	mux.HandleFunc("/runs", s.withMetrics("/runs", s.handleRuns))
	mux.HandleFunc("/runs/", s.withMetrics("/runs/{id}", s.handleRunDetail))
	mux.HandleFunc("/health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("/config", s.withMetrics("/config", s.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleRoot)
}

// withMetrics wraps a handler with request metrics collection.
func (s *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", wrapped.statusCode), time.Since(start))
	}
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start begins listening for HTTP requests.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	return s.server.Shutdown(ctx)
}

// handleTranscribe accepts an audio upload and transcribes it. With
// ?async=true the upload starts a background run and the run ID is
// returned immediately.
func (s *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.HTTP.MaxBodySize)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("missing or invalid 'file' form field: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	blob := audio.Blob{
		Data: data,
		MIME: detectMIME(header.Filename, header.Header.Get("Content-Type"), data),
	}

	s.logger.Info("Received transcription request",
		"filename", header.Filename,
		"size_bytes", len(data),
		"mime", blob.MIME)

	if r.URL.Query().Get("async") == "true" {
		runID, err := s.pipeline.StartRun(blob)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"run_id": runID,
			"status": "accepted",
		})
		return
	}

	result, err := s.pipeline.Transcribe(r.Context(), blob)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleRuns returns summaries of all tracked runs.
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runs := s.pipeline.ListRuns()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(runs),
		"runs":  runs,
	})
}

// handleRunDetail returns the state of a single run.
func (s *HTTPServer) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, ok := s.pipeline.GetRun(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}

	s.writeJSON(w, http.StatusOK, run.Info())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"active_runs":    len(s.pipeline.ListRuns()),
	})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"splitter":       s.pipeline.SplitterStats(),
		"runs":           len(s.pipeline.ListRuns()),
	})
}

func (s *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// API keys are omitted from the response.
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"http": map[string]interface{}{
			"port":          s.config.HTTP.Port,
			"address":       s.config.HTTP.Address,
			"max_body_size": s.config.HTTP.MaxBodySize,
		},
		"limits": map[string]interface{}{
			"max_chunk_bytes":     s.config.Limits.MaxChunkBytes,
			"max_chunk_duration":  s.config.Limits.MaxChunkDuration,
			"hard_limit_bytes":    s.config.Limits.HardLimitBytes,
			"min_sample_rate":     s.config.Limits.MinSampleRate,
			"downsample_attempts": s.config.Limits.DownsampleAttempts,
		},
		"transcription": map[string]interface{}{
			"model":    s.config.Transcription.Model,
			"language": s.config.Transcription.Language,
		},
		"pipeline": map[string]interface{}{
			"concurrency":     s.config.Pipeline.Concurrency,
			"batch_delay":     s.config.Pipeline.BatchDelay,
			"max_retries":     s.config.Pipeline.MaxRetries,
			"failure_ceiling": s.config.Pipeline.FailureCeiling,
		},
		"blobstore": map[string]interface{}{
			"backend": s.config.Blobstore.Backend,
		},
	})
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "meeting-transcriber",
		"endpoints": map[string]string{
			"POST /transcribe": "Transcribe an uploaded audio file (multipart field 'file'; add ?async=true for background runs)",
			"GET /runs":        "List tracked transcription runs",
			"GET /runs/{id}":   "Get progress and result of a run",
			"GET /health":      "Health check",
			"GET /stats":       "Service statistics",
			"GET /config":      "Active configuration (sanitized)",
			"GET /metrics":     "Prometheus metrics",
		},
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}

// detectMIME resolves the content type of an upload, preferring the
// declared header, then the file extension, then content sniffing.
func detectMIME(filename, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ext := filepath.Ext(filename); ext != "" {
		if typ := mime.TypeByExtension(ext); typ != "" {
			return typ
		}
	}
	if audio.IsWAV(data) {
		return "audio/wav"
	}
	return "application/octet-stream"
}
