package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/blobstore"
	"github.com/skypro1111/meeting-transcriber/internal/config"
	"github.com/skypro1111/meeting-transcriber/internal/pipeline"
	"github.com/skypro1111/meeting-transcriber/internal/transcribe"
)

// stubTranscriber returns a fixed transcript for every chunk.
type stubTranscriber struct {
	text string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	return s.text, nil
}

func newTestServer(t *testing.T) (*HTTPServer, *pipeline.Pipeline) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	pipe := pipeline.New(logger, &stubTranscriber{text: "Hello from the meeting."}, blobstore.NewMemoryStore(), nil, pipeline.Config{
		Scheduler: pipeline.SchedulerConfig{
			Concurrency:    2,
			BatchDelay:     time.Millisecond,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
			RetryMaxDelay:  time.Millisecond,
		},
	})
	t.Cleanup(pipe.Stop)

	return NewHTTPServer(cfg, logger, pipe, nil), pipe
}

func multipartUpload(t *testing.T, fieldName, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("writing form file failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing multipart writer failed: %v", err)
	}

	return body, writer.FormDataContentType()
}

func testWAV(t *testing.T) []byte {
	t.Helper()

	samples := make([]int16, 1600)
	data, err := audio.EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

func TestHandleTranscribeSync(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "file", "meeting.wav", testWAV(t))
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.handleTranscribe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result pipeline.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if result.Transcript != "Hello from the meeting." {
		t.Errorf("unexpected transcript: %q", result.Transcript)
	}
	if result.TotalChunks != 1 {
		t.Errorf("expected 1 chunk, got %d", result.TotalChunks)
	}
}

func TestHandleTranscribeAsync(t *testing.T) {
	srv, pipe := newTestServer(t)

	body, contentType := multipartUpload(t, "file", "meeting.wav", testWAV(t))
	req := httptest.NewRequest(http.MethodPost, "/transcribe?async=true", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.handleTranscribe(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	runID := resp["run_id"]
	if runID == "" {
		t.Fatal("expected a run_id in the response")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		run, ok := pipe.GetRun(runID)
		if !ok {
			t.Fatalf("run %s not found", runID)
		}
		if info := run.Info(); info.Result != nil || info.Error != "" {
			if info.Error != "" {
				t.Fatalf("run failed: %s", info.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	detailReq := httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil)
	detailRec := httptest.NewRecorder()
	srv.handleRunDetail(detailRec, detailReq)

	if detailRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", detailRec.Code)
	}
	var info pipeline.RunInfo
	if err := json.NewDecoder(detailRec.Body).Decode(&info); err != nil {
		t.Fatalf("decoding run info failed: %v", err)
	}
	if info.ID != runID {
		t.Errorf("expected run ID %s, got %s", runID, info.ID)
	}
	if info.Result == nil || info.Result.Transcript == "" {
		t.Error("expected a completed result with a transcript")
	}
}

func TestHandleTranscribeMissingFile(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader("not a form"))
	rec := httptest.NewRecorder()

	srv.handleTranscribe(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestHandleTranscribeMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/transcribe", nil)
	rec := httptest.NewRecorder()

	srv.handleTranscribe(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func TestHandleRunDetailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/no-such-run", nil)
	rec := httptest.NewRecorder()

	srv.handleRunDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestHandleRunsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()

	srv.handleRuns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("expected 0 runs, got %d", resp.Total)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", resp["status"])
	}
}

func TestHandleConfigOmitsSecrets(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.Transcription.APIKey = "sk-secret"

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()

	srv.handleConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Error("config response must not contain the API key")
	}
}

func TestDetectMIME(t *testing.T) {
	wav := testWAV(t)

	tests := []struct {
		name     string
		filename string
		declared string
		data     []byte
		want     string
	}{
		{"declared wins", "a.mp3", "audio/mpeg", wav, "audio/mpeg"},
		{"generic declared falls through", "noext", "application/octet-stream", wav, "audio/wav"},
		{"sniffed wav", "noext", "", wav, "audio/wav"},
		{"unknown binary", "noext", "", []byte{0x01, 0x02}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectMIME(tt.filename, tt.declared, tt.data)
			if got != tt.want {
				t.Errorf("detectMIME(%q, %q) = %q, want %q", tt.filename, tt.declared, got, tt.want)
			}
		})
	}
}
