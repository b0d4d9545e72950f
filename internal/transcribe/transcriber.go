package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Request carries one audio chunk and its transcription parameters.
type Request struct {
	Audio    []byte
	MIME     string
	FileName string
	Model    string
	Language string
	Prompt   string
}

// Transcriber turns an audio chunk into text. Implementations perform a
// single attempt; retry policy lives with the caller.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// audioTranscriber is the slice of the OpenAI client we depend on.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Config contains OpenAI transcriber configuration
type Config struct {
	APIKey       string
	BaseURL      string // optional override for compatible providers
	DefaultModel string
	Language     string
	Temperature  float32
}

// OpenAITranscriber transcribes audio chunks through the OpenAI audio API.
type OpenAITranscriber struct {
	client audioTranscriber
	config Config

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	bytesSent       uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// TranscriberStats represents transcriber statistics
type TranscriberStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	BytesSent       uint64        `json:"bytes_sent"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewOpenAITranscriber creates a transcriber backed by the OpenAI API
func NewOpenAITranscriber(config Config) (*OpenAITranscriber, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.DefaultModel == "" {
		config.DefaultModel = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAITranscriber{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Transcribe sends one chunk to the provider and returns its text. The error,
// if any, is already classified against the sentinel taxonomy.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, req Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("%w: empty audio payload", ErrBadRequest)
	}

	model := req.Model
	if model == "" {
		model = t.config.DefaultModel
	}

	language := req.Language
	if language == "" {
		language = t.config.Language
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = "chunk" + extensionForMIME(req.MIME)
	}

	startTime := time.Now()
	t.recordRequest(uint64(len(req.Audio)))

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       model,
		FilePath:    fileName,
		Reader:      bytes.NewReader(req.Audio),
		Language:    language,
		Prompt:      req.Prompt,
		Temperature: t.config.Temperature,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		t.recordFailure()
		return "", fmt.Errorf("transcription request failed: %w", Classify(err))
	}

	t.recordSuccess(time.Since(startTime))
	return strings.TrimSpace(resp.Text), nil
}

// extensionForMIME maps a MIME type to the file extension the provider uses
// to pick its decoder.
func extensionForMIME(mime string) string {
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/webm":
		return ".webm"
	default:
		return ".wav"
	}
}

// Statistics methods
func (t *OpenAITranscriber) recordRequest(payloadBytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.bytesSent += payloadBytes
}

func (t *OpenAITranscriber) recordSuccess(responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successRequests++

	// Simple moving average
	if t.avgResponseTime == 0 {
		t.avgResponseTime = responseTime
	} else {
		t.avgResponseTime = (t.avgResponseTime + responseTime) / 2
	}
}

func (t *OpenAITranscriber) recordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failedRequests++
}

// GetStats returns current transcriber statistics
func (t *OpenAITranscriber) GetStats() TranscriberStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	successRate := float64(0)
	if t.totalRequests > 0 {
		successRate = float64(t.successRequests) / float64(t.totalRequests) * 100
	}

	return TranscriberStats{
		TotalRequests:   t.totalRequests,
		SuccessRequests: t.successRequests,
		FailedRequests:  t.failedRequests,
		SuccessRate:     successRate,
		BytesSent:       t.bytesSent,
		AvgResponseTime: t.avgResponseTime,
	}
}
