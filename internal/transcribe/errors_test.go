package transcribe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func apiError(status int, message string) error {
	return &openai.APIError{
		HTTPStatusCode: status,
		Message:        message,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"unauthorized", apiError(401, "invalid api key"), ErrAuthFailed},
		{"forbidden", apiError(403, "access denied"), ErrAuthFailed},
		{"rate limit", apiError(429, "rate limit reached"), ErrRateLimit},
		{"quota", apiError(429, "you exceeded your current quota"), ErrQuotaExceeded},
		{"billing", apiError(429, "billing hard limit reached"), ErrQuotaExceeded},
		{"request timeout", apiError(408, "request timeout"), ErrTimeout},
		{"too large", apiError(413, "maximum content size exceeded"), ErrPayloadTooLarge},
		{"bad request", apiError(400, "unrecognized file format"), ErrBadRequest},
		{"not found", apiError(404, "model not found"), ErrBadRequest},
		{"server error", apiError(500, "internal server error"), ErrTimeout},
		{"bad gateway", apiError(502, "bad gateway"), ErrTimeout},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrTimeout},
		{"connection reset", errors.New("read: connection reset by peer"), ErrTimeout},
		{"client timeout", errors.New("Client.Timeout exceeded while awaiting headers"), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			if !errors.Is(classified, tt.sentinel) {
				t.Errorf("Classify(%v) = %v, expected %v", tt.err, classified, tt.sentinel)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	wrapped := fmt.Errorf("chunk 3: %w", ErrQuotaExceeded)
	if Classify(wrapped) != wrapped {
		t.Error("Already classified errors should pass through unchanged")
	}
}

func TestClassifyUnknownPassthrough(t *testing.T) {
	unknown := errors.New("something unexpected happened")
	if Classify(unknown) != unknown {
		t.Error("Unclassifiable errors should pass through unchanged")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"rate limit", ErrRateLimit, true},
		{"timeout", ErrTimeout, true},
		{"auth", ErrAuthFailed, false},
		{"quota", ErrQuotaExceeded, false},
		{"too large", ErrPayloadTooLarge, false},
		{"bad request", ErrBadRequest, false},
		{"wrapped fatal", fmt.Errorf("chunk 2: %w", ErrAuthFailed), false},
		{"wrapped retryable", fmt.Errorf("chunk 2: %w", ErrRateLimit), true},
		{"raw server error", apiError(503, "service unavailable"), true},
		{"raw unauthorized", apiError(401, "invalid api key"), false},
		{"unknown", errors.New("flaky network thing"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, expected %v", tt.err, got, tt.retryable)
			}
		})
	}
}
