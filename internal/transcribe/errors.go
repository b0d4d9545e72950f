package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for provider failures. Callers branch on these with
// errors.Is rather than parsing provider messages.
var (
	// Retryable: the provider asked us to slow down.
	ErrRateLimit = errors.New("rate limited by provider")

	// Retryable: the request or connection timed out.
	ErrTimeout = errors.New("request timed out")

	// Fatal: the API key was rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// Fatal: the account is out of quota or has a billing problem.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Fatal: the upload exceeds the provider's size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// Fatal: the provider rejected the request as malformed.
	ErrBadRequest = errors.New("bad request")
)

// Classify maps a raw provider or transport error onto the sentinel taxonomy.
// Errors it cannot place are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	// Already classified
	for _, sentinel := range []error{ErrRateLimit, ErrTimeout, ErrAuthFailed,
		ErrQuotaExceeded, ErrPayloadTooLarge, ErrBadRequest} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	// Transport errors surface as plain strings; match the usual suspects.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}

func classifyAPIError(apiErr *openai.APIError) error {
	switch apiErr.HTTPStatusCode {
	case 401, 403:
		return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Message)
	case 429:
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "quota") || strings.Contains(msg, "billing") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrRateLimit, apiErr.Message)
	case 408:
		return fmt.Errorf("%w: %s", ErrTimeout, apiErr.Message)
	case 413:
		return fmt.Errorf("%w: %s", ErrPayloadTooLarge, apiErr.Message)
	case 400, 404, 422:
		return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Message)
	}

	if apiErr.HTTPStatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrTimeout, apiErr.HTTPStatusCode, apiErr.Message)
	}

	return apiErr
}

// IsRetryable reports whether a retry could plausibly succeed. Unclassified
// errors are treated as retryable transport blips; only failures known to be
// permanent (auth, quota, oversized or malformed requests) are fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	classified := Classify(err)

	switch {
	case errors.Is(classified, ErrAuthFailed),
		errors.Is(classified, ErrQuotaExceeded),
		errors.Is(classified, ErrPayloadTooLarge),
		errors.Is(classified, ErrBadRequest):
		return false
	case errors.Is(classified, ErrRateLimit), errors.Is(classified, ErrTimeout):
		return true
	}

	return true
}
