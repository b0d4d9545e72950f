package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/transcribe"
)

// Scheduler defaults. Concurrency stays low on purpose: the provider
// rate-limits aggressively, and two in-flight requests with a pause between
// batches keeps runs under the limit in practice.
const (
	DefaultConcurrency = 2
	MaxConcurrency     = 2
	DefaultBatchDelay  = 750 * time.Millisecond
)

// SchedulerConfig contains chunk scheduling configuration
type SchedulerConfig struct {
	Concurrency    int           // chunks in flight per batch, 1 or 2
	BatchDelay     time.Duration // pause between batches
	MaxRetries     int           // attempts per chunk operation
	RetryBaseDelay time.Duration // backoff for the first retry
	RetryMaxDelay  time.Duration // backoff ceiling
	AttemptTimeout time.Duration // per-attempt deadline, 0 disables
}

// UploadFunc stages a chunk and returns its blob URL.
type UploadFunc func(ctx context.Context, chunk audio.Chunk) (string, error)

// TranscribeFunc turns a staged chunk into text.
type TranscribeFunc func(ctx context.Context, chunk audio.Chunk, blobURL string) (string, error)

// Scheduler runs chunk tasks in small fixed-size batches, preserving chunk
// order in the result regardless of completion order within a batch.
type Scheduler struct {
	config SchedulerConfig
	logger *slog.Logger
}

// NewScheduler creates a scheduler, clamping config to valid bounds
func NewScheduler(logger *slog.Logger, config SchedulerConfig) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	if config.Concurrency > MaxConcurrency {
		config.Concurrency = MaxConcurrency
	}

	if config.BatchDelay < 0 {
		config.BatchDelay = DefaultBatchDelay
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = transcribe.DefaultMaxAttempts
	}

	return &Scheduler{
		config: config,
		logger: logger,
	}
}

// Run processes chunks batch by batch. tasks must be parallel to chunks; the
// scheduler drives each task's state and writes its outcome. The returned
// slice holds transcriptions by chunk ordinal, with empty strings for failed
// chunks. Run itself only fails when ctx is cancelled; per-chunk failures
// are left on the tasks for the caller's failure policy.
func (s *Scheduler) Run(ctx context.Context, chunks []audio.Chunk, tasks []*ChunkTask, upload UploadFunc, transcribeFn TranscribeFunc) ([]string, error) {
	if len(chunks) != len(tasks) {
		return nil, fmt.Errorf("chunk/task count mismatch: %d vs %d", len(chunks), len(tasks))
	}

	results := make([]string, len(chunks))

	for start := 0; start < len(chunks); start += s.config.Concurrency {
		if err := ctx.Err(); err != nil {
			s.failRemaining(tasks[start:], err)
			return results, fmt.Errorf("run aborted: %w", err)
		}

		end := start + s.config.Concurrency
		if end > len(chunks) {
			end = len(chunks)
		}

		s.logger.Debug("Starting chunk batch",
			slog.Int("batch_start", start),
			slog.Int("batch_size", end-start),
			slog.Int("total_chunks", len(chunks)),
		)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = s.processChunk(ctx, chunks[idx], tasks[idx], upload, transcribeFn)
			}(i)
		}
		wg.Wait()

		// Pause between batches, but not after the last one
		if end < len(chunks) && s.config.BatchDelay > 0 {
			select {
			case <-time.After(s.config.BatchDelay):
			case <-ctx.Done():
				s.failRemaining(tasks[end:], ctx.Err())
				return results, fmt.Errorf("run aborted: %w", ctx.Err())
			}
		}
	}

	return results, nil
}

// processChunk drives one task through upload and transcription with retry.
// Returns the transcription text, or empty on failure.
func (s *Scheduler) processChunk(ctx context.Context, chunk audio.Chunk, task *ChunkTask, upload UploadFunc, transcribeFn TranscribeFunc) string {
	retryCfg := transcribe.RetryConfig{
		MaxAttempts: s.config.MaxRetries,
		BaseDelay:   s.config.RetryBaseDelay,
		MaxDelay:    s.config.RetryMaxDelay,
	}

	task.SetStatus(StatusUploading)

	uploadAttempts := 0
	blobURL, err := transcribe.Retry(ctx, retryCfg, func(ctx context.Context) (string, error) {
		if uploadAttempts > 0 {
			task.IncrementRetries()
		}
		uploadAttempts++

		return transcribe.WithTimeout(ctx, s.config.AttemptTimeout, func(ctx context.Context) (string, error) {
			return upload(ctx, chunk)
		})
	}, nil)
	if err != nil {
		task.Fail(fmt.Errorf("upload failed: %w", err))

		s.logger.Error("Chunk upload failed",
			slog.Int("chunk", task.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	task.SetBlobURL(blobURL)
	task.SetStatus(StatusTranscribing)

	transcribeAttempts := 0
	text, err := transcribe.Retry(ctx, retryCfg, func(ctx context.Context) (string, error) {
		if transcribeAttempts > 0 {
			task.IncrementRetries()
		}
		transcribeAttempts++

		return transcribe.WithTimeout(ctx, s.config.AttemptTimeout, func(ctx context.Context) (string, error) {
			return transcribeFn(ctx, chunk, blobURL)
		})
	}, nil)
	if err != nil {
		task.Fail(fmt.Errorf("transcription failed: %w", err))

		s.logger.Error("Chunk transcription failed",
			slog.Int("chunk", task.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	task.Complete(text)

	s.logger.Debug("Chunk completed",
		slog.Int("chunk", task.ID),
		slog.Int("text_length", len(text)),
	)

	return text
}

// failRemaining marks tasks that never ran as failed after an abort.
func (s *Scheduler) failRemaining(tasks []*ChunkTask, cause error) {
	for _, task := range tasks {
		if task.Status() == StatusPending {
			task.Fail(fmt.Errorf("run aborted before chunk was processed: %w", cause))
		}
	}
}
