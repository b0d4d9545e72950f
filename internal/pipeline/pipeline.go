package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/blobstore"
	"github.com/skypro1111/meeting-transcriber/internal/metrics"
	"github.com/skypro1111/meeting-transcriber/internal/transcribe"
)

// Config contains pipeline configuration
type Config struct {
	Split     audio.SplitConfig
	Scheduler SchedulerConfig

	// FailureCeiling is the tolerated fraction of failed chunks before the
	// whole run fails instead of returning a partial transcript.
	FailureCeiling float64

	// RunRetention is how long finished async runs stay queryable.
	RunRetention time.Duration

	// Transcription parameters forwarded to the provider.
	Model    string
	Language string
	Prompt   string
}

// Defaults for pipeline-level settings.
const (
	DefaultFailureCeiling = 0.3
	DefaultRunRetention   = 15 * time.Minute
)

// Result is the outcome of one transcription run.
type Result struct {
	Transcript   string         `json:"transcript"`
	Chunks       []TaskSnapshot `json:"chunks"`
	TotalChunks  int            `json:"total_chunks"`
	FailedChunks int            `json:"failed_chunks"`
	Duration     time.Duration  `json:"duration"`
}

// Run is an asynchronous transcription run tracked by the pipeline.
type Run struct {
	ID        string
	CreatedAt time.Time

	reporter   *Reporter
	result     *Result
	err        error
	finishedAt time.Time

	mu sync.RWMutex
}

// RunInfo is an API-facing snapshot of a run.
type RunInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Progress  Progress  `json:"progress"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Info returns a snapshot of the run.
func (r *Run) Info() RunInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := RunInfo{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Progress:  r.reporter.Snapshot(),
		Result:    r.result,
	}

	if r.err != nil {
		info.Error = r.err.Error()
	}

	return info
}

func (r *Run) finish(result *Result, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.finishedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) finished() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt, !r.finishedAt.IsZero()
}

// Pipeline coordinates splitting, chunk scheduling, transcription and
// transcript assembly, and tracks asynchronous runs.
type Pipeline struct {
	config      Config
	logger      *slog.Logger
	splitter    *audio.Splitter
	scheduler   *Scheduler
	assembler   *Assembler
	transcriber transcribe.Transcriber
	store       blobstore.Store
	metrics     *metrics.Metrics

	// Async run tracking
	runs    map[string]*Run
	runsMu  sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	runWG   sync.WaitGroup
}

// New creates a pipeline. metrics may be nil.
func New(logger *slog.Logger, transcriber transcribe.Transcriber, store blobstore.Store, m *metrics.Metrics, config Config) *Pipeline {
	if config.FailureCeiling <= 0 || config.FailureCeiling > 1 {
		config.FailureCeiling = DefaultFailureCeiling
	}

	if config.RunRetention <= 0 {
		config.RunRetention = DefaultRunRetention
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		config:      config,
		logger:      logger,
		splitter:    audio.NewSplitter(config.Split, m),
		scheduler:   NewScheduler(logger, config.Scheduler),
		assembler:   NewAssembler(),
		transcriber: transcriber,
		store:       store,
		metrics:     m,
		runs:        make(map[string]*Run),
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go p.startCleanupRoutine()

	return p
}

// Transcribe runs the full pipeline synchronously: split, schedule,
// transcribe, assemble. Partial chunk failures under the failure ceiling
// yield a transcript with a partial notice; above the ceiling the run fails.
func (p *Pipeline) Transcribe(ctx context.Context, blob audio.Blob) (*Result, error) {
	return p.transcribeWithReporter(ctx, blob, NewReporter(nil))
}

// TranscribeWithProgress is Transcribe with a progress callback.
func (p *Pipeline) TranscribeWithProgress(ctx context.Context, blob audio.Blob, onUpdate ProgressFunc) (*Result, error) {
	return p.transcribeWithReporter(ctx, blob, NewReporter(onUpdate))
}

func (p *Pipeline) transcribeWithReporter(ctx context.Context, blob audio.Blob, reporter *Reporter) (*Result, error) {
	startTime := time.Now()
	runID := uuid.NewString()

	p.logger.Info("Starting transcription run",
		slog.String("run_id", runID),
		slog.Int("blob_size", blob.Size()),
		slog.String("mime", blob.MIME),
	)
	p.metrics.RecordRunStarted()

	reporter.SetStage(StageSplitting)

	chunks, err := p.splitter.Split(blob)
	if err != nil {
		reporter.SetStage(StageFailed)
		p.metrics.RecordRunFailed()
		return nil, fmt.Errorf("failed to split audio: %w", err)
	}

	p.logger.Info("Audio split into chunks",
		slog.String("run_id", runID),
		slog.Int("chunks", len(chunks)),
	)
	p.metrics.RecordChunksSplit(len(chunks))

	tasks := make([]*ChunkTask, len(chunks))
	for i, chunk := range chunks {
		tasks[i] = NewChunkTask(chunk.Index, len(chunk.Data))
	}
	reporter.SetTasks(tasks)
	reporter.SetStage(StageTranscribing)

	segments, err := p.scheduler.Run(ctx, chunks, tasks,
		p.uploadFunc(runID, reporter),
		p.transcribeFunc(reporter),
	)
	if err != nil {
		reporter.SetStage(StageFailed)
		p.metrics.RecordRunFailed()
		return nil, err
	}

	p.cleanupBlobs(tasks)

	failed := failedOrdinals(tasks)
	failedFraction := float64(len(failed)) / float64(len(tasks))

	if failedFraction > p.config.FailureCeiling {
		reporter.SetStage(StageFailed)
		p.metrics.RecordRunFailed()

		return nil, fmt.Errorf("transcription failed for %d of %d chunks (%s), exceeding the tolerated fraction %.2f",
			len(failed), len(tasks), describeFailures(tasks, failed), p.config.FailureCeiling)
	}

	reporter.SetStage(StageAssembling)

	transcript := p.assembler.AssemblePartial(segments, failed, len(tasks))

	reporter.SetStage(StageDone)

	result := &Result{
		Transcript:   transcript,
		Chunks:       snapshotTasks(tasks),
		TotalChunks:  len(tasks),
		FailedChunks: len(failed),
		Duration:     time.Since(startTime),
	}

	p.logger.Info("Transcription run completed",
		slog.String("run_id", runID),
		slog.Int("chunks", len(tasks)),
		slog.Int("failed_chunks", len(failed)),
		slog.Duration("duration", result.Duration),
	)
	p.metrics.RecordRunCompleted(time.Since(startTime), len(failed) > 0)

	return result, nil
}

// StartRun launches an asynchronous run and returns its ID immediately.
func (p *Pipeline) StartRun(blob audio.Blob) (string, error) {
	if err := p.ctx.Err(); err != nil {
		return "", fmt.Errorf("pipeline is shutting down: %w", err)
	}

	run := &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		reporter:  NewReporter(nil),
	}

	p.runsMu.Lock()
	p.runs[run.ID] = run
	p.runsMu.Unlock()

	p.runWG.Add(1)
	go func() {
		defer p.runWG.Done()

		result, err := p.transcribeWithReporter(p.ctx, blob, run.reporter)
		run.finish(result, err)
	}()

	return run.ID, nil
}

// GetRun returns a tracked run by ID.
func (p *Pipeline) GetRun(id string) (*Run, bool) {
	p.runsMu.RLock()
	defer p.runsMu.RUnlock()

	run, exists := p.runs[id]
	return run, exists
}

// ListRuns returns snapshots of all tracked runs, newest first.
func (p *Pipeline) ListRuns() []RunInfo {
	p.runsMu.RLock()
	infos := make([]RunInfo, 0, len(p.runs))
	for _, run := range p.runs {
		infos = append(infos, run.Info())
	}
	p.runsMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos
}

// SplitterStats exposes splitter statistics for monitoring.
func (p *Pipeline) SplitterStats() audio.SplitterStats {
	return p.splitter.GetStats()
}

// Stop cancels in-flight runs and shuts the pipeline down.
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping pipeline...")

	p.cancel()
	p.runWG.Wait()
	<-p.cleanup

	p.logger.Info("Pipeline stopped",
		slog.Int("tracked_runs", len(p.ListRuns())),
	)
}

// uploadFunc stages a chunk in the blob store.
func (p *Pipeline) uploadFunc(runID string, reporter *Reporter) UploadFunc {
	return func(ctx context.Context, chunk audio.Chunk) (string, error) {
		defer reporter.Notify()

		name := fmt.Sprintf("%s/chunk-%04d", runID, chunk.Index)
		url, err := p.store.Put(ctx, name, chunk.Data)
		if err != nil {
			return "", err
		}

		p.metrics.RecordChunkUploaded(len(chunk.Data))
		return url, nil
	}
}

// transcribeFunc fetches a staged chunk back from the blob store and sends
// it to the provider. Reading through the store keeps the transcription leg
// independent of the upload leg's in-memory bytes.
func (p *Pipeline) transcribeFunc(reporter *Reporter) TranscribeFunc {
	return func(ctx context.Context, chunk audio.Chunk, blobURL string) (string, error) {
		defer reporter.Notify()

		data, err := p.store.Get(ctx, blobURL)
		if err != nil {
			return "", fmt.Errorf("failed to fetch staged chunk %s: %w", blobURL, err)
		}

		startTime := time.Now()
		text, err := p.transcriber.Transcribe(ctx, transcribe.Request{
			Audio:    data,
			MIME:     chunk.MIME,
			Model:    p.config.Model,
			Language: p.config.Language,
			Prompt:   p.config.Prompt,
		})

		p.metrics.RecordTranscription(time.Since(startTime), err == nil)
		return text, err
	}
}

// cleanupBlobs removes staged chunks once the run has settled. Best effort.
func (p *Pipeline) cleanupBlobs(tasks []*ChunkTask) {
	for _, task := range tasks {
		url := task.BlobURL()
		if url == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.store.Delete(ctx, url); err != nil {
			p.logger.Warn("Failed to delete staged chunk",
				slog.String("blob_url", url),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// startCleanupRoutine expires finished runs past the retention window.
func (p *Pipeline) startCleanupRoutine() {
	defer close(p.cleanup)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.expireRuns()
		}
	}
}

func (p *Pipeline) expireRuns() {
	now := time.Now()
	expired := make([]string, 0)

	p.runsMu.RLock()
	for id, run := range p.runs {
		if finishedAt, done := run.finished(); done && now.Sub(finishedAt) > p.config.RunRetention {
			expired = append(expired, id)
		}
	}
	p.runsMu.RUnlock()

	if len(expired) == 0 {
		return
	}

	p.runsMu.Lock()
	for _, id := range expired {
		delete(p.runs, id)
	}
	p.runsMu.Unlock()

	p.logger.Debug("Expired finished runs",
		slog.Int("count", len(expired)),
	)
}

// failedOrdinals returns the ordinals of failed tasks in ascending order.
func failedOrdinals(tasks []*ChunkTask) []int {
	var failed []int
	for _, task := range tasks {
		if task.Status() == StatusError {
			failed = append(failed, task.ID)
		}
	}
	sort.Ints(failed)
	return failed
}

// describeFailures summarizes why the listed chunks failed.
func describeFailures(tasks []*ChunkTask, failed []int) string {
	byID := make(map[int]*ChunkTask, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	parts := make([]string, 0, len(failed))
	for _, id := range failed {
		if task, ok := byID[id]; ok && task.Err() != nil {
			parts = append(parts, fmt.Sprintf("chunk %d: %v", id, task.Err()))
		} else {
			parts = append(parts, fmt.Sprintf("chunk %d", id))
		}
	}

	return strings.Join(parts, "; ")
}

func snapshotTasks(tasks []*ChunkTask) []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(tasks))
	for i, task := range tasks {
		snapshots[i] = task.Snapshot()
	}
	return snapshots
}
