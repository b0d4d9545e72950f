package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/blobstore"
	"github.com/skypro1111/meeting-transcriber/internal/transcribe"
)

// scriptedTranscriber runs a per-chunk script. Chunks are identified by the
// first payload byte after the WAV header, which the test fixture controls.
type scriptedTranscriber struct {
	script func(chunk, attempt int) (string, error)
	calls  map[int]int
	mu     sync.Mutex
}

func newScriptedTranscriber(script func(chunk, attempt int) (string, error)) *scriptedTranscriber {
	return &scriptedTranscriber{script: script, calls: make(map[int]int)}
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	chunk := int(req.Audio[audio.HeaderSize])

	s.mu.Lock()
	s.calls[chunk]++
	attempt := s.calls[chunk]
	s.mu.Unlock()

	return s.script(chunk, attempt)
}

func (s *scriptedTranscriber) attempts(chunk int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[chunk]
}

// threeChunkBlob builds a WAV that splits into exactly 3 chunks of 2000
// payload bytes each, where chunk k's first payload byte equals k.
func threeChunkBlob(t *testing.T) audio.Blob {
	t.Helper()

	samples := make([]int16, 3000)
	for i := range samples {
		samples[i] = int16(i / 1000)
	}

	wavData, err := audio.EncodeWAV(samples, 8000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	return audio.Blob{Data: wavData, MIME: "audio/wav"}
}

func testConfig(ceiling float64) Config {
	return Config{
		Split: audio.SplitConfig{MaxChunkBytes: 2000},
		Scheduler: SchedulerConfig{
			Concurrency:    2,
			BatchDelay:     time.Millisecond,
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			RetryMaxDelay:  5 * time.Millisecond,
		},
		FailureCeiling: ceiling,
	}
}

func TestPipelinePartialSuccess(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		switch chunk {
		case 0:
			return "The meeting started on time.", nil
		case 1:
			// Two transient failures, then success
			if attempt <= 2 {
				return "", transcribe.ErrRateLimit
			}
			return "budget was approved unanimously.", nil
		default:
			// Permanently broken chunk
			return "", transcribe.ErrBadRequest
		}
	})

	store := blobstore.NewMemoryStore()
	p := New(testLogger(), tr, store, nil, testConfig(0.5))
	defer p.Stop()

	result, err := p.Transcribe(context.Background(), threeChunkBlob(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.TotalChunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", result.TotalChunks)
	}

	if result.FailedChunks != 1 {
		t.Errorf("Expected 1 failed chunk, got %d", result.FailedChunks)
	}

	if !strings.Contains(result.Transcript, "1 of 3") {
		t.Errorf("Expected partial notice, got %q", result.Transcript)
	}

	if !strings.Contains(result.Transcript, "meeting started") ||
		!strings.Contains(result.Transcript, "budget was approved") {
		t.Errorf("Expected surviving segments in transcript, got %q", result.Transcript)
	}

	// The fatal chunk must not have been retried
	if got := tr.attempts(2); got != 1 {
		t.Errorf("Fatal chunk: expected 1 attempt, got %d", got)
	}

	// The transient chunk needed 3 attempts
	if got := tr.attempts(1); got != 3 {
		t.Errorf("Transient chunk: expected 3 attempts, got %d", got)
	}

	// Tasks carry per-chunk outcomes in order
	if result.Chunks[1].Retries != 2 {
		t.Errorf("Expected 2 retries on chunk 1, got %d", result.Chunks[1].Retries)
	}

	if result.Chunks[2].Status != "error" {
		t.Errorf("Expected error status on chunk 2, got %s", result.Chunks[2].Status)
	}

	// Staged blobs are cleaned up after the run settles
	if store.Len() != 0 {
		t.Errorf("Expected staged chunks to be deleted, %d remain", store.Len())
	}
}

func TestPipelineFailureCeilingBreach(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		if chunk == 0 {
			return "Only the first chunk survives.", nil
		}
		return "", transcribe.ErrBadRequest
	})

	p := New(testLogger(), tr, blobstore.NewMemoryStore(), nil, testConfig(0.3))
	defer p.Stop()

	_, err := p.Transcribe(context.Background(), threeChunkBlob(t))
	if err == nil {
		t.Fatal("Expected run failure above the failure ceiling")
	}

	if !strings.Contains(err.Error(), "2 of 3") {
		t.Errorf("Expected failed chunk count in error, got %v", err)
	}

	if !strings.Contains(err.Error(), "chunk 1") || !strings.Contains(err.Error(), "chunk 2") {
		t.Errorf("Expected failed ordinals in error, got %v", err)
	}
}

func TestPipelineCompleteSuccess(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		switch chunk {
		case 0:
			return "First part ends here.", nil
		case 1:
			return "second part flows on", nil
		default:
			return "third part closes it.", nil
		}
	})

	p := New(testLogger(), tr, blobstore.NewMemoryStore(), nil, testConfig(0.3))
	defer p.Stop()

	result, err := p.Transcribe(context.Background(), threeChunkBlob(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.FailedChunks != 0 {
		t.Errorf("Expected no failed chunks, got %d", result.FailedChunks)
	}

	if strings.Contains(result.Transcript, "[Note:") {
		t.Errorf("Unexpected partial notice on complete run: %q", result.Transcript)
	}

	// Sentence boundary between chunk 0 and 1 triggers capitalization
	if !strings.Contains(result.Transcript, "Second part flows on") {
		t.Errorf("Expected capitalization across chunk boundary, got %q", result.Transcript)
	}
}

func TestPipelineProgressReporting(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		return "ok.", nil
	})

	p := New(testLogger(), tr, blobstore.NewMemoryStore(), nil, testConfig(0.3))
	defer p.Stop()

	var updates []Progress
	var mu sync.Mutex

	_, err := p.TranscribeWithProgress(context.Background(), threeChunkBlob(t),
		func(progress Progress) {
			mu.Lock()
			updates = append(updates, progress)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("TranscribeWithProgress failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(updates) == 0 {
		t.Fatal("Expected progress updates")
	}

	last := updates[len(updates)-1]
	if last.Stage != StageDone {
		t.Errorf("Expected final stage done, got %s", last.Stage)
	}

	if last.Percent != 100 {
		t.Errorf("Expected 100%% at completion, got %.1f", last.Percent)
	}

	if last.Completed != 3 {
		t.Errorf("Expected 3 completed chunks, got %d", last.Completed)
	}

	// Percent never regresses
	prev := -1.0
	for i, update := range updates {
		if update.Percent < prev {
			t.Errorf("Progress regressed at update %d: %.1f after %.1f", i, update.Percent, prev)
		}
		prev = update.Percent
	}
}

func TestPipelineAsyncRun(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		return "async result.", nil
	})

	p := New(testLogger(), tr, blobstore.NewMemoryStore(), nil, testConfig(0.3))
	defer p.Stop()

	id, err := p.StartRun(threeChunkBlob(t))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, exists := p.GetRun(id)
	if !exists {
		t.Fatal("Run not tracked after StartRun")
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, done := run.finished(); done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	info := run.Info()
	if info.Error != "" {
		t.Fatalf("Run failed: %s", info.Error)
	}

	if info.Result == nil {
		t.Fatal("Expected result on finished run")
	}

	if !strings.Contains(info.Result.Transcript, "async result") {
		t.Errorf("Unexpected transcript: %q", info.Result.Transcript)
	}

	if len(p.ListRuns()) != 1 {
		t.Errorf("Expected 1 tracked run, got %d", len(p.ListRuns()))
	}
}

// trackingStore counts reads so tests can assert chunk bytes travel
// through the staging store on their way to the provider.
type trackingStore struct {
	*blobstore.MemoryStore
	gets atomic.Int32
}

func (s *trackingStore) Get(ctx context.Context, url string) ([]byte, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, url)
}

func TestPipelineTranscribesStagedBytes(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		return "staged segment.", nil
	})

	store := &trackingStore{MemoryStore: blobstore.NewMemoryStore()}
	p := New(testLogger(), tr, store, nil, testConfig(0.3))
	defer p.Stop()

	result, err := p.Transcribe(context.Background(), threeChunkBlob(t))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.FailedChunks != 0 {
		t.Fatalf("Expected no failed chunks, got %d", result.FailedChunks)
	}

	// One staged read per chunk feeds the provider request
	if got := store.gets.Load(); got != 3 {
		t.Errorf("Expected 3 staged chunk reads, got %d", got)
	}

	// The transcriber identified every chunk by its staged payload byte,
	// so the fetched bytes match what was uploaded
	for chunk := 0; chunk < 3; chunk++ {
		if got := tr.attempts(chunk); got != 1 {
			t.Errorf("Chunk %d: expected 1 attempt on staged bytes, got %d", chunk, got)
		}
	}
}

func TestPipelineRejectsEmptyBlob(t *testing.T) {
	tr := newScriptedTranscriber(func(chunk, attempt int) (string, error) {
		return "", nil
	})

	p := New(testLogger(), tr, blobstore.NewMemoryStore(), nil, testConfig(0.3))
	defer p.Stop()

	_, err := p.Transcribe(context.Background(), audio.Blob{})
	if err == nil {
		t.Error("Expected error for empty blob")
	}
}
