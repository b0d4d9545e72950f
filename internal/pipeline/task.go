package pipeline

import (
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of a chunk task.
type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusUploading
	StatusTranscribing
	StatusCompleted
	StatusError
)

// String converts a task status to its wire representation
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusTranscribing:
		return "transcribing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ChunkTask tracks one chunk through the pipeline. A single worker drives
// each task; the mutex protects concurrent snapshot reads from progress
// reporting and the HTTP API.
type ChunkTask struct {
	ID        int
	SizeBytes int

	status        TaskStatus
	retries       int
	blobURL       string
	transcription string
	err           error
	updatedAt     time.Time

	mu sync.RWMutex
}

// TaskSnapshot is a point-in-time copy of a task's state for monitoring
// and API responses.
type TaskSnapshot struct {
	ID            int       `json:"id"`
	SizeBytes     int       `json:"size_bytes"`
	Status        string    `json:"status"`
	Retries       int       `json:"retries"`
	BlobURL       string    `json:"blob_url,omitempty"`
	Transcription string    `json:"transcription,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewChunkTask creates a pending task for chunk id.
func NewChunkTask(id, sizeBytes int) *ChunkTask {
	return &ChunkTask{
		ID:        id,
		SizeBytes: sizeBytes,
		status:    StatusPending,
		updatedAt: time.Now(),
	}
}

// SetStatus advances the task to status. Transitions out of a terminal
// state are ignored so late goroutines cannot resurrect a settled task.
func (t *ChunkTask) SetStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.terminal() {
		return
	}

	t.status = status
	t.updatedAt = time.Now()
}

// SetBlobURL records where the chunk was uploaded.
func (t *ChunkTask) SetBlobURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blobURL = url
	t.updatedAt = time.Now()
}

// IncrementRetries bumps the retry counter.
func (t *ChunkTask) IncrementRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	t.updatedAt = time.Now()
}

// Complete marks the task successful with its transcription text.
func (t *ChunkTask) Complete(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.terminal() {
		return
	}

	t.status = StatusCompleted
	t.transcription = text
	t.updatedAt = time.Now()
}

// Fail marks the task failed with its final error.
func (t *ChunkTask) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.terminal() {
		return
	}

	t.status = StatusError
	t.err = err
	t.updatedAt = time.Now()
}

// Status returns the current status.
func (t *ChunkTask) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Transcription returns the transcribed text, empty unless completed.
func (t *ChunkTask) Transcription() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transcription
}

// Err returns the final error, nil unless failed.
func (t *ChunkTask) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// BlobURL returns the chunk's upload location.
func (t *ChunkTask) BlobURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blobURL
}

// Snapshot returns a copy of the task state.
func (t *ChunkTask) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := TaskSnapshot{
		ID:            t.ID,
		SizeBytes:     t.SizeBytes,
		Status:        t.status.String(),
		Retries:       t.retries,
		BlobURL:       t.blobURL,
		Transcription: t.transcription,
		UpdatedAt:     t.updatedAt,
	}

	if t.err != nil {
		snapshot.Error = t.err.Error()
	}

	return snapshot
}
