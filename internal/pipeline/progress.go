package pipeline

import (
	"sync"
	"time"
)

// RunStage is the coarse phase of a transcription run.
type RunStage string

const (
	StageSplitting    RunStage = "splitting"
	StageUploading    RunStage = "uploading"
	StageTranscribing RunStage = "transcribing"
	StageAssembling   RunStage = "assembling"
	StageDone         RunStage = "done"
	StageFailed       RunStage = "failed"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	Stage     RunStage       `json:"stage"`
	Percent   float64        `json:"percent"`
	Total     int            `json:"total_chunks"`
	Completed int            `json:"completed_chunks"`
	Failed    int            `json:"failed_chunks"`
	Elapsed   time.Duration  `json:"elapsed"`
	Tasks     []TaskSnapshot `json:"tasks,omitempty"`
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// Reporter tracks run progress across stages and task state changes.
// All methods are safe for concurrent use.
type Reporter struct {
	stage     RunStage
	tasks     []*ChunkTask
	startTime time.Time
	onUpdate  ProgressFunc

	mu sync.Mutex

	// notifyMu serializes snapshot-plus-delivery so a caller never sees
	// an older snapshot after a newer one.
	notifyMu sync.Mutex
}

// Per-status contribution of one task to overall progress. A task mid-flight
// counts partially so the percentage moves while chunks are processing.
var statusWeights = map[TaskStatus]float64{
	StatusPending:      0,
	StatusUploading:    0.25,
	StatusTranscribing: 0.6,
	StatusCompleted:    1,
	StatusError:        1,
}

// NewReporter creates a reporter for a run. onUpdate may be nil.
func NewReporter(onUpdate ProgressFunc) *Reporter {
	return &Reporter{
		stage:     StageSplitting,
		startTime: time.Now(),
		onUpdate:  onUpdate,
	}
}

// SetTasks attaches the run's tasks once splitting is done.
func (r *Reporter) SetTasks(tasks []*ChunkTask) {
	r.mu.Lock()
	r.tasks = tasks
	r.mu.Unlock()
	r.Notify()
}

// SetStage advances the run to a new stage.
func (r *Reporter) SetStage(stage RunStage) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	r.Notify()
}

// Notify pushes the current progress to the update callback, if any.
// Snapshot and delivery happen under one lock, so progress reaches the
// callback in a consistent order even with concurrent task updates.
func (r *Reporter) Notify() {
	r.mu.Lock()
	callback := r.onUpdate
	r.mu.Unlock()

	if callback == nil {
		return
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	callback(r.Snapshot())
}

// Snapshot returns the current progress with per-task detail.
func (r *Reporter) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	progress := Progress{
		Stage:   r.stage,
		Total:   len(r.tasks),
		Elapsed: time.Since(r.startTime),
	}

	if len(r.tasks) == 0 {
		if r.stage == StageDone || r.stage == StageFailed {
			progress.Percent = 100
		}
		return progress
	}

	var weighted float64
	var uploading, transcribing int
	progress.Tasks = make([]TaskSnapshot, 0, len(r.tasks))

	for _, task := range r.tasks {
		snapshot := task.Snapshot()
		progress.Tasks = append(progress.Tasks, snapshot)

		status := task.Status()
		weighted += statusWeights[status]

		switch status {
		case StatusUploading:
			uploading++
		case StatusTranscribing:
			transcribing++
		case StatusCompleted:
			progress.Completed++
		case StatusError:
			progress.Failed++
		}
	}

	// While staging is the only activity the run reads as uploading;
	// once any chunk reaches the provider the transcribing label wins.
	if progress.Stage == StageTranscribing && uploading > 0 && transcribing == 0 && progress.Completed == 0 {
		progress.Stage = StageUploading
	}

	progress.Percent = weighted / float64(len(r.tasks)) * 100

	if r.stage == StageDone || r.stage == StageFailed {
		progress.Percent = 100
	}

	return progress
}
