package scheduler

import "time"

// Kind is the type of indexing work a job performs.
type Kind string

const (
	KindFullRebuild Kind = "full_rebuild"
	KindIncremental Kind = "incremental"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether a state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Stats counts a job's progress. Counts only grow; committed work
// survives cancellation.
type Stats struct {
	FilesFound       int `json:"files_found"`
	FilesProcessed   int `json:"files_processed"`
	FilesFailed      int `json:"files_failed"`
	DocumentsIndexed int `json:"documents_indexed"`
}

// Descriptor is a snapshot of a job's state. Terminal descriptors stay
// queryable after the job finishes.
type Descriptor struct {
	JobID       string    `json:"job_id"`
	TargetPath  string    `json:"target_path"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	Stats       Stats     `json:"stats"`
	Error       string    `json:"error,omitempty"`
}

// Job progress stages reported through the observer.
const (
	StageScanning   = "scanning"
	StageProcessing = "processing"
	StageIndexing   = "indexing"
	StageCompleted  = "completed"
)

// Observer receives job lifecycle callbacks. Implementations must be
// fast; callbacks run on the worker goroutine.
type Observer interface {
	OnProgress(jobID, stage string, current, total int, message string)
	OnCompleted(jobID string, stats Stats)
	OnError(jobID, kind, message string)
}

// NopObserver discards all callbacks.
type NopObserver struct{}

func (NopObserver) OnProgress(string, string, int, int, string) {}
func (NopObserver) OnCompleted(string, Stats)                   {}
func (NopObserver) OnError(string, string, string)              {}
