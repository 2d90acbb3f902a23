// Package scheduler runs indexing jobs on a bounded worker pool with
// admission control, cooperative cancellation, and timeout detachment.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/extract"
	"github.com/docseek/docseek/internal/index"
)

// Defaults for scheduler limits.
const (
	DefaultMaxConcurrent = 2
	DefaultJobTimeout    = 30 * time.Minute
	DefaultDetachGrace   = 10 * time.Second
)

// Config configures a Scheduler.
type Config struct {
	Coordinator *index.Coordinator
	Processor   extract.Processor

	MaxConcurrent int
	JobTimeout    time.Duration
	DetachGrace   time.Duration

	// Exclude holds glob patterns matched against file base names.
	Exclude []string

	Observer Observer
	Logger   *slog.Logger
}

// job is the scheduler's internal per-job record.
type job struct {
	mu   sync.Mutex
	desc Descriptor

	cancelled bool // cooperative flag, checked between files
	timedOut  bool
	detached  bool // slot already freed by the grace timer

	done chan struct{}
}

func (j *job) snapshot() *Descriptor {
	j.mu.Lock()
	defer j.mu.Unlock()
	d := j.desc
	return &d
}

func (j *job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled || j.timedOut
}

// Scheduler admits and executes indexing jobs. At most one active job per
// target path and at most MaxConcurrent jobs overall; submissions beyond
// either limit are rejected, never queued.
type Scheduler struct {
	cfg  Config
	pool *ants.Pool

	mu           sync.Mutex // guards the tables below, admission and status only
	jobs         map[string]*job
	activeByPath map[string]string
	running      int
	closed       bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a scheduler with a worker pool of MaxConcurrent goroutines.
func New(cfg Config) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.DetachGrace <= 0 {
		cfg.DetachGrace = DefaultDetachGrace
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Twice the admission limit so force-detached workers that are still
	// draining do not starve fresh submissions.
	pool, err := ants.NewPool(cfg.MaxConcurrent*2, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Scheduler{
		cfg:          cfg,
		pool:         pool,
		jobs:         make(map[string]*job),
		activeByPath: make(map[string]string),
		logger:       cfg.Logger,
	}, nil
}

// Submit admits a new job. A job whose target path already has an active
// job is rejected with ErrCodeDuplicateJob; when MaxConcurrent jobs are
// active the submission is rejected with ErrCodeCapacityExceeded.
func (s *Scheduler) Submit(targetPath string, kind Kind) (*Descriptor, error) {
	// Normalize so /a, /a/ and relative spellings claim the same slot.
	if abs, err := filepath.Abs(targetPath); err == nil {
		targetPath = abs
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is closed")
	}
	if _, active := s.activeByPath[targetPath]; active {
		s.mu.Unlock()
		return nil, enginerr.DuplicateJobError(targetPath)
	}
	if s.running >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return nil, enginerr.CapacityExceededError(s.cfg.MaxConcurrent)
	}

	j := &job{
		desc: Descriptor{
			JobID:       uuid.NewString(),
			TargetPath:  targetPath,
			Kind:        kind,
			State:       StateQueued,
			SubmittedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	s.jobs[j.desc.JobID] = j
	s.activeByPath[targetPath] = j.desc.JobID
	s.running++
	s.mu.Unlock()

	s.wg.Add(1)
	if err := s.pool.Submit(func() { s.run(j) }); err != nil {
		s.wg.Done()
		s.release(j)
		s.finish(j, StateFailed, err)
		return nil, enginerr.CapacityExceededError(s.cfg.MaxConcurrent)
	}

	s.logger.Info("job_submitted",
		slog.String("job_id", j.desc.JobID),
		slog.String("target_path", targetPath),
		slog.String("kind", string(kind)))

	return j.snapshot(), nil
}

// Cancel requests cooperative cancellation. The job finishes its
// in-flight file, reports Cancelled, and keeps already committed work.
// Cancelling a terminal job is a no-op.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return enginerr.New(enginerr.ErrCodeJobNotFound,
			fmt.Sprintf("no job with id %s", jobID), nil)
	}

	j.mu.Lock()
	if !j.desc.State.Terminal() {
		j.cancelled = true
	}
	j.mu.Unlock()
	return nil
}

// Status returns a snapshot of the job, including terminal jobs.
func (s *Scheduler) Status(jobID string) (*Descriptor, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, enginerr.New(enginerr.ErrCodeJobNotFound,
			fmt.Sprintf("no job with id %s", jobID), nil)
	}
	return j.snapshot(), nil
}

// ListActive returns snapshots of all non-terminal jobs.
func (s *Scheduler) ListActive() []*Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]*Descriptor, 0, s.running)
	for _, j := range s.jobs {
		d := j.snapshot()
		if !d.State.Terminal() {
			active = append(active, d)
		}
	}
	return active
}

// Wait blocks until the job reaches a terminal state. Used by the CLI
// and by tests; the grace-detach path closes done early.
func (s *Scheduler) Wait(jobID string) (*Descriptor, error) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, enginerr.New(enginerr.ErrCodeJobNotFound,
			fmt.Sprintf("no job with id %s", jobID), nil)
	}
	<-j.done
	return j.snapshot(), nil
}

// Close cancels active jobs and waits for workers to drain.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	all := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j)
	}
	s.mu.Unlock()

	for _, j := range all {
		j.mu.Lock()
		if !j.desc.State.Terminal() {
			j.cancelled = true
		}
		j.mu.Unlock()
	}

	s.wg.Wait()
	s.pool.Release()
	return nil
}

// release frees the job's admission slot. Safe to call once per job; the
// detach timer may have released it already.
func (s *Scheduler) release(j *job) {
	j.mu.Lock()
	if j.detached {
		j.mu.Unlock()
		return
	}
	j.detached = true
	path := j.desc.TargetPath
	j.mu.Unlock()

	s.mu.Lock()
	if s.activeByPath[path] == j.desc.JobID {
		delete(s.activeByPath, path)
	}
	s.running--
	s.mu.Unlock()
}

// finish moves the job to a terminal state and notifies observers.
func (s *Scheduler) finish(j *job, state State, err error) {
	j.mu.Lock()
	if j.desc.State.Terminal() {
		j.mu.Unlock()
		return
	}
	j.desc.State = state
	j.desc.FinishedAt = time.Now()
	if err != nil {
		j.desc.Error = err.Error()
	}
	desc := j.desc
	j.mu.Unlock()

	close(j.done)

	s.logger.Info("job_finished",
		slog.String("job_id", desc.JobID),
		slog.String("state", string(state)),
		slog.Int("files_processed", desc.Stats.FilesProcessed),
		slog.Int("files_failed", desc.Stats.FilesFailed))

	switch state {
	case StateCompleted:
		s.cfg.Observer.OnCompleted(desc.JobID, desc.Stats)
	case StateFailed:
		s.cfg.Observer.OnError(desc.JobID, "job", desc.Error)
	}
}

// run executes a job on a pool worker, enforcing the timeout and the
// force-detach grace period.
func (s *Scheduler) run(j *job) {
	defer s.wg.Done()

	j.mu.Lock()
	j.desc.State = StateRunning
	j.desc.StartedAt = time.Now()
	jobID := j.desc.JobID
	j.mu.Unlock()

	// The timeout reuses the cooperative cancel path. If the job still
	// has not finished after the grace period, its slot is freed so new
	// jobs can run; the worker goroutine is left to finish on its own
	// and the index may need a consistency check.
	timeout := time.AfterFunc(s.cfg.JobTimeout, func() {
		j.mu.Lock()
		j.timedOut = true
		j.mu.Unlock()

		time.AfterFunc(s.cfg.DetachGrace, func() {
			j.mu.Lock()
			terminal := j.desc.State.Terminal()
			j.mu.Unlock()
			if terminal {
				return
			}
			s.release(j)
			s.finish(j, StateTimedOut, fmt.Errorf("job exceeded %s timeout and was detached", s.cfg.JobTimeout))
			s.logger.Warn("job_force_detached",
				slog.String("job_id", jobID),
				slog.String("target_path", j.desc.TargetPath),
				slog.Duration("timeout", s.cfg.JobTimeout),
				slog.Duration("grace", s.cfg.DetachGrace))
		})
	})
	defer timeout.Stop()

	err := s.execute(context.Background(), j)

	j.mu.Lock()
	cancelled, timedOut := j.cancelled, j.timedOut
	j.mu.Unlock()

	s.release(j)
	switch {
	case timedOut:
		s.finish(j, StateTimedOut, fmt.Errorf("job exceeded %s timeout", s.cfg.JobTimeout))
	case cancelled:
		s.finish(j, StateCancelled, nil)
	case err != nil:
		s.finish(j, StateFailed, err)
	default:
		s.cfg.Observer.OnProgress(jobID, StageCompleted, 1, 1, "")
		s.finish(j, StateCompleted, nil)
	}
}
