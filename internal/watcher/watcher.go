package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/scheduler"
)

const (
	// DefaultDebounceWindow is how long bursts of events for the same
	// path are coalesced before a batch is emitted.
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultRetryInterval is how often roots whose job submission was
	// rejected get retried.
	DefaultRetryInterval = time.Second
)

// Submitter accepts indexing jobs. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(targetPath string, kind scheduler.Kind) (*scheduler.Descriptor, error)
}

// Options configures a Watcher.
type Options struct {
	DebounceWindow time.Duration
	RetryInterval  time.Duration

	// Exclude holds glob patterns matched against file base names,
	// mirroring the scheduler's scan filter.
	Exclude []string

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Watcher observes watched roots with fsnotify, coalesces change bursts
// through a debouncer and submits one incremental indexing job per
// affected root. Rejected submissions (a job for the root is already
// active, or the scheduler is at capacity) are kept in a retry set and
// resubmitted on a ticker until they are admitted.
type Watcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	submitter Submitter
	logger    *slog.Logger

	mu      sync.Mutex
	roots   map[string]struct{}
	pending map[string]struct{}
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher that feeds incremental jobs to submitter.
func New(opts Options, submitter Submitter) (*Watcher, error) {
	opts = opts.withDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, enginerr.New(enginerr.ErrCodeInternal, "create filesystem watcher", err)
	}

	return &Watcher{
		opts:      opts,
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.Logger),
		submitter: submitter,
		logger:    opts.Logger,
		roots:     make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the notify and dispatch loops. Watch may be called
// before or after Start.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return enginerr.New(enginerr.ErrCodeInternal, "watcher is stopped", nil)
	}
	if w.started {
		return nil
	}
	w.started = true

	w.wg.Add(2)
	go w.notifyLoop()
	go w.dispatchLoop()
	return nil
}

// Stop halts both loops and releases the fsnotify handle. Safe to call
// more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	err := w.fsWatcher.Close()
	w.debouncer.Stop()
	w.wg.Wait()
	return err
}

// Watch registers path and all directories beneath it.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return enginerr.New(enginerr.ErrCodeFileNotFound,
			fmt.Sprintf("resolve watch path %s", path), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return enginerr.New(enginerr.ErrCodeFileNotFound,
			fmt.Sprintf("stat watch path %s", abs), err)
	}
	if !info.IsDir() {
		return enginerr.New(enginerr.ErrCodeDocumentProcessing,
			fmt.Sprintf("watch path %s is not a directory", abs), nil)
	}

	if err := w.addRecursive(abs); err != nil {
		return enginerr.New(enginerr.ErrCodeInternal,
			fmt.Sprintf("register watches under %s", abs), err)
	}

	w.mu.Lock()
	w.roots[abs] = struct{}{}
	w.mu.Unlock()

	w.logger.Info("watch_root_added", slog.String("path", abs))
	return nil
}

// Unwatch drops path and everything beneath it. Pending retries for the
// root are discarded.
func (w *Watcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return enginerr.New(enginerr.ErrCodeFileNotFound,
			fmt.Sprintf("resolve watch path %s", path), err)
	}

	w.mu.Lock()
	delete(w.roots, abs)
	delete(w.pending, abs)
	w.mu.Unlock()

	prefix := abs + string(filepath.Separator)
	for _, watched := range w.fsWatcher.WatchList() {
		if watched == abs || strings.HasPrefix(watched, prefix) {
			_ = w.fsWatcher.Remove(watched)
		}
	}

	w.logger.Info("watch_root_removed", slog.String("path", abs))
	return nil
}

// addRecursive registers every directory under root, skipping excluded
// ones.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) excluded(name string) bool {
	if name != "." && len(name) > 1 && name[0] == '.' {
		return true
	}
	for _, pattern := range w.opts.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// notifyLoop drains fsnotify and feeds normalized events into the
// debouncer. It must never block on downstream consumers; the debouncer
// send is non-blocking on its side.
func (w *Watcher) notifyLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent converts an fsnotify event and adds it to the debouncer.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.excluded(filepath.Base(event.Name)) {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// New subdirectories are not covered by the parent watch.
			_ = w.addRecursive(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// A rename looks like a delete at the old path; the new path
		// arrives as a separate create event.
		op = OpDelete
	default:
		// Chmod and anything else carries no content change.
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// dispatchLoop consumes debounced batches and retries rejected roots.
func (w *Watcher) dispatchLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.dispatch(batch)
		case <-ticker.C:
			w.retryPending()
		}
	}
}

// dispatch maps a batch to its affected roots and submits one
// incremental job per root.
func (w *Watcher) dispatch(batch []FileEvent) {
	affected := make(map[string]struct{})
	for _, ev := range batch {
		if root, ok := w.rootFor(ev.Path); ok {
			affected[root] = struct{}{}
		}
	}
	for root := range affected {
		w.trySubmit(root)
	}
}

// rootFor returns the longest watched root containing path.
func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	best := ""
	for root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}

// trySubmit submits an incremental job for root. A rejection because a
// job for the root is already running, or because the scheduler is full,
// parks the root in the retry set so the change is never dropped.
func (w *Watcher) trySubmit(root string) {
	desc, err := w.submitter.Submit(root, scheduler.KindIncremental)
	if err != nil {
		switch enginerr.GetCode(err) {
		case enginerr.ErrCodeDuplicateJob, enginerr.ErrCodeCapacityExceeded:
			w.mu.Lock()
			_, watched := w.roots[root]
			if watched {
				w.pending[root] = struct{}{}
			}
			w.mu.Unlock()
			w.logger.Debug("incremental_job_requeued",
				slog.String("path", root),
				slog.String("reason", enginerr.GetCode(err)))
		default:
			w.logger.Warn("incremental_job_rejected",
				slog.String("path", root),
				slog.String("error", err.Error()))
		}
		return
	}

	w.logger.Info("incremental_job_submitted",
		slog.String("job_id", desc.JobID),
		slog.String("path", root))
}

// retryPending resubmits every parked root. Roots rejected again are
// re-parked by trySubmit.
func (w *Watcher) retryPending() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	parked := make([]string, 0, len(w.pending))
	for root := range w.pending {
		parked = append(parked, root)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, root := range parked {
		w.trySubmit(root)
	}
}
