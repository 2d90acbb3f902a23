// Package engine wires the stores, coordinator, scheduler, watcher and
// search engine into one embeddable facade.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/docseek/docseek/internal/config"
	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/extract"
	"github.com/docseek/docseek/internal/index"
	"github.com/docseek/docseek/internal/logging"
	"github.com/docseek/docseek/internal/scheduler"
	"github.com/docseek/docseek/internal/search"
	"github.com/docseek/docseek/internal/store"
	"github.com/docseek/docseek/internal/vector"
	"github.com/docseek/docseek/internal/watcher"
)

const (
	fulltextDirName  = "fulltext.bleve"
	catalogFileName  = "catalog.db"
	vectorFileName   = "vectors.hnsw"
	lockFileName     = ".lock"
	logFileName      = "engine.log"
	retrySweepPeriod = time.Minute
)

// Options configures an Engine beyond what the config file carries.
type Options struct {
	// Config overrides config-file loading entirely when set.
	Config *config.Config

	// ConfigPath points at a .docseek.yaml; ignored when Config is set.
	ConfigPath string

	// Observer receives job progress callbacks. Optional.
	Observer scheduler.Observer

	// Logger overrides the file logger built from the config. Optional.
	Logger *slog.Logger
}

// Engine owns every moving part of a docseek index rooted at one data
// directory. A file lock on the data directory keeps concurrent engine
// processes off the same index.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	dataDir  string
	lock     *flock.Flock
	closeLog func()

	fulltext  *store.BleveIndex
	catalog   *store.SQLiteCatalog
	coord     *index.Coordinator
	sched     *scheduler.Scheduler
	watch     *watcher.Watcher
	searcher  *search.Engine
	processor extract.Processor

	sweepStop chan struct{}
	sweepDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open builds an engine over dataDir, creating the directory and index
// files as needed.
func Open(dataDir string, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, enginerr.New(enginerr.ErrCodeConfigInvalid,
			fmt.Sprintf("resolve data directory %s", dataDir), err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, enginerr.New(enginerr.ErrCodePersistenceFailed,
			fmt.Sprintf("create data directory %s", absDir), err)
	}

	logger := opts.Logger
	closeLog := func() {}
	if logger == nil {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		logCfg.FilePath = cfg.Logging.FilePath
		if logCfg.FilePath == "" {
			logCfg.FilePath = filepath.Join(absDir, logFileName)
		}
		var setupErr error
		logger, closeLog, setupErr = logging.Setup(logCfg)
		if setupErr != nil {
			return nil, setupErr
		}
	}

	// One engine per index directory. A second process gets a clean
	// error instead of silently corrupting the stores.
	lock := flock.New(filepath.Join(absDir, lockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		closeLog()
		return nil, enginerr.New(enginerr.ErrCodePersistenceFailed, "acquire index lock", err)
	}
	if !acquired {
		closeLog()
		return nil, enginerr.New(enginerr.ErrCodePersistenceFailed,
			fmt.Sprintf("index directory %s is locked by another process", absDir), nil)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		dataDir:   absDir,
		lock:      lock,
		closeLog:  closeLog,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if err := e.openStores(); err != nil {
		_ = lock.Unlock()
		closeLog()
		return nil, err
	}
	if err := e.startComponents(opts.Observer); err != nil {
		e.closeStores()
		_ = lock.Unlock()
		closeLog()
		return nil, err
	}

	go e.retrySweepLoop()

	logger.Info("engine_opened",
		slog.String("data_dir", absDir),
		slog.String("model_id", cfg.Embedding.ModelID))
	return e, nil
}

func (e *Engine) openStores() error {
	fulltext, err := store.NewBleveIndex(filepath.Join(e.dataDir, fulltextDirName))
	if err != nil {
		return err
	}
	e.fulltext = fulltext

	catalog, err := store.NewSQLiteCatalog(filepath.Join(e.dataDir, catalogFileName))
	if err != nil {
		_ = fulltext.Close()
		return err
	}
	e.catalog = catalog

	vectors, err := e.newVectorStore()
	if err != nil {
		e.closeStores()
		return err
	}
	if err := vectors.Load(); err != nil {
		_ = vectors.Close()
		e.closeStores()
		return err
	}

	e.coord = index.NewCoordinator(index.Config{
		FullText:       fulltext,
		Catalog:        catalog,
		Vectors:        vectors,
		NewVectorStore: e.newVectorStore,
		BatchSize:      e.cfg.Embedding.BatchSize,
		Logger:         e.logger,
	})
	return nil
}

// newVectorStore creates an empty store bound to the on-disk vector
// file. The coordinator uses it to stage rebuilds.
func (e *Engine) newVectorStore() (*vector.Store, error) {
	return vector.NewStore(vector.Config{
		Path:      filepath.Join(e.dataDir, vectorFileName),
		ModelID:   e.cfg.Embedding.ModelID,
		CacheSize: e.cfg.Embedding.VectorCacheSize,
	})
}

func (e *Engine) startComponents(observer scheduler.Observer) error {
	e.processor = &extract.PlainText{MaxFileSize: e.cfg.MaxFileSize()}

	sched, err := scheduler.New(scheduler.Config{
		Coordinator:   e.coord,
		Processor:     e.processor,
		MaxConcurrent: e.cfg.Jobs.MaxConcurrent,
		JobTimeout:    e.cfg.JobTimeout(),
		DetachGrace:   e.cfg.DetachGrace(),
		Exclude:       e.cfg.Watcher.Exclude,
		Observer:      observer,
		Logger:        e.logger,
	})
	if err != nil {
		return err
	}
	e.sched = sched

	w, err := watcher.New(watcher.Options{
		DebounceWindow: e.cfg.DebounceWindow(),
		Exclude:        e.cfg.Watcher.Exclude,
		Logger:         e.logger,
	}, sched)
	if err != nil {
		_ = sched.Close()
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		_ = sched.Close()
		return err
	}
	e.watch = w

	e.searcher = search.NewEngine(search.Config{
		Coordinator:         e.coord,
		FullTextWeight:      e.cfg.Search.FullTextWeight,
		SemanticWeight:      e.cfg.Search.SemanticWeight,
		MaxLimit:            e.cfg.Search.MaxResults,
		SuggestionCacheSize: e.cfg.Search.SuggestionCacheSize,
		Logger:              e.logger,
	})
	return nil
}

// retrySweepLoop periodically re-embeds documents whose embeddings were
// deferred while the model was unavailable.
func (e *Engine) retrySweepLoop() {
	defer close(e.sweepDone)

	ticker := time.NewTicker(retrySweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), retrySweepPeriod)
			restored, err := e.coord.RetryPendingEmbeddings(ctx, e.processor)
			cancel()
			if err != nil {
				e.logger.Warn("embedding_retry_sweep_failed",
					slog.String("error", err.Error()))
				continue
			}
			if restored > 0 {
				e.logger.Info("embedding_retry_sweep",
					slog.Int("restored", restored))
			}
		}
	}
}

// SubmitJob queues an indexing job for targetPath.
func (e *Engine) SubmitJob(targetPath string, kind scheduler.Kind) (*scheduler.Descriptor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.sched.Submit(targetPath, kind)
}

// CancelJob requests cooperative cancellation of a job.
func (e *Engine) CancelJob(jobID string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.sched.Cancel(jobID)
}

// JobStatus returns the descriptor for a known job.
func (e *Engine) JobStatus(jobID string) (*scheduler.Descriptor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.sched.Status(jobID)
}

// ListJobs returns descriptors for all known jobs.
func (e *Engine) ListJobs() []*scheduler.Descriptor {
	return e.sched.ListActive()
}

// WaitJob blocks until the job reaches a terminal state.
func (e *Engine) WaitJob(jobID string) (*scheduler.Descriptor, error) {
	return e.sched.Wait(jobID)
}

// Rebuild indexes targetPath from scratch and blocks until the rebuild
// finishes, returning the terminal descriptor.
func (e *Engine) Rebuild(targetPath string) (*scheduler.Descriptor, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	desc, err := e.sched.Submit(targetPath, scheduler.KindFullRebuild)
	if err != nil {
		return nil, err
	}
	return e.sched.Wait(desc.JobID)
}

// Search runs a query in the requested mode.
func (e *Engine) Search(ctx context.Context, query string, opts search.Options) (*search.Response, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.searcher.Search(ctx, query, opts)
}

// Document returns catalog metadata for a document id, or nil when the
// id is unknown.
func (e *Engine) Document(ctx context.Context, docID string) (*store.Document, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.catalog.GetDocument(ctx, docID)
}

// Suggest returns completion candidates for a query prefix.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	return e.searcher.Suggest(ctx, prefix, limit)
}

// Watch registers a directory for change-driven incremental indexing.
func (e *Engine) Watch(path string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.watch.Watch(path)
}

// Unwatch stops watching a directory.
func (e *Engine) Unwatch(path string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.watch.Unwatch(path)
}

// Stats reports document counts per store.
func (e *Engine) Stats(ctx context.Context) (fulltextDocs, vectorDocs, catalogDocs int, err error) {
	if err := e.guard(); err != nil {
		return 0, 0, 0, err
	}
	return e.coord.Stats(ctx)
}

// Degraded reports whether the embedding model failed to load.
func (e *Engine) Degraded() bool {
	return e.coord.Vectors().Degraded()
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "engine is closed", nil)
	}
	return nil
}

func (e *Engine) closeStores() {
	if e.coord != nil {
		_ = e.coord.Vectors().Close()
	}
	if e.catalog != nil {
		_ = e.catalog.Close()
	}
	if e.fulltext != nil {
		_ = e.fulltext.Close()
	}
}

// Close stops the watcher, drains the scheduler, persists the vector
// store and releases the directory lock. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.sweepStop)
	<-e.sweepDone

	var firstErr error
	if err := e.watch.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.sched.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.coord.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.closeStores()

	if err := e.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info("engine_closed", slog.String("data_dir", e.dataDir))
	e.closeLog()
	return firstErr
}
