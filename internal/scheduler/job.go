package scheduler

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docseek/docseek/internal/extract"
	"github.com/docseek/docseek/internal/index"
	"github.com/docseek/docseek/internal/store"
)

// execute runs the job body: scan the target, index each file, and for
// incremental jobs remove documents whose files vanished. The cancel flag
// is checked between files only, so an in-flight file always commits or
// fails as a unit.
func (s *Scheduler) execute(ctx context.Context, j *job) error {
	jobID := j.snapshot().JobID
	target := j.snapshot().TargetPath

	s.cfg.Observer.OnProgress(jobID, StageScanning, 0, 0, target)
	files, err := s.scan(target)
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.desc.Stats.FilesFound = len(files)
	j.mu.Unlock()

	if j.snapshot().Kind == KindFullRebuild {
		return s.executeRebuild(ctx, j, files)
	}
	return s.executeIncremental(ctx, j, files)
}

// scan walks the target collecting indexable files. A single-file target
// is returned as-is.
func (s *Scheduler) scan(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path != target && s.excluded(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(name) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Scheduler) excluded(name string) bool {
	if name != "." && len(name) > 1 && name[0] == '.' {
		return true
	}
	for _, pattern := range s.cfg.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// executeIncremental indexes changed files in place and removes documents
// for files that no longer exist under the target.
func (s *Scheduler) executeIncremental(ctx context.Context, j *job, files []string) error {
	jobID := j.snapshot().JobID
	total := len(files)

	present := make(map[string]bool, len(files))
	for i, path := range files {
		if j.cancelRequested() {
			return nil
		}

		present[store.NewDocumentID(path)] = true
		s.indexFile(ctx, j, path)
		s.cfg.Observer.OnProgress(jobID, StageProcessing, i+1, total, path)
	}

	if j.cancelRequested() {
		return nil
	}

	// Delete pass: documents under the target whose files vanished.
	target := j.snapshot().TargetPath
	prefix := target
	if !os.IsPathSeparator(prefix[len(prefix)-1]) {
		prefix += string(os.PathSeparator)
	}
	stale, err := s.cfg.Coordinator.Catalog().ListByPathPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, doc := range stale {
		if j.cancelRequested() {
			return nil
		}
		if present[doc.ID] {
			continue
		}
		if _, err := os.Stat(doc.Path); err == nil {
			continue // still on disk, just not in this batch
		}
		if err := s.cfg.Coordinator.RemoveDocument(ctx, doc.ID); err != nil {
			s.recordFileError(j, doc.Path, err)
		}
	}

	return nil
}

// indexFile extracts and indexes one file. Failures count against the
// job's stats but never abort it.
func (s *Scheduler) indexFile(ctx context.Context, j *job, path string) {
	text, meta, err := s.cfg.Processor.Extract(ctx, path)
	if err != nil {
		s.recordFileError(j, path, err)
		return
	}
	if meta != nil && meta.Binary {
		return // skipped, not failed
	}

	doc := s.documentFor(path, meta)
	changed, err := s.cfg.Coordinator.AddDocument(ctx, doc, text)
	if err != nil {
		s.recordFileError(j, path, err)
		return
	}

	j.mu.Lock()
	j.desc.Stats.FilesProcessed++
	if changed {
		j.desc.Stats.DocumentsIndexed++
	}
	j.mu.Unlock()
}

// executeRebuild replaces the whole corpus through the coordinator's
// staged rebuild. Per-file extraction failures skip the file.
func (s *Scheduler) executeRebuild(ctx context.Context, j *job, files []string) error {
	jobID := j.snapshot().JobID
	total := len(files)
	i := 0

	// Cancellation aborts the staged rebuild entirely; the current index
	// stays in place rather than being replaced by a partial corpus.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	source := index.SourceFunc(func() (*store.Document, string, bool) {
		for i < total {
			if j.cancelRequested() {
				cancel()
				return nil, "", false
			}
			path := files[i]
			i++
			s.cfg.Observer.OnProgress(jobID, StageIndexing, i, total, path)

			text, meta, err := s.cfg.Processor.Extract(ctx, path)
			if err != nil {
				s.recordFileError(j, path, err)
				continue
			}
			if meta != nil && meta.Binary {
				continue
			}

			j.mu.Lock()
			j.desc.Stats.FilesProcessed++
			j.desc.Stats.DocumentsIndexed++
			j.mu.Unlock()

			return s.documentFor(path, meta), text, true
		}
		return nil, "", false
	})

	if err := s.cfg.Coordinator.Rebuild(ctx, source); err != nil {
		if j.cancelRequested() {
			return nil // reported as cancelled or timed out, old index retained
		}
		return err
	}
	return nil
}

func (s *Scheduler) documentFor(path string, meta *extract.Metadata) *store.Document {
	now := time.Now()
	doc := &store.Document{
		ID:         store.NewDocumentID(path),
		Path:       path,
		FileType:   store.FileTypeOf(path),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if info, err := os.Stat(path); err == nil {
		doc.Size = info.Size()
		doc.ModifiedAt = info.ModTime()
	}
	if meta != nil {
		doc.Title = meta.Title
		doc.Metadata = meta.Extra
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	return doc
}

// recordFileError counts a per-file failure. File failures surface
// through Stats only; OnError is reserved for job-level failures.
func (s *Scheduler) recordFileError(j *job, path string, err error) {
	j.mu.Lock()
	j.desc.Stats.FilesFailed++
	jobID := j.desc.JobID
	j.mu.Unlock()

	s.logger.Warn("file_indexing_failed",
		slog.String("job_id", jobID),
		slog.String("path", path),
		slog.String("error", err.Error()))
}
