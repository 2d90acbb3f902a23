// Package index coordinates updates across the full-text index, the
// vector store, and the document catalog so readers always see a
// consistent view of a document.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docseek/docseek/internal/embed"
	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/extract"
	"github.com/docseek/docseek/internal/store"
	"github.com/docseek/docseek/internal/vector"
)

// CommitHook is invoked after a document mutation commits. Hooks run
// outside the coordinator lock and must not block.
type CommitHook func(docID string)

// Coordinator applies document mutations to both stores in a fixed order:
// full-text first (its failure aborts the operation, the previous version
// of the document stays visible), then embedding (its failure marks the
// document embedding_pending instead of failing the operation), then the
// catalog commit.
type Coordinator struct {
	mu sync.Mutex // serializes writers

	fulltext store.FullText
	catalog  store.Catalog

	vecMu   sync.RWMutex // guards the vectors pointer, swapped on rebuild
	vectors *vector.Store

	newVectorStore func() (*vector.Store, error) // staging factory for rebuild

	hookMu sync.RWMutex
	hooks  []CommitHook

	batchSize int
	logger    *slog.Logger
}

// Config wires the coordinator's collaborators.
type Config struct {
	FullText store.FullText
	Catalog  store.Catalog
	Vectors  *vector.Store

	// NewVectorStore creates an empty staging vector store for rebuilds.
	NewVectorStore func() (*vector.Store, error)

	// BatchSize is how many deferred documents the retry sweep embeds
	// per model call.
	BatchSize int

	Logger *slog.Logger
}

// NewCoordinator creates an index coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize < embed.MinBatchSize {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}
	return &Coordinator{
		fulltext:       cfg.FullText,
		catalog:        cfg.Catalog,
		vectors:        cfg.Vectors,
		newVectorStore: cfg.NewVectorStore,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// Vectors returns the current vector store. The pointer changes when a
// rebuild swaps in a fresh store.
func (c *Coordinator) Vectors() *vector.Store {
	c.vecMu.RLock()
	defer c.vecMu.RUnlock()
	return c.vectors
}

// FullText returns the full-text index.
func (c *Coordinator) FullText() store.FullText {
	return c.fulltext
}

// Catalog returns the document catalog.
func (c *Coordinator) Catalog() store.Catalog {
	return c.catalog
}

// RegisterCommitHook adds a listener fired after every committed mutation.
func (c *Coordinator) RegisterCommitHook(hook CommitHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *Coordinator) fireHooks(docID string) {
	c.hookMu.RLock()
	hooks := c.hooks
	c.hookMu.RUnlock()
	for _, h := range hooks {
		h(docID)
	}
}

// AddDocument indexes a new document. Re-adding an existing document with
// unchanged content is a no-op; changed content replaces the previous
// version. Returns true when the stores were modified.
func (c *Coordinator) AddDocument(ctx context.Context, doc *store.Document, text string) (bool, error) {
	return c.UpdateDocument(ctx, doc, text)
}

// UpdateDocument re-indexes a document, skipping the work when the
// content hash matches the already-indexed version.
func (c *Coordinator) UpdateDocument(ctx context.Context, doc *store.Document, text string) (bool, error) {
	if doc == nil || doc.ID == "" {
		return false, fmt.Errorf("document id is required")
	}

	hash := store.HashContent(text)

	c.mu.Lock()

	existing, err := c.catalog.GetDocument(ctx, doc.ID)
	if err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("lookup document %s: %w", doc.ID, err)
	}
	if existing != nil && existing.ContentHash == hash && !existing.EmbeddingPending {
		c.mu.Unlock()
		c.logger.Debug("document_unchanged",
			slog.String("doc_id", doc.ID),
			slog.String("path", doc.Path))
		return false, nil
	}

	doc.ContentHash = hash
	doc.IndexedAt = time.Now()

	// Full-text first. On failure the operation aborts and the previous
	// version of the document stays searchable.
	if err := c.fulltext.Update(ctx, doc, text); err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("full-text update for %s: %w", doc.ID, err)
	}

	// Embedding failure degrades the document, not the operation.
	doc.EmbeddingPending = false
	if err := c.embedDocument(ctx, doc.ID, text); err != nil {
		doc.EmbeddingPending = true
		c.logger.Warn("embedding_deferred",
			slog.String("doc_id", doc.ID),
			slog.String("error", err.Error()))
	}

	if err := c.catalog.SaveDocument(ctx, doc); err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("catalog commit for %s: %w", doc.ID, err)
	}

	c.mu.Unlock()
	c.fireHooks(doc.ID)
	return true, nil
}

func (c *Coordinator) embedDocument(ctx context.Context, docID, text string) error {
	vectors := c.Vectors()
	vec, err := vectors.Embed(ctx, text)
	if err != nil {
		return err
	}
	return vectors.Put(ctx, docID, vec)
}

// RemoveDocument deletes a document from both stores and the catalog.
// Removing an unknown id is a no-op.
func (c *Coordinator) RemoveDocument(ctx context.Context, docID string) error {
	c.mu.Lock()

	if err := c.fulltext.Remove(ctx, docID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("full-text remove for %s: %w", docID, err)
	}
	if err := c.Vectors().Remove(ctx, docID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("vector remove for %s: %w", docID, err)
	}
	if err := c.catalog.DeleteDocument(ctx, docID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("catalog delete for %s: %w", docID, err)
	}

	c.mu.Unlock()
	c.fireHooks(docID)
	return nil
}

// RetryPendingEmbeddings re-embeds documents whose vector generation was
// deferred. Each document's text is re-extracted from its file. Returns
// the number of documents whose embeddings were restored.
func (c *Coordinator) RetryPendingEmbeddings(ctx context.Context, proc extract.Processor) (int, error) {
	if c.Vectors().Degraded() {
		return 0, nil
	}

	pending, err := c.catalog.ListPendingEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending embeddings: %w", err)
	}

	restored := 0
	for start := 0; start < len(pending); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		end := min(start+c.batchSize, len(pending))

		docs := make([]*store.Document, 0, end-start)
		texts := make([]string, 0, end-start)
		for _, doc := range pending[start:end] {
			text, meta, err := proc.Extract(ctx, doc.Path)
			if err != nil || (meta != nil && meta.Binary) {
				continue // file vanished or changed shape, next sweep or watcher will handle it
			}
			docs = append(docs, doc)
			texts = append(texts, text)
		}
		if len(docs) == 0 {
			continue
		}

		vecs, err := c.Vectors().EmbedBatch(ctx, texts)
		if err != nil {
			if enginerr.GetCode(err) == enginerr.ErrCodeModelUnavailable {
				return restored, nil
			}
			c.logger.Warn("embedding_retry_failed",
				slog.Int("batch_size", len(texts)),
				slog.String("error", err.Error()))
			continue
		}

		var committed []string
		c.mu.Lock()
		for i, doc := range docs {
			if err := c.Vectors().Put(ctx, doc.ID, vecs[i]); err != nil {
				c.logger.Warn("embedding_retry_failed",
					slog.String("doc_id", doc.ID),
					slog.String("error", err.Error()))
				continue
			}
			doc.EmbeddingPending = false
			if err := c.catalog.SaveDocument(ctx, doc); err != nil {
				c.mu.Unlock()
				return restored, fmt.Errorf("catalog commit for %s: %w", doc.ID, err)
			}
			committed = append(committed, doc.ID)
			restored++
		}
		c.mu.Unlock()

		for _, id := range committed {
			c.fireHooks(id)
		}
	}

	return restored, nil
}

// Source supplies documents for a rebuild.
type Source interface {
	// Next returns the next document and its text; ok is false when the
	// source is exhausted.
	Next() (doc *store.Document, text string, ok bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (*store.Document, string, bool)

// Next implements Source.
func (f SourceFunc) Next() (*store.Document, string, bool) { return f() }

// Rebuild re-indexes the full corpus from source into staged stores and
// swaps them in atomically. Readers keep querying the old index until the
// swap; a failed rebuild leaves the current index untouched.
func (c *Coordinator) Rebuild(ctx context.Context, source Source) error {
	if c.newVectorStore == nil {
		return fmt.Errorf("rebuild is not configured with a vector store factory")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	staging, err := c.newVectorStore()
	if err != nil {
		return fmt.Errorf("create staging vector store: %w", err)
	}

	degraded := staging.Degraded()
	var docs []*store.Document

	start := time.Now()
	err = c.fulltext.Rebuild(ctx, func() (*store.Document, string, bool) {
		doc, text, ok := source.Next()
		if !ok {
			return nil, "", false
		}

		doc.ContentHash = store.HashContent(text)
		doc.IndexedAt = time.Now()
		doc.EmbeddingPending = degraded
		if !degraded {
			vec, embErr := staging.Embed(ctx, text)
			if embErr == nil {
				embErr = staging.Put(ctx, doc.ID, vec)
			}
			if embErr != nil {
				doc.EmbeddingPending = true
			}
		}

		docs = append(docs, doc)
		return doc, text, true
	})
	if err != nil {
		_ = staging.Close()
		return fmt.Errorf("full-text rebuild: %w", err)
	}

	if err := c.catalog.Clear(ctx); err != nil {
		_ = staging.Close()
		return fmt.Errorf("clear catalog: %w", err)
	}
	for _, doc := range docs {
		if err := c.catalog.SaveDocument(ctx, doc); err != nil {
			_ = staging.Close()
			return fmt.Errorf("catalog commit for %s: %w", doc.ID, err)
		}
	}

	if err := staging.Save(); err != nil {
		c.logger.Warn("vector_persist_failed", slog.String("error", err.Error()))
	}

	c.vecMu.Lock()
	old := c.vectors
	c.vectors = staging
	c.vecMu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.logger.Info("rebuild_completed",
		slog.Int("documents", len(docs)),
		slog.Duration("elapsed", time.Since(start)))

	c.fireHooks("")
	return nil
}

// Flush persists the vector store to disk.
func (c *Coordinator) Flush() error {
	return c.Vectors().Save()
}

// Stats reports document counts from each store.
func (c *Coordinator) Stats(ctx context.Context) (fulltextDocs, vectorDocs, catalogDocs int, err error) {
	fulltextDocs = c.fulltext.Stats().DocumentCount
	vectorDocs = c.Vectors().Count()
	catalogDocs, err = c.catalog.Count(ctx)
	return fulltextDocs, vectorDocs, catalogDocs, err
}
