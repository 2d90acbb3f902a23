package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	enginerr "github.com/docseek/docseek/internal/errors"
)

// TextAnalyzerName is the name of the document text analyzer.
const TextAnalyzerName = "doc_text"

// snippetWidth is the number of characters of context around the first match.
const snippetWidth = 160

// rebuildBatchSize is the number of documents per batch during Rebuild.
const rebuildBatchSize = 500

// BleveIndex implements FullText using Bleve v2 with BM25 scoring.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the document structure handed to Bleve.
type bleveDocument struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Path    string `json:"path"`
}

// validateIndexIntegrity checks if a Bleve index directory is valid before
// opening. Returns nil if valid or absent, an error describing the damage
// otherwise.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Index doesn't exist, will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex creates or opens a full-text index at path.
// If path is empty, an in-memory index is created.
// A corrupted on-disk index surfaces as IndexCorruptionError; recovery
// requires a Rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("fulltext_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			return nil, enginerr.IndexCorruptionError(
				fmt.Sprintf("full-text index at %s is corrupted, rebuild required", path), validErr)
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("fulltext_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, enginerr.IndexCorruptionError(
				fmt.Sprintf("full-text index at %s cannot be opened, rebuild required", path), err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndex{
		index: idx,
		path:  path,
	}, nil
}

// createIndexMapping builds the Bleve mapping: unicode tokenizer, lowercase,
// English stop words, and Porter stemming over the content field.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = TextAnalyzerName
	contentField.Store = true
	contentField.IncludeTermVectors = true

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = TextAnalyzerName
	titleField.Store = true

	pathField := bleve.NewKeywordFieldMapping()
	pathField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("title", titleField)
	docMapping.AddFieldMappingsAt("path", pathField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = TextAnalyzerName

	return indexMapping, nil
}

// Add indexes a document. An existing document with the same id is replaced.
func (b *BleveIndex) Add(ctx context.Context, doc *Document, text string) error {
	return b.Update(ctx, doc, text)
}

// Update re-indexes a document. Bleve replaces documents by id within a
// single batch commit, so readers never observe the document absent.
func (b *BleveIndex) Update(ctx context.Context, doc *Document, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "full-text index is closed", nil)
	}

	batch := b.index.NewBatch()
	if err := batch.Index(doc.ID, bleveDocument{
		Content: text,
		Title:   doc.Title,
		Path:    doc.Path,
	}); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Remove deletes a document from the index.
func (b *BleveIndex) Remove(ctx context.Context, docID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "full-text index is closed", nil)
	}

	batch := b.index.NewBatch()
	batch.Delete(docID)

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// Query returns documents matching the query string, ranked by BM25.
// The query supports boolean syntax (+term -term "phrase"); a malformed
// query returns a QueryError.
func (b *BleveIndex) Query(ctx context.Context, queryStr string, limit int) ([]*Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "full-text index is closed", nil)
	}

	queryStr = strings.TrimSpace(queryStr)
	if queryStr == "" {
		return []*Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewQueryStringQuery(queryStr)
	if _, err := q.Parse(); err != nil {
		return nil, enginerr.QueryError(fmt.Sprintf("malformed query %q", queryStr), err)
	}

	request := bleve.NewSearchRequest(q)
	request.Size = limit
	request.IncludeLocations = true
	request.Fields = []string{"content"}
	// Deterministic ordering: score descending, then document id ascending
	request.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]*Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		terms := extractMatchedTerms(hit)
		content, _ := hit.Fields["content"].(string)
		hits = append(hits, &Hit{
			DocID:        hit.ID,
			Score:        hit.Score,
			Snippet:      makeSnippet(content, terms),
			MatchedTerms: terms,
		})
	}

	return hits, nil
}

// Rebuild replaces the whole index. The replacement is staged next to the
// live index and swapped under the write lock, so readers see either the
// fully-old or fully-new state.
func (b *BleveIndex) Rebuild(ctx context.Context, next func() (*Document, string, bool)) error {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return fmt.Errorf("failed to create index mapping: %w", err)
	}

	stagePath := ""
	var staged bleve.Index
	if b.path == "" {
		staged, err = bleve.NewMemOnly(indexMapping)
	} else {
		stagePath = b.path + ".rebuild"
		if err := os.RemoveAll(stagePath); err != nil {
			return fmt.Errorf("failed to clear stage directory: %w", err)
		}
		staged, err = bleve.New(stagePath, indexMapping)
	}
	if err != nil {
		return fmt.Errorf("failed to create staged index: %w", err)
	}

	// Populate the staged index without holding the lock; readers keep
	// querying the old index meanwhile.
	batch := staged.NewBatch()
	batched := 0
	for {
		if err := ctx.Err(); err != nil {
			_ = staged.Close()
			if stagePath != "" {
				_ = os.RemoveAll(stagePath)
			}
			return err
		}

		doc, text, ok := next()
		if !ok {
			break
		}
		if err := batch.Index(doc.ID, bleveDocument{
			Content: text,
			Title:   doc.Title,
			Path:    doc.Path,
		}); err != nil {
			_ = staged.Close()
			if stagePath != "" {
				_ = os.RemoveAll(stagePath)
			}
			return fmt.Errorf("failed to stage document %s: %w", doc.ID, err)
		}
		batched++
		if batched >= rebuildBatchSize {
			if err := staged.Batch(batch); err != nil {
				_ = staged.Close()
				if stagePath != "" {
					_ = os.RemoveAll(stagePath)
				}
				return fmt.Errorf("failed to commit staged batch: %w", err)
			}
			batch = staged.NewBatch()
			batched = 0
		}
	}
	if batched > 0 {
		if err := staged.Batch(batch); err != nil {
			_ = staged.Close()
			if stagePath != "" {
				_ = os.RemoveAll(stagePath)
			}
			return fmt.Errorf("failed to commit staged batch: %w", err)
		}
	}

	// A cancellation during the fill must not swap a partial index in.
	if err := ctx.Err(); err != nil {
		_ = staged.Close()
		if stagePath != "" {
			_ = os.RemoveAll(stagePath)
		}
		return err
	}

	// Swap under the write lock.
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		_ = staged.Close()
		if stagePath != "" {
			_ = os.RemoveAll(stagePath)
		}
		return enginerr.New(enginerr.ErrCodeIndexClosed, "full-text index is closed", nil)
	}

	old := b.index

	if b.path != "" {
		// On-disk swap: close both, rotate directories, reopen.
		if err := staged.Close(); err != nil {
			_ = os.RemoveAll(stagePath)
			return fmt.Errorf("failed to close staged index: %w", err)
		}
		if err := old.Close(); err != nil {
			_ = os.RemoveAll(stagePath)
			return fmt.Errorf("failed to close old index: %w", err)
		}

		oldPath := b.path + ".old"
		_ = os.RemoveAll(oldPath)
		if err := os.Rename(b.path, oldPath); err != nil {
			return enginerr.Wrap(enginerr.ErrCodePersistenceFailed, err)
		}
		if err := os.Rename(stagePath, b.path); err != nil {
			// Restore the old index directory before giving up
			_ = os.Rename(oldPath, b.path)
			reopened, reopenErr := bleve.Open(b.path)
			if reopenErr == nil {
				b.index = reopened
			}
			return enginerr.Wrap(enginerr.ErrCodePersistenceFailed, err)
		}
		_ = os.RemoveAll(oldPath)

		reopened, err := bleve.Open(b.path)
		if err != nil {
			return enginerr.IndexCorruptionError("rebuilt index cannot be opened", err)
		}
		b.index = reopened
		return nil
	}

	b.index = staged
	_ = old.Close()
	return nil
}

// AllIDs returns all document ids in the index.
func (b *BleveIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "full-text index is closed", nil)
	}

	docCount, _ := b.index.DocCount()

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.SortBy([]string{"_id"})

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}

	return ids, nil
}

// Stats returns index statistics.
func (b *BleveIndex) Stats() *FullTextStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &FullTextStats{}
	}

	docCount, _ := b.index.DocCount()
	return &FullTextStats{DocumentCount: int(docCount)}
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts analyzed query terms found in a hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" || field == "title" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// makeSnippet returns a context window around the first matched term.
// Falls back to the head of the content when no term is found verbatim
// (stemming can make the analyzed term differ from the source text).
func makeSnippet(content string, terms []string) string {
	if content == "" {
		return ""
	}

	lower := strings.ToLower(content)
	pos := -1
	for _, term := range terms {
		if i := strings.Index(lower, strings.ToLower(term)); i >= 0 && (pos == -1 || i < pos) {
			pos = i
		}
	}
	if pos == -1 {
		pos = 0
	}

	start := pos - snippetWidth/2
	if start < 0 {
		start = 0
	}
	end := start + snippetWidth
	if end > len(content) {
		end = len(content)
	}

	snippet := strings.TrimSpace(content[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(content) {
		snippet += "…"
	}
	return snippet
}

// Verify interface implementation
var _ FullText = (*BleveIndex)(nil)
