// Package store provides the persistence layer for indexed data: the
// full-text index (Bleve), the document catalog (SQLite), and shared types.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// Document is the unit of indexing. One document corresponds to one file.
type Document struct {
	ID          string            // Stable, derived from the normalized file path
	Path        string            // Absolute, cleaned path
	ContentHash string            // SHA256 of extracted text, used for change detection
	Title       string            // Display title (first line or file name)
	FileType    string            // Lowercased extension without dot ("txt", "md")
	Size        int64             // Source file size in bytes
	CreatedAt   time.Time
	ModifiedAt  time.Time
	IndexedAt   time.Time
	Metadata    map[string]string // Open key-value map from the extractor

	// EmbeddingPending marks documents indexed for full text whose embedding
	// step failed. A background sweep retries them.
	EmbeddingPending bool
}

// NewDocumentID derives a stable document id from a file path.
// The path is cleaned and slash-normalized first so the same file always
// yields the same id.
func NewDocumentID(path string) string {
	normalized := filepath.ToSlash(filepath.Clean(path))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashContent returns the SHA256 hex digest of extracted text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FileTypeOf returns the lowercased extension of path without the dot.
func FileTypeOf(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.ToLower(ext)
}

// Hit is a single full-text query result.
type Hit struct {
	DocID        string
	Score        float64  // Raw BM25 score, higher is better
	Snippet      string   // Context window around the first match
	MatchedTerms []string // Analyzed query terms found in the document
}

// FullTextStats provides statistics about the full-text index.
type FullTextStats struct {
	DocumentCount int
}

// FullText provides keyword search over documents.
type FullText interface {
	// Add indexes a document. An existing document with the same id is replaced.
	Add(ctx context.Context, doc *Document, text string) error

	// Update re-indexes a document atomically (remove + add in one batch).
	Update(ctx context.Context, doc *Document, text string) error

	// Remove deletes a document from the index.
	Remove(ctx context.Context, docID string) error

	// Query returns documents matching the query string ranked by BM25.
	// Ordering is deterministic: score descending, doc id ascending on ties.
	Query(ctx context.Context, query string, limit int) ([]*Hit, error)

	// Rebuild replaces the whole index with the documents produced by next.
	// In-flight readers see either the old or the new index, never a mix.
	Rebuild(ctx context.Context, next func() (*Document, string, bool)) error

	// AllIDs returns all document ids in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *FullTextStats

	Close() error
}

// Catalog persists document metadata.
type Catalog interface {
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetByPath(ctx context.Context, path string) (*Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListPendingEmbeddings(ctx context.Context) ([]*Document, error)
	ListByPathPrefix(ctx context.Context, prefix string) ([]*Document, error)
	AllIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}
