package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	enginerr "github.com/docseek/docseek/internal/errors"
)

// SQLiteCatalog implements Catalog using SQLite with WAL mode.
type SQLiteCatalog struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ Catalog = (*SQLiteCatalog)(nil)

// validateCatalogIntegrity checks if a catalog database is valid before opening.
func validateCatalogIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteCatalog creates or opens the document catalog at path.
// If path is empty, an in-memory catalog is created for testing.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateCatalogIntegrity(path); validErr != nil {
			slog.Warn("catalog_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, enginerr.IndexCorruptionError(
					fmt.Sprintf("catalog corrupted at %s and cannot remove", path), validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("catalog_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, rebuild required"))
		}

		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	c := &SQLiteCatalog{
		db:   db,
		path: path,
	}

	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return c, nil
}

// initSchema creates the documents table.
func (c *SQLiteCatalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id                TEXT PRIMARY KEY,
		path              TEXT NOT NULL UNIQUE,
		content_hash      TEXT NOT NULL,
		title             TEXT NOT NULL DEFAULT '',
		file_type         TEXT NOT NULL DEFAULT '',
		size              INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		modified_at       INTEGER NOT NULL,
		indexed_at        INTEGER NOT NULL,
		embedding_pending INTEGER NOT NULL DEFAULT 0,
		metadata          TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
	CREATE INDEX IF NOT EXISTS idx_documents_pending ON documents(embedding_pending);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := c.db.Exec(schema)
	return err
}

// SaveDocument inserts or replaces a document row.
func (c *SQLiteCatalog) SaveDocument(ctx context.Context, doc *Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	meta := "{}"
	if len(doc.Metadata) > 0 {
		data, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(data)
	}

	pending := 0
	if doc.EmbeddingPending {
		pending = 1
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, path, content_hash, title, file_type, size,
			 created_at, modified_at, indexed_at, embedding_pending, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			content_hash = excluded.content_hash,
			title = excluded.title,
			file_type = excluded.file_type,
			size = excluded.size,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at,
			embedding_pending = excluded.embedding_pending,
			metadata = excluded.metadata`,
		doc.ID, doc.Path, doc.ContentHash, doc.Title, doc.FileType, doc.Size,
		doc.CreatedAt.UnixNano(), doc.ModifiedAt.UnixNano(), doc.IndexedAt.UnixNano(),
		pending, meta)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	return nil
}

// GetDocument returns the document with the given id, or nil if absent.
func (c *SQLiteCatalog) GetDocument(ctx context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	row := c.db.QueryRowContext(ctx, selectDocument+` WHERE id = ?`, id)
	return scanDocument(row)
}

// GetByPath returns the document indexed from path, or nil if absent.
func (c *SQLiteCatalog) GetByPath(ctx context.Context, path string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	row := c.db.QueryRowContext(ctx, selectDocument+` WHERE path = ?`, path)
	return scanDocument(row)
}

// DeleteDocument removes a document row.
func (c *SQLiteCatalog) DeleteDocument(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ListPendingEmbeddings returns documents whose embedding step failed.
func (c *SQLiteCatalog) ListPendingEmbeddings(ctx context.Context) ([]*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	return c.queryDocuments(ctx, selectDocument+` WHERE embedding_pending = 1 ORDER BY id`)
}

// ListByPathPrefix returns documents whose path starts with prefix.
// Used to find documents under a folder for incremental delete detection.
func (c *SQLiteCatalog) ListByPathPrefix(ctx context.Context, prefix string) ([]*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	// Escape LIKE wildcards in the prefix
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return c.queryDocuments(ctx,
		selectDocument+` WHERE path LIKE ? ESCAPE '\' ORDER BY path`, escaped+"%")
}

// AllIDs returns all document ids in the catalog, ordered ascending.
func (c *SQLiteCatalog) AllIDs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of documents in the catalog.
func (c *SQLiteCatalog) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Clear removes all document rows. Used when staging a rebuild.
func (c *SQLiteCatalog) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "catalog is closed", nil)
	}

	_, err := c.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

// Close closes the catalog, checkpointing the WAL first.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	if c.db != nil {
		_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return c.db.Close()
	}
	return nil
}

const selectDocument = `
	SELECT id, path, content_hash, title, file_type, size,
	       created_at, modified_at, indexed_at, embedding_pending, metadata
	FROM documents`

// queryDocuments runs a multi-row document query.
func (c *SQLiteCatalog) queryDocuments(ctx context.Context, query string, args ...any) ([]*Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocumentRow scans one document row.
func scanDocumentRow(s rowScanner) (*Document, error) {
	var doc Document
	var created, modified, indexed int64
	var pending int
	var meta string

	err := s.Scan(&doc.ID, &doc.Path, &doc.ContentHash, &doc.Title, &doc.FileType,
		&doc.Size, &created, &modified, &indexed, &pending, &meta)
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.CreatedAt = time.Unix(0, created)
	doc.ModifiedAt = time.Unix(0, modified)
	doc.IndexedAt = time.Unix(0, indexed)
	doc.EmbeddingPending = pending != 0

	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &doc, nil
}

// scanDocument scans a single-row query, mapping no-rows to (nil, nil).
func scanDocument(row *sql.Row) (*Document, error) {
	doc, err := scanDocumentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}
