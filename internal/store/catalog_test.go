package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	cat, err := NewSQLiteCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestSQLiteCatalog_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	doc := newTestDoc("/docs/a.txt")
	doc.ContentHash = HashContent("hello")
	doc.Size = 5
	doc.Metadata = map[string]string{"author": "alice"}
	require.NoError(t, cat.SaveDocument(ctx, doc))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Path, got.Path)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, int64(5), got.Size)
	assert.Equal(t, "alice", got.Metadata["author"])
}

func TestSQLiteCatalog_GetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	got, err := cat.GetDocument(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cat.GetByPath(ctx, "/no/such/path")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteCatalog_UpsertByID(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	doc := newTestDoc("/docs/a.txt")
	doc.ContentHash = "h1"
	require.NoError(t, cat.SaveDocument(ctx, doc))

	doc.ContentHash = "h2"
	doc.IndexedAt = time.Now().Add(time.Minute)
	require.NoError(t, cat.SaveDocument(ctx, doc))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)

	n, err := cat.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteCatalog_GetByPath(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	doc := newTestDoc("/docs/a.txt")
	require.NoError(t, cat.SaveDocument(ctx, doc))

	got, err := cat.GetByPath(ctx, "/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)
}

func TestSQLiteCatalog_Delete(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	doc := newTestDoc("/docs/a.txt")
	require.NoError(t, cat.SaveDocument(ctx, doc))
	require.NoError(t, cat.DeleteDocument(ctx, doc.ID))

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent row is not an error.
	require.NoError(t, cat.DeleteDocument(ctx, doc.ID))
}

func TestSQLiteCatalog_ListPendingEmbeddings(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	pending := newTestDoc("/docs/pending.txt")
	pending.EmbeddingPending = true
	done := newTestDoc("/docs/done.txt")

	require.NoError(t, cat.SaveDocument(ctx, pending))
	require.NoError(t, cat.SaveDocument(ctx, done))

	docs, err := cat.ListPendingEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, pending.ID, docs[0].ID)
}

func TestSQLiteCatalog_ListByPathPrefix(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/docs/sub/a.txt")))
	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/docs/sub/b.txt")))
	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/other/c.txt")))

	docs, err := cat.ListByPathPrefix(ctx, "/docs/sub/")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// LIKE metacharacters in the prefix must be treated literally.
	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/odd_dir/d.txt")))
	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/oddXdir/e.txt")))
	docs, err = cat.ListByPathPrefix(ctx, "/odd_dir/")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "/odd_dir/d.txt", docs[0].Path)
}

func TestSQLiteCatalog_AllIDsAndClear(t *testing.T) {
	ctx := context.Background()
	cat := newTestCatalog(t)

	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/docs/a.txt")))
	require.NoError(t, cat.SaveDocument(ctx, newTestDoc("/docs/b.txt")))

	ids, err := cat.AllIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	require.NoError(t, cat.Clear(ctx))
	n, err := cat.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteCatalog_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/catalog.db"

	cat, err := NewSQLiteCatalog(path)
	require.NoError(t, err)
	doc := newTestDoc("/docs/a.txt")
	require.NoError(t, cat.SaveDocument(ctx, doc))
	require.NoError(t, cat.Close())

	cat, err = NewSQLiteCatalog(path)
	require.NoError(t, err)
	defer cat.Close()

	got, err := cat.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Path, got.Path)
}
