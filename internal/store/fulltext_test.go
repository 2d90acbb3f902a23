package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/docseek/docseek/internal/errors"
)

func newTestDoc(path string) *Document {
	now := time.Now()
	return &Document{
		ID:         NewDocumentID(path),
		Path:       path,
		Title:      path,
		FileType:   FileTypeOf(path),
		CreatedAt:  now,
		ModifiedAt: now,
		IndexedAt:  now,
	}
}

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/a.txt"), "cat dog"))
	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/b.txt"), "dog bird"))
	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/c.txt"), "bird fish"))

	hits, err := idx.Query(ctx, "dog", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	ids := map[string]bool{}
	for _, h := range hits {
		ids[h.DocID] = true
		assert.Greater(t, h.Score, 0.0)
		assert.NotEmpty(t, h.Snippet)
	}
	assert.True(t, ids[NewDocumentID("/docs/a.txt")])
	assert.True(t, ids[NewDocumentID("/docs/b.txt")])
}

func TestBleveIndex_QueryDeterministicOrder(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/a.txt"), "cat dog"))
	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/b.txt"), "dog bird"))

	first, err := idx.Query(ctx, "dog", 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := idx.Query(ctx, "dog", 10)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].DocID, again[j].DocID, "iteration %d position %d", i, j)
		}
	}
}

func TestBleveIndex_UpdateReplacesPostings(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	doc := newTestDoc("/docs/a.txt")
	require.NoError(t, idx.Add(ctx, doc, "cat dog"))
	require.NoError(t, idx.Update(ctx, doc, "elephant"))

	hits, err := idx.Query(ctx, "cat", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old postings must be gone")

	hits, err = idx.Query(ctx, "elephant", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].DocID)

	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestBleveIndex_Remove(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	doc := newTestDoc("/docs/a.txt")
	require.NoError(t, idx.Add(ctx, doc, "cat dog"))
	require.NoError(t, idx.Remove(ctx, doc.ID))

	hits, err := idx.Query(ctx, "cat", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, idx.Stats().DocumentCount)
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	hits, err := idx.Query(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveIndex_MalformedQuery(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	_, err := idx.Query(ctx, `title:"unterminated`, 10)
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeInvalidQuery, enginerr.GetCode(err))
}

func TestBleveIndex_BooleanQuery(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/a.txt"), "cat dog"))
	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/b.txt"), "dog bird"))

	hits, err := idx.Query(ctx, "+dog -bird", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, NewDocumentID("/docs/a.txt"), hits[0].DocID)
}

func TestBleveIndex_RebuildSameResults(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	docs := map[string]string{
		"/docs/a.txt": "cat dog",
		"/docs/b.txt": "dog bird",
		"/docs/c.txt": "bird fish",
	}
	for path, text := range docs {
		require.NoError(t, idx.Add(ctx, newTestDoc(path), text))
	}

	before, err := idx.Query(ctx, "dog", 10)
	require.NoError(t, err)

	// Rebuild from the same corpus
	paths := []string{"/docs/a.txt", "/docs/b.txt", "/docs/c.txt"}
	i := 0
	err = idx.Rebuild(ctx, func() (*Document, string, bool) {
		if i >= len(paths) {
			return nil, "", false
		}
		p := paths[i]
		i++
		return newTestDoc(p), docs[p], true
	})
	require.NoError(t, err)

	after, err := idx.Query(ctx, "dog", 10)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for j := range before {
		assert.Equal(t, before[j].DocID, after[j].DocID)
	}
	assert.Equal(t, 3, idx.Stats().DocumentCount)
}

func TestBleveIndex_RebuildOnDisk(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/fulltext.bleve"

	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/old.txt"), "obsolete content"))

	emitted := false
	err = idx.Rebuild(ctx, func() (*Document, string, bool) {
		if emitted {
			return nil, "", false
		}
		emitted = true
		return newTestDoc("/docs/new.txt"), "fresh content", true
	})
	require.NoError(t, err)

	hits, err := idx.Query(ctx, "obsolete", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "old corpus must be gone after rebuild")

	hits, err = idx.Query(ctx, "fresh", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestBleveIndex_AllIDs(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex(t)

	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/a.txt"), "one"))
	require.NoError(t, idx.Add(ctx, newTestDoc("/docs/b.txt"), "two"))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestBleveIndex_ClosedOperationsFail(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close(), "close is idempotent")

	assert.Error(t, idx.Add(ctx, newTestDoc("/docs/a.txt"), "x"))
	_, err = idx.Query(ctx, "x", 10)
	assert.Error(t, err)
}

func TestMakeSnippet(t *testing.T) {
	content := "The quick brown fox jumps over the lazy dog near the river bank."

	s := makeSnippet(content, []string{"fox"})
	assert.Contains(t, s, "fox")

	// No matched term falls back to the head of the content
	s = makeSnippet(content, []string{"zebra"})
	assert.Contains(t, s, "The quick")

	assert.Empty(t, makeSnippet("", []string{"x"}))
}
