package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docseek/docseek/internal/embed"
	enginerr "github.com/docseek/docseek/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{ModelID: embed.BuiltinModelID, CacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutAndSimilar(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for id, text := range map[string]string{
		"doc-cats":  "cats and kittens playing with yarn",
		"doc-dogs":  "dogs barking in the yard",
		"doc-trees": "oak trees shedding autumn leaves",
	} {
		vec, err := s.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, id, vec))
	}

	results, err := s.Similar(ctx, "cats playing with yarn", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-cats", results[0].ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestStore_PutReplacesVector(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v1, err := s.Embed(ctx, "original content about sailing")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", v1))

	v2, err := s.Embed(ctx, "replacement content about cooking")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", v2))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.Stats().Orphans, "replaced node is lazily deleted")

	results, err := s.Similar(ctx, "cooking recipes", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].ID)
}

func TestStore_PutUnchangedVectorKeepsNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vec, err := s.Embed(ctx, "stable content about sailing")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", vec))
	require.NoError(t, s.Put(ctx, "doc", vec))
	require.NoError(t, s.Put(ctx, "doc", vec))

	// Re-putting the same vector hits the cache and leaves the graph
	// node in place instead of orphaning it.
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 0, s.Stats().Orphans)

	results, err := s.Similar(ctx, "sailing", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].ID)
}

func TestStore_EmbedBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	texts := []string{
		"cats and kittens playing with yarn",
		"dogs barking in the yard",
		"oak trees shedding autumn leaves",
	}
	vecs, err := s.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		single, err := s.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func TestStore_EmbedBatchDegraded(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(Config{ModelID: "no-such-model"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.EmbedBatch(ctx, []string{"text"})
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeModelUnavailable, enginerr.GetCode(err))
}

func TestStore_RemoveHidesFromSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vec, err := s.Embed(ctx, "solar panels on the roof")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", vec))
	require.NoError(t, s.Remove(ctx, "doc"))

	assert.False(t, s.Contains("doc"))
	assert.Equal(t, 0, s.Count())

	results, err := s.Similar(ctx, "solar panels", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Removing an absent id is a no-op.
	require.NoError(t, s.Remove(ctx, "doc"))
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "a", make([]float32, embed.BuiltinDimensions)))

	err := s.Put(ctx, "b", make([]float32, 8))
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeDimensionMismatch, enginerr.GetCode(err))

	_, err = s.SimilarVector(ctx, make([]float32, 8), 3)
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeDimensionMismatch, enginerr.GetCode(err))
}

func TestStore_DegradedMode(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(Config{ModelID: "no-such-model"})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Degraded())

	_, err = s.Embed(ctx, "text")
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeModelUnavailable, enginerr.GetCode(err))

	// Semantic queries degrade to empty, not errors.
	results, err := s.Similar(ctx, "text", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.True(t, s.Stats().Degraded)
}

func TestStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	s, err := NewStore(Config{Path: path, ModelID: embed.BuiltinModelID})
	require.NoError(t, err)

	vec, err := s.Embed(ctx, "persistent document content")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", vec))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	s2, err := NewStore(Config{Path: path, ModelID: embed.BuiltinModelID})
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Load())

	assert.Equal(t, 1, s2.Count())
	assert.True(t, s2.Contains("doc"))
	assert.Equal(t, embed.BuiltinDimensions, s2.Stats().Dimensions)

	results, err := s2.Similar(ctx, "persistent document", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].ID)
}

func TestStore_LoadMissingFileIsFreshStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	s, err := NewStore(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Count())
}

func TestStore_LoadModelMismatchRequiresRebuild(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	s, err := NewStore(Config{Path: path, ModelID: embed.BuiltinModelID})
	require.NoError(t, err)
	vec, err := s.Embed(ctx, "content")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "doc", vec))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	s2, err := NewStore(Config{Path: path, ModelID: "other-model"})
	require.NoError(t, err)
	defer s2.Close()

	err = s2.Load()
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeDimensionMismatch, enginerr.GetCode(err))
}

func TestStore_ClosedOperationsFail(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(Config{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	err = s.Put(ctx, "doc", make([]float32, 4))
	assert.Equal(t, enginerr.ErrCodeIndexClosed, enginerr.GetCode(err))
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0), 1e-6)
	assert.InDelta(t, 0.5, distanceToScore(1), 1e-6)
	assert.InDelta(t, 0.0, distanceToScore(2), 1e-6)
}
