package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docseek/docseek/internal/embed"
	enginerr "github.com/docseek/docseek/internal/errors"
)

// DefaultVectorCacheSize bounds the raw-vector LRU cache.
const DefaultVectorCacheSize = 1024

// Result is a single nearest-neighbor match.
type Result struct {
	ID    string
	Score float64 // Cosine similarity mapped to 0..1, higher is better
}

// Stats describes the current state of the store.
type Stats struct {
	Count      int    `json:"count"`
	Dimensions int    `json:"dimensions"`
	ModelID    string `json:"model_id"`
	Degraded   bool   `json:"degraded"`
	Orphans    int    `json:"orphans"` // Lazy-deleted graph nodes awaiting compaction
}

// Config configures a Store.
type Config struct {
	Path      string // On-disk graph file; empty for memory-only
	ModelID   string // Embedding model identifier
	CacheSize int    // Raw-vector LRU capacity
}

// Store maps document ids to embedding vectors and answers cosine
// nearest-neighbor queries over an HNSW graph. The embedding model is
// loaded lazily on first use; if loading fails the store enters degraded
// mode and semantic queries return empty results instead of errors.
type Store struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	cfg   Config

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	dims int // 0 until the first vector or metadata load fixes it

	// Raw vectors for recently touched documents. The graph holds every
	// vector; the cache only short-circuits re-embedding checks.
	vecCache *lru.Cache[string, []float32]

	loadOnce sync.Once
	embedder embed.Embedder
	loadErr  error

	closed bool
}

// storeMetadata is the gob sidecar persisted next to the graph file.
type storeMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	ModelID    string
}

// NewStore creates an empty vector store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = embed.BuiltinModelID
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultVectorCacheSize
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	cache, _ := lru.New[string, []float32](cfg.CacheSize)

	return &Store{
		graph:    graph,
		cfg:      cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		vecCache: cache,
	}, nil
}

// ensureModel loads the embedding model exactly once. A failed load is
// latched; the store stays usable for stored vectors but cannot embed.
func (s *Store) ensureModel() error {
	s.loadOnce.Do(func() {
		e, err := embed.Load(s.cfg.ModelID, s.cfg.CacheSize)
		if err != nil {
			s.loadErr = err
			slog.Warn("embedding_model_unavailable",
				slog.String("model_id", s.cfg.ModelID),
				slog.String("error", err.Error()))
			return
		}
		s.embedder = e
	})
	return s.loadErr
}

// Degraded reports whether the embedding model failed to load.
// It forces a load attempt so callers get a definitive answer.
func (s *Store) Degraded() bool {
	return s.ensureModel() != nil
}

// ModelID returns the configured embedding model identifier.
func (s *Store) ModelID() string {
	return s.cfg.ModelID
}

// Embed produces the embedding vector for text. In degraded mode it
// returns ErrCodeModelUnavailable.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.ensureModel(); err != nil {
		return nil, err
	}
	return s.embedder.Embed(ctx, text)
}

// EmbedBatch converts texts to vectors in a single model call.
func (s *Store) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.ensureModel(); err != nil {
		return nil, err
	}
	return s.embedder.EmbedBatch(ctx, texts)
}

// Put stores a vector under id, replacing any previous vector. Replacement
// uses lazy deletion: the old graph node is orphaned rather than removed.
func (s *Store) Put(ctx context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "vector store is closed", nil)
	}

	if s.dims == 0 {
		s.dims = len(vec)
	} else if len(vec) != s.dims {
		return dimensionMismatch(s.dims, len(vec))
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	if existingKey, exists := s.idMap[id]; exists {
		// An unchanged embedding keeps its graph node; replacing it
		// would only orphan a node holding the same vector.
		if cached, ok := s.vecCache.Get(id); ok && vectorsEqual(cached, normalized) {
			return nil
		}
		delete(s.keyMap, existingKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	s.graph.Add(hnsw.MakeNode(key, normalized))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.vecCache.Add(id, normalized)

	return nil
}

// Remove deletes vectors by id. Missing ids are ignored. Graph nodes are
// lazily deleted: the mapping is dropped and the node becomes an orphan.
func (s *Store) Remove(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "vector store is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			s.vecCache.Remove(id)
		}
	}

	return nil
}

// Contains reports whether id has a stored vector.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Vector returns the cached vector for id, if still resident in the LRU.
func (s *Store) Vector(id string) ([]float32, bool) {
	return s.vecCache.Get(id)
}

// Similar embeds the query text and returns up to k nearest documents by
// cosine similarity. In degraded mode it returns an empty slice and no
// error so hybrid callers can fall back to full-text results.
func (s *Store) Similar(ctx context.Context, query string, k int) ([]*Result, error) {
	if s.ensureModel() != nil {
		return []*Result{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SimilarVector(ctx, vec, k)
}

// SimilarVector returns up to k nearest documents to a precomputed vector.
func (s *Store) SimilarVector(ctx context.Context, query []float32, k int) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, enginerr.New(enginerr.ErrCodeIndexClosed, "vector store is closed", nil)
	}
	if s.graph.Len() == 0 || len(s.idMap) == 0 {
		return []*Result{}, nil
	}
	if s.dims != 0 && len(query) != s.dims {
		return nil, dimensionMismatch(s.dims, len(query))
	}
	if k <= 0 {
		k = 10
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Overfetch to compensate for orphaned (lazy-deleted) nodes.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(normalized, k+orphans)

	results := make([]*Result, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazy-deleted
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &Result{
			ID:    id,
			Score: distanceToScore(distance),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// AllIDs returns every stored document id.
func (s *Store) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	degraded := s.Degraded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	orphans := 0
	if s.graph != nil {
		orphans = s.graph.Len() - len(s.idMap)
	}
	return Stats{
		Count:      len(s.idMap),
		Dimensions: s.dims,
		ModelID:    s.cfg.ModelID,
		Degraded:   degraded,
		Orphans:    orphans,
	}
}

// Save persists the graph and id mappings using temp-file + rename.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "vector store is closed", nil)
	}
	if s.cfg.Path == "" {
		return nil // memory-only
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := s.cfg.Path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return persistFailed("create graph file", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return persistFailed("export graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return persistFailed("close graph file", err)
	}
	if err := os.Rename(tmpPath, s.cfg.Path); err != nil {
		os.Remove(tmpPath)
		return persistFailed("rename graph file", err)
	}

	return s.saveMetadata(s.cfg.Path + ".meta")
}

func (s *Store) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return persistFailed("create metadata file", err)
	}

	meta := storeMetadata{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dims,
		ModelID:    s.cfg.ModelID,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return persistFailed("encode metadata", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return persistFailed("close metadata file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return persistFailed("rename metadata file", err)
	}
	return nil
}

// Load restores the graph and id mappings from disk. A missing file is a
// fresh start, not an error. A model mismatch between the persisted index
// and the configured model requires a rebuild.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return enginerr.New(enginerr.ErrCodeIndexClosed, "vector store is closed", nil)
	}
	if s.cfg.Path == "" {
		return nil
	}

	metaPath := s.cfg.Path + ".meta"
	metaFile, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()

	var meta storeMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return enginerr.IndexCorruptionError(metaPath, fmt.Errorf("decode metadata: %w", err))
	}

	if meta.ModelID != "" && meta.ModelID != s.cfg.ModelID {
		return enginerr.New(enginerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with model %q, configured model is %q; rebuild required",
				meta.ModelID, s.cfg.ModelID), nil)
	}

	file, err := os.Open(s.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open graph file: %w", err)
	}
	defer file.Close()

	// bufio.Reader because graph import requires io.ByteReader
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return enginerr.IndexCorruptionError(s.cfg.Path, fmt.Errorf("import graph: %w", err))
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dims = meta.Dimensions
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil

	if s.embedder != nil {
		return s.embedder.Close()
	}
	return nil
}

func dimensionMismatch(expected, got int) error {
	return enginerr.New(enginerr.ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil)
}

func persistFailed(op string, cause error) error {
	return enginerr.New(enginerr.ErrCodePersistenceFailed, op, cause)
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// vectorsEqual reports exact element-wise equality.
func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// distanceToScore converts cosine distance (0..2) to similarity 0..1.
func distanceToScore(distance float32) float64 {
	return float64(1.0 - distance/2.0)
}
