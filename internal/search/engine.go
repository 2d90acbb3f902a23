// Package search implements hybrid retrieval over the full-text index
// and the vector store.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	enginerr "github.com/docseek/docseek/internal/errors"
	"github.com/docseek/docseek/internal/index"
	"github.com/docseek/docseek/internal/store"
	"github.com/docseek/docseek/internal/vector"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeFullText Mode = "full_text"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// DefaultLimit caps result counts when the caller does not specify one.
const DefaultLimit = 10

// DefaultSuggestionCacheSize bounds the prefix suggestion cache.
const DefaultSuggestionCacheSize = 256

// Options controls a single search call.
type Options struct {
	Mode           Mode
	Limit          int
	FullTextWeight float64
	SemanticWeight float64
}

// Result is a single ranked document.
type Result struct {
	DocID        string   `json:"doc_id"`
	Score        float64  `json:"score"`  // Normalized to 0..1 within the response
	Source       Mode     `json:"source"` // Which leg produced the document
	Snippet      string   `json:"snippet,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Response carries results plus quality flags.
type Response struct {
	Results []*Result `json:"results"`
	// DegradedModeWarning is set when the embedding model is unavailable
	// and semantic results were silently omitted.
	DegradedModeWarning bool `json:"degraded_mode_warning,omitempty"`
}

// Engine answers search queries against the coordinator's stores.
type Engine struct {
	coord *index.Coordinator

	defaultFullTextWeight float64
	defaultSemanticWeight float64
	maxLimit              int

	suggestions *lru.Cache[string, []string]

	logger *slog.Logger
}

// Config configures an Engine.
type Config struct {
	Coordinator    *index.Coordinator
	FullTextWeight float64
	SemanticWeight float64

	// MaxLimit caps the per-query result count; 0 means uncapped.
	MaxLimit int

	SuggestionCacheSize int
	Logger              *slog.Logger
}

// NewEngine creates a search engine. It registers a commit hook on the
// coordinator so index mutations invalidate the suggestion cache.
func NewEngine(cfg Config) *Engine {
	if cfg.FullTextWeight == 0 && cfg.SemanticWeight == 0 {
		cfg.FullTextWeight = 0.5
		cfg.SemanticWeight = 0.5
	}
	if cfg.SuggestionCacheSize <= 0 {
		cfg.SuggestionCacheSize = DefaultSuggestionCacheSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, _ := lru.New[string, []string](cfg.SuggestionCacheSize)
	e := &Engine{
		coord:                 cfg.Coordinator,
		defaultFullTextWeight: cfg.FullTextWeight,
		defaultSemanticWeight: cfg.SemanticWeight,
		maxLimit:              cfg.MaxLimit,
		suggestions:           cache,
		logger:                logger,
	}
	cfg.Coordinator.RegisterCommitHook(func(string) {
		e.suggestions.Purge()
	})
	return e
}

// Search runs a query in the requested mode. Empty queries return an
// empty response. Unknown modes and negative weights are query errors.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	opts, err := e.applyDefaults(opts)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		return &Response{Results: []*Result{}}, nil
	}

	switch opts.Mode {
	case ModeFullText:
		return e.fullTextSearch(ctx, query, opts.Limit)
	case ModeSemantic:
		return e.semanticSearch(ctx, query, opts.Limit)
	case ModeHybrid:
		return e.hybridSearch(ctx, query, opts)
	default:
		return nil, enginerr.QueryError(fmt.Sprintf("unknown search mode %q", opts.Mode), nil)
	}
}

func (e *Engine) applyDefaults(opts Options) (Options, error) {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if e.maxLimit > 0 && opts.Limit > e.maxLimit {
		opts.Limit = e.maxLimit
	}
	if opts.FullTextWeight == 0 && opts.SemanticWeight == 0 {
		opts.FullTextWeight = e.defaultFullTextWeight
		opts.SemanticWeight = e.defaultSemanticWeight
	}
	if opts.FullTextWeight < 0 || opts.SemanticWeight < 0 {
		return opts, enginerr.QueryError("search weights must be non-negative", nil)
	}
	if opts.FullTextWeight == 0 && opts.SemanticWeight == 0 {
		return opts, enginerr.QueryError("at least one search weight must be positive", nil)
	}
	return opts, nil
}

func (e *Engine) fullTextSearch(ctx context.Context, query string, limit int) (*Response, error) {
	hits, err := e.coord.FullText().Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, &Result{
			DocID:        h.DocID,
			Score:        h.Score,
			Source:       ModeFullText,
			Snippet:      h.Snippet,
			MatchedTerms: h.MatchedTerms,
		})
	}
	normalizeScores(results)
	return &Response{Results: results}, nil
}

func (e *Engine) semanticSearch(ctx context.Context, query string, limit int) (*Response, error) {
	vectors := e.coord.Vectors()
	if vectors.Degraded() {
		return &Response{Results: []*Result{}, DegradedModeWarning: true}, nil
	}

	matches, err := vectors.Similar(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, &Result{
			DocID:  m.ID,
			Score:  m.Score,
			Source: ModeSemantic,
		})
	}
	normalizeScores(results)
	return &Response{Results: results}, nil
}

func (e *Engine) hybridSearch(ctx context.Context, query string, opts Options) (*Response, error) {
	vectors := e.coord.Vectors()
	degraded := vectors.Degraded()

	// With a zero semantic weight or an unavailable model the semantic leg
	// contributes nothing; results must match full_text mode exactly.
	if opts.SemanticWeight == 0 || degraded {
		resp, err := e.fullTextSearch(ctx, query, opts.Limit)
		if err != nil {
			return nil, err
		}
		resp.DegradedModeWarning = degraded
		return resp, nil
	}
	if opts.FullTextWeight == 0 {
		return e.semanticSearch(ctx, query, opts.Limit)
	}

	var (
		ftHits     []*store.Hit
		vecMatches []*vector.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ftHits, err = e.coord.FullText().Query(gctx, query, opts.Limit)
		return err
	})
	g.Go(func() error {
		var err error
		vecMatches, err = vectors.Similar(gctx, query, opts.Limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := mergeWeighted(ftHits, vecMatches, opts.FullTextWeight, opts.SemanticWeight)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return &Response{Results: results}, nil
}

// mergeWeighted min-max normalizes each leg's scores over its returned
// set, then combines them per document as
// (w_ft*ft_norm + w_sem*sem_norm) / (w_ft+w_sem), deduplicating by
// document id. Dividing by the weight sum keeps merged scores in 0..1
// for any non-negative weight configuration.
func mergeWeighted(ftHits []*store.Hit, vecMatches []*vector.Result, wFT, wSem float64) []*Result {
	if sum := wFT + wSem; sum > 0 {
		wFT /= sum
		wSem /= sum
	}

	ftNorm := minMax(len(ftHits), func(i int) float64 { return ftHits[i].Score })
	semNorm := minMax(len(vecMatches), func(i int) float64 { return vecMatches[i].Score })

	merged := make(map[string]*Result)
	for i, h := range ftHits {
		merged[h.DocID] = &Result{
			DocID:        h.DocID,
			Score:        wFT * ftNorm[i],
			Source:       ModeFullText,
			Snippet:      h.Snippet,
			MatchedTerms: h.MatchedTerms,
		}
	}
	for i, m := range vecMatches {
		if r, ok := merged[m.ID]; ok {
			r.Score += wSem * semNorm[i]
			r.Source = ModeHybrid
		} else {
			merged[m.ID] = &Result{
				DocID:  m.ID,
				Score:  wSem * semNorm[i],
				Source: ModeSemantic,
			}
		}
	}

	results := make([]*Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sortResults(results)
	return results
}

// minMax normalizes n scores over the returned set. A constant set maps
// to all ones so every document keeps full weight.
func minMax(n int, score func(int) float64) []float64 {
	if n == 0 {
		return nil
	}
	lo, hi := score(0), score(0)
	for i := 1; i < n; i++ {
		s := score(i)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	norm := make([]float64, n)
	if hi == lo {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i := 0; i < n; i++ {
		norm[i] = (score(i) - lo) / (hi - lo)
	}
	return norm
}

// normalizeScores rescales a single-leg result list to 0..1 in place.
func normalizeScores(results []*Result) {
	norm := minMax(len(results), func(i int) float64 { return results[i].Score })
	for i := range results {
		results[i].Score = norm[i]
	}
}

// sortResults orders by score descending, document id ascending on ties.
func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
}

// Suggest returns document titles matching the given prefix. Results are
// served from an LRU cache that index mutations invalidate.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	key := fmt.Sprintf("%s\x00%d", prefix, limit)
	if cached, ok := e.suggestions.Get(key); ok {
		return cached, nil
	}

	hits, err := e.coord.FullText().Query(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}

	titles := make([]string, 0, len(hits))
	for _, h := range hits {
		doc, err := e.coord.Catalog().GetDocument(ctx, h.DocID)
		if err != nil || doc == nil || doc.Title == "" {
			continue
		}
		titles = append(titles, doc.Title)
	}

	e.suggestions.Add(key, titles)
	return titles, nil
}
