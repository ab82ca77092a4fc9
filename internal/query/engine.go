// Package query merges cross references, thematic clusters and embedding
// similarity into ranked related-passage lists.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/metrics"
	"github.com/scripture-rag/backend/internal/similarity"
	"github.com/scripture-rag/backend/internal/verse"
	"github.com/scripture-rag/backend/pkg/logger"
)

var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrInitialization = errors.New("engine initialization failed")
)

const (
	SourceEmbeddings      = "embeddings"
	SourceCrossReferences = "cross_references"
	SourceThematic        = "thematic_analysis"

	ThematicScore = 0.8

	DefaultMaxResults = 5
	DefaultCacheSize  = 100
)

type Result struct {
	Verse  string  `json:"verse"`
	// Score is a reference weight, a cosine similarity or ThematicScore,
	// compared as if on one scale.
	Score  float64 `json:"score"`
	Type   string  `json:"type"`
	Reason string  `json:"reason"`
	Source string  `json:"source"`
}

type Options struct {
	CacheSize         int
	DefaultMaxResults int
	SemanticThreshold float64
}

func DefaultOptions() Options {
	return Options{
		CacheSize:         DefaultCacheSize,
		DefaultMaxResults: DefaultMaxResults,
		SemanticThreshold: similarity.DefaultThreshold,
	}
}

// tables are immutable once published.
type tables struct {
	references   artifacts.ReferenceGraph
	thematic     artifacts.ThematicGraph
	similarities artifacts.SimilarityTable
	embeddings   *artifacts.EmbeddingStore
}

// Stats describes what the engine loaded.
type Stats struct {
	Ready            bool   `json:"ready"`
	ReferenceVerses  int    `json:"reference_verses"`
	ThematicVerses   int    `json:"thematic_verses"`
	SimilarityVerses int    `json:"similarity_verses"`
	EmbeddingVerses  int    `json:"embedding_verses"`
	SemanticSource   string `json:"semantic_source"`
	CachedQueries    int    `json:"cached_queries"`
}

type Engine struct {
	loader artifacts.Loader
	opts   Options

	initMu sync.Mutex
	loaded atomic.Pointer[tables]
	cache  *resultCache
}

func NewEngine(loader artifacts.Loader, opts Options) *Engine {
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = DefaultMaxResults
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	return &Engine{
		loader: loader,
		opts:   opts,
		cache:  newResultCache(opts.CacheSize),
	}
}

func (e *Engine) Ready() bool {
	return e.loaded.Load() != nil
}

// Initialize loads the tables once. Concurrent callers wait for the first
// load; after a failure the engine stays uninitialized and may be retried.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.Ready() {
		return nil
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.Ready() {
		return nil
	}

	t, err := e.load(ctx)
	if err != nil {
		logger.Error("Retrieval engine initialization failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	e.loaded.Store(t)
	metrics.TablesLoaded.WithLabelValues("cross_references").Set(float64(len(t.references)))
	metrics.TablesLoaded.WithLabelValues("thematic_connections").Set(float64(len(t.thematic)))
	metrics.TablesLoaded.WithLabelValues("similarities").Set(float64(len(t.similarities)))
	metrics.TablesLoaded.WithLabelValues("embeddings").Set(float64(t.embeddings.Len()))

	logger.Info("Retrieval engine initialized",
		zap.Int("reference_verses", len(t.references)),
		zap.Int("thematic_verses", len(t.thematic)),
		zap.Int("similarity_verses", len(t.similarities)),
		zap.Int("embedding_verses", t.embeddings.Len()),
	)
	return nil
}

// optional returns nil when a load error may be tolerated. Malformed tables
// and cancelled contexts are fatal.
func optional(ctx context.Context, table string, err error) error {
	if errors.Is(err, artifacts.ErrMalformed) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, artifacts.ErrNotFound) {
		logger.Warn("Table not available, continuing without it", zap.String("table", table))
	} else {
		logger.Warn("Table failed to load, continuing without it", zap.String("table", table), zap.Error(err))
	}
	return nil
}

func (e *Engine) load(ctx context.Context) (*tables, error) {
	t := &tables{}

	crossRefs, err := e.loader.LoadCrossReferences(ctx)
	if err != nil {
		if err := optional(ctx, "cross_references", err); err != nil {
			return nil, err
		}
	} else {
		t.references = crossRefs.DirectReferences
		t.thematic = crossRefs.ThematicConnections
	}

	sims, err := e.loader.LoadSimilarities(ctx)
	if err != nil {
		if err := optional(ctx, "similarities", err); err != nil {
			return nil, err
		}
	} else {
		t.similarities = sims.Similarities
	}

	// vectors are only needed for on-demand scoring
	if t.similarities == nil {
		store, err := e.loader.LoadEmbeddings(ctx)
		if err != nil {
			if err := optional(ctx, "embeddings", err); err != nil {
				return nil, err
			}
		} else {
			t.embeddings = store
		}
	}

	if t.references == nil && t.similarities == nil && t.embeddings == nil {
		logger.Warn("No retrieval tables available, every lookup will be empty")
	}
	return t, nil
}

func (e *Engine) Stats() Stats {
	s := Stats{CachedQueries: e.cache.Len()}
	t := e.loaded.Load()
	if t == nil {
		return s
	}
	s.Ready = true
	s.ReferenceVerses = len(t.references)
	s.ThematicVerses = len(t.thematic)
	s.SimilarityVerses = len(t.similarities)
	s.EmbeddingVerses = t.embeddings.Len()
	switch {
	case t.similarities != nil:
		s.SemanticSource = "precomputed"
	case t.embeddings != nil:
		s.SemanticSource = "on_demand"
	default:
		s.SemanticSource = "none"
	}
	return s
}

func (e *Engine) ClearCache() {
	e.cache.Purge()
}

// FindRelated returns up to maxResults passages related to verseID, best
// first. maxResults <= 0 selects the configured default.
func (e *Engine) FindRelated(ctx context.Context, verseID string, maxResults int) ([]Result, error) {
	results, _, err := e.LookupRelated(ctx, verseID, maxResults)
	return results, err
}

// LookupRelated is FindRelated that also reports whether the answer came
// from the result cache.
func (e *Engine) LookupRelated(ctx context.Context, verseID string, maxResults int) ([]Result, bool, error) {
	if !verse.Valid(verseID) {
		return nil, false, fmt.Errorf("%w: %q", verse.ErrInvalidVerseID, verseID)
	}
	t := e.loaded.Load()
	if t == nil {
		return nil, false, ErrNotInitialized
	}
	if maxResults <= 0 {
		maxResults = e.opts.DefaultMaxResults
	}

	key := fmt.Sprintf("%s_%d", verseID, maxResults)
	if cached, ok := e.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("related").Inc()
		logger.Debug("Using cached results", zap.String("verse_id", verseID))
		return cached, true, nil
	}
	metrics.CacheMisses.WithLabelValues("related").Inc()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	results := e.merge(t, verseID, maxResults)
	e.cache.Set(key, results)

	metrics.ResultsCount.Observe(float64(len(results)))
	for _, r := range results {
		metrics.ResultsBySource.WithLabelValues(r.Source).Inc()
	}
	return results, false, nil
}

type merger struct {
	index   map[string]int
	results []Result
	self    string
}

func (m *merger) add(r Result) {
	if r.Verse == m.self {
		return
	}
	if i, ok := m.index[r.Verse]; ok {
		if r.Score > m.results[i].Score {
			m.results[i] = r
		}
		return
	}
	m.index[r.Verse] = len(m.results)
	m.results = append(m.results, r)
}

func (e *Engine) merge(t *tables, verseID string, maxResults int) []Result {
	m := &merger{index: make(map[string]int), self: verseID}

	semantic := e.semantic(t, verseID, maxResults)
	for _, s := range semantic {
		m.add(Result{Verse: s.Verse, Score: s.Score, Type: s.Type, Reason: s.Reason, Source: semanticSource(s.Type)})
	}

	refs := t.references[verseID]
	for _, ref := range refs {
		m.add(Result{Verse: ref.Verse, Score: ref.Weight, Type: ref.Type, Reason: ref.Reason, Source: SourceCrossReferences})
	}

	themes := t.thematic[verseID]
	names := make([]string, 0, len(themes))
	for theme := range themes {
		names = append(names, theme)
	}
	sort.Strings(names)
	thematicCount := 0
	for _, theme := range names {
		for _, related := range themes[theme] {
			thematicCount++
			m.add(Result{Verse: related, Score: ThematicScore, Type: builder.TypeThematic, Reason: theme, Source: SourceThematic})
		}
	}

	results := m.results
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if results == nil {
		results = []Result{}
	}

	logger.Debug("Related passages merged",
		zap.String("verse_id", verseID),
		zap.Int("semantic", len(semantic)),
		zap.Int("cross_references", len(refs)),
		zap.Int("thematic", thematicCount),
		zap.Int("returned", len(results)),
	)
	return results
}

// semanticSource attributes reference edges blended into the similarity
// table to the cross references they came from.
func semanticSource(typ string) string {
	if typ == "" || typ == builder.TypeSemantic {
		return SourceEmbeddings
	}
	return SourceCrossReferences
}

func (e *Engine) semantic(t *tables, verseID string, maxResults int) []artifacts.SimilarityEdge {
	if t.similarities != nil {
		var out []artifacts.SimilarityEdge
		for _, s := range t.similarities[verseID] {
			if s.Verse == verseID || s.Score <= e.opts.SemanticThreshold {
				continue
			}
			out = append(out, s)
			if len(out) == maxResults {
				break
			}
		}
		return out
	}
	return similarity.Neighbors(t.embeddings, verseID, e.opts.SemanticThreshold, maxResults)
}
