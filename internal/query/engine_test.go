package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/verse"
)

type fakeLoader struct {
	crossRefs *artifacts.CrossReferenceDocument
	crossErr  error
	sims      *artifacts.SimilarityDocument
	simsErr   error
	store     *artifacts.EmbeddingStore
	storeErr  error

	loads int32
}

func (f *fakeLoader) LoadCrossReferences(context.Context) (*artifacts.CrossReferenceDocument, error) {
	atomic.AddInt32(&f.loads, 1)
	if f.crossErr != nil {
		return nil, f.crossErr
	}
	if f.crossRefs == nil {
		return nil, artifacts.ErrNotFound
	}
	return f.crossRefs, nil
}

func (f *fakeLoader) LoadSimilarities(context.Context) (*artifacts.SimilarityDocument, error) {
	if f.simsErr != nil {
		return nil, f.simsErr
	}
	if f.sims == nil {
		return nil, artifacts.ErrNotFound
	}
	return f.sims, nil
}

func (f *fakeLoader) LoadEmbeddings(context.Context) (*artifacts.EmbeddingStore, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	if f.store == nil {
		return nil, artifacts.ErrNotFound
	}
	return f.store, nil
}

func matthewTable() builder.ReferenceTable {
	return builder.ReferenceTable{{Verse: "matthew_1_1", References: []builder.DeclaredReference{
		{Verse: "luke_3_23", Type: builder.TypeThematicStrong, Reason: "genealogy"},
		{Verse: "1_chronicles_3_10", Type: builder.TypeThematicModerate, Reason: "davidic_lineage"},
		{Verse: "romans_1_3", Type: builder.TypeDirectQuote, Reason: "son_of_david"},
	}}}
}

func newReadyEngine(t *testing.T, loader artifacts.Loader) *Engine {
	t.Helper()
	e := NewEngine(loader, DefaultOptions())
	require.NoError(t, e.Initialize(context.Background()))
	return e
}

func verses(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Verse
	}
	return out
}

func assertRanked(t *testing.T, self string, results []Result, limit int) {
	t.Helper()
	assert.LessOrEqual(t, len(results), limit)
	seen := map[string]bool{}
	for i, r := range results {
		assert.NotEqual(t, self, r.Verse)
		assert.False(t, seen[r.Verse], "duplicate %s", r.Verse)
		seen[r.Verse] = true
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
	}
}

func TestFindRelatedErrors(t *testing.T) {
	e := NewEngine(&fakeLoader{}, DefaultOptions())

	_, err := e.FindRelated(context.Background(), "Matthew 1:1", 5)
	assert.ErrorIs(t, err, verse.ErrInvalidVerseID)

	_, err = e.FindRelated(context.Background(), "matthew_1_1", 5)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, e.Ready())
}

func TestFindRelatedReferencesOnly(t *testing.T) {
	doc := builder.BuildDocument(matthewTable(), nil, builder.BuildInfo{})
	e := newReadyEngine(t, &fakeLoader{crossRefs: doc})

	results, err := e.FindRelated(context.Background(), "matthew_1_1", 2)
	require.NoError(t, err)

	assert.Equal(t, []Result{
		{Verse: "romans_1_3", Score: 1.0, Type: builder.TypeDirectQuote, Reason: "son_of_david", Source: SourceCrossReferences},
		{Verse: "luke_3_23", Score: 0.8, Type: builder.TypeThematicStrong, Reason: "genealogy", Source: SourceCrossReferences},
	}, results)

	back, err := e.FindRelated(context.Background(), "luke_3_23", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"matthew_1_1"}, verses(back))
}

func TestFindRelatedMergesSources(t *testing.T) {
	crossRefs := &artifacts.CrossReferenceDocument{
		DirectReferences: artifacts.ReferenceGraph{
			"john_1_1": {
				{Verse: "genesis_1_1", Type: builder.TypeParallelAccount, Weight: 0.95, Reason: "beginning"},
				{Verse: "john_1_14", Type: builder.TypeThematicStrong, Weight: 0.8, Reason: "word"},
				{Verse: "john_1_1", Type: builder.TypeDirectQuote, Weight: 1.0, Reason: "self"},
			},
		},
		ThematicConnections: artifacts.ThematicGraph{
			"john_1_1": {
				"word":     {"john_1_14", "1_john_1_1"},
				"creation": {"colossians_1_16", "genesis_1_1"},
			},
		},
	}
	sims := &artifacts.SimilarityDocument{Similarities: artifacts.SimilarityTable{
		"john_1_1": {
			{Verse: "genesis_1_1", Score: 0.9, Type: "semantic", Reason: "textual_similarity"},
			{Verse: "john_1_1", Score: 0.99, Type: "semantic", Reason: "textual_similarity"},
			{Verse: "john_1_2", Score: 0.7, Type: "semantic", Reason: "textual_similarity"},
		},
	}}
	e := newReadyEngine(t, &fakeLoader{crossRefs: crossRefs, sims: sims})

	results, err := e.FindRelated(context.Background(), "john_1_1", 10)
	require.NoError(t, err)
	assertRanked(t, "john_1_1", results, 10)

	assert.Equal(t, Result{
		Verse: "genesis_1_1", Score: 0.95, Type: builder.TypeParallelAccount, Reason: "beginning", Source: SourceCrossReferences,
	}, results[0], "stronger reference replaces semantic score")

	byVerse := map[string]Result{}
	for _, r := range results {
		byVerse[r.Verse] = r
	}
	assert.Equal(t, SourceCrossReferences, byVerse["john_1_14"].Source, "equal thematic score keeps first insertion")
	assert.Equal(t, Result{
		Verse: "colossians_1_16", Score: ThematicScore, Type: builder.TypeThematic, Reason: "creation", Source: SourceThematic,
	}, byVerse["colossians_1_16"])
	assert.Equal(t, "word", byVerse["1_john_1_1"].Reason)
	assert.Equal(t, SourceEmbeddings, byVerse["john_1_2"].Source)

	assert.Equal(t, []string{"genesis_1_1", "john_1_14", "colossians_1_16", "1_john_1_1", "john_1_2"}, verses(results))
}

func TestFindRelatedBlendedSimilarityKeepsReferenceSource(t *testing.T) {
	sims := &artifacts.SimilarityDocument{Similarities: artifacts.SimilarityTable{
		"matthew_1_1": {
			{Verse: "romans_1_3", Score: 1.0, Type: builder.TypeDirectQuote, Reason: "son_of_david"},
			{Verse: "luke_3_23", Score: 0.82, Type: builder.TypeSemantic, Reason: "textual_similarity"},
		},
	}}
	e := newReadyEngine(t, &fakeLoader{sims: sims})

	results, err := e.FindRelated(context.Background(), "matthew_1_1", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{
		Verse: "romans_1_3", Score: 1.0, Type: builder.TypeDirectQuote, Reason: "son_of_david", Source: SourceCrossReferences,
	}, results[0])
	assert.Equal(t, SourceEmbeddings, results[1].Source)
}

func TestFindRelatedOnDemandSemantic(t *testing.T) {
	store := artifacts.NewEmbeddingStore(artifacts.EmbeddingMetadata{Dimension: 2})
	store.Add("psalm_23_1", []float64{1, 0})
	store.Add("john_10_11", []float64{0.9, 0.1})
	store.Add("isaiah_40_11", []float64{0.7, 0.3})
	store.Add("genesis_1_1", []float64{0, 1})

	loader := &fakeLoader{store: store, simsErr: errors.New("origin unreachable")}
	e := newReadyEngine(t, loader)
	assert.Equal(t, "on_demand", e.Stats().SemanticSource)

	results, err := e.FindRelated(context.Background(), "psalm_23_1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"john_10_11", "isaiah_40_11"}, verses(results))
	for _, r := range results {
		assert.Equal(t, SourceEmbeddings, r.Source)
		assert.Equal(t, builder.TypeSemantic, r.Type)
	}

	results, err = e.FindRelated(context.Background(), "psalm_23_1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"john_10_11"}, verses(results))
}

func TestFindRelatedDefaultsAndCaps(t *testing.T) {
	doc := builder.BuildDocument(builder.SeedReferences, builder.SeedClusters, builder.BuildInfo{})
	e := newReadyEngine(t, &fakeLoader{crossRefs: doc})

	results, err := e.FindRelated(context.Background(), "matthew_1_1", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultMaxResults)
	assertRanked(t, "matthew_1_1", results, DefaultMaxResults)

	for id := range doc.DirectReferences {
		for _, limit := range []int{1, 3, 20} {
			results, err := e.FindRelated(context.Background(), id, limit)
			require.NoError(t, err)
			assertRanked(t, id, results, limit)
		}
	}
}

func TestInitializeDegradesGracefully(t *testing.T) {
	e := newReadyEngine(t, &fakeLoader{crossErr: errors.New("connection refused")})
	assert.True(t, e.Ready())

	results, err := e.FindRelated(context.Background(), "matthew_1_1", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, "none", e.Stats().SemanticSource)
}

func TestInitializeMalformedIsFatal(t *testing.T) {
	loader := &fakeLoader{
		crossErr: fmt.Errorf("%w: direct_references: bad verse id", artifacts.ErrMalformed),
	}
	e := NewEngine(loader, DefaultOptions())

	err := e.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, artifacts.ErrMalformed)
	assert.False(t, e.Ready())

	loader.crossErr = nil
	loader.crossRefs = builder.BuildDocument(matthewTable(), nil, builder.BuildInfo{})
	require.NoError(t, e.Initialize(context.Background()))
	assert.True(t, e.Ready())
}

func TestInitializeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(&fakeLoader{crossErr: context.Canceled}, DefaultOptions())
	err := e.Initialize(ctx)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.Ready())
}

func TestInitializeConcurrent(t *testing.T) {
	loader := &fakeLoader{crossRefs: builder.BuildDocument(matthewTable(), nil, builder.BuildInfo{})}
	e := NewEngine(loader, DefaultOptions())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Initialize(context.Background()))
			results, err := e.FindRelated(context.Background(), "matthew_1_1", 3)
			assert.NoError(t, err)
			assert.Len(t, results, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.loads))
}

func TestFindRelatedCachesCopies(t *testing.T) {
	e := newReadyEngine(t, &fakeLoader{crossRefs: builder.BuildDocument(matthewTable(), nil, builder.BuildInfo{})})
	ctx := context.Background()

	first, err := e.FindRelated(ctx, "matthew_1_1", 3)
	require.NoError(t, err)
	first[0].Verse = "tampered_1_1"
	first[0].Score = -1

	second, err := e.FindRelated(ctx, "matthew_1_1", 3)
	require.NoError(t, err)
	assert.Equal(t, "romans_1_3", second[0].Verse)
	assert.Equal(t, 1, e.Stats().CachedQueries)

	_, err = e.FindRelated(ctx, "matthew_1_1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Stats().CachedQueries, "limit is part of the cache key")

	_, cached, err := e.LookupRelated(ctx, "matthew_1_1", 2)
	require.NoError(t, err)
	assert.True(t, cached)

	e.ClearCache()
	assert.Equal(t, 0, e.Stats().CachedQueries)

	_, cached, err = e.LookupRelated(ctx, "matthew_1_1", 2)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestResultCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newResultCache(2)
	c.Set("a", []Result{{Verse: "a_1_1"}})
	c.Set("b", []Result{{Verse: "b_1_1"}})

	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", []Result{{Verse: "c_1_1"}})

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Set("a", []Result{{Verse: "a_2_2"}})
	got, _ := c.Get("a")
	assert.Equal(t, "a_2_2", got[0].Verse)
	assert.Equal(t, 2, c.Len())
}
