package ingestion

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/storage/models"
)

const sampleTable = `{
  "metadata": {"version": "American Standard Version (1901)", "scope": "New Testament", "total_books": 2, "total_verses": 5},
  "books": {
    "matthew": {
      "metadata": {"name": "Matthew", "genre": "Gospel", "chapters": 1, "verses": 2},
      "chapters": {"1": {"1": "The book of the generation of Jesus Christ, the son of David.", "2": "Abraham begat Isaac;"}}
    },
    "1_john": {
      "metadata": {"name": "1 John"},
      "chapters": {
        "1": {"1": "That which was from the beginning,", "2": "   "},
        "2": {"1": "My little children,"}
      }
    }
  }
}`

type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	dim     int
	err     error
}

func (f *fakeEmbedder) Model() string { return "fake-model" }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, append([]string(nil), texts...))
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, f.dim)
		vec[0] = float64(len(text))
		vec[1] = 3
		out[i] = vec
	}
	return out, nil
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]float64
}

func (m *memoryCache) GetEmbedding(ctx context.Context, hash string) ([]float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[hash]
	return v, ok, nil
}

func (m *memoryCache) SetEmbedding(ctx context.Context, hash string, vec []float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = vec
	return nil
}

type recorder struct {
	runs []models.BuildRun
}

func (r *recorder) RecordBuild(ctx context.Context, run *models.BuildRun) error {
	r.runs = append(r.runs, *run)
	return nil
}

func TestParseVerseTable(t *testing.T) {
	table, err := ParseVerseTable([]byte(sampleTable))
	require.NoError(t, err)

	ids := make([]string, 0, table.Len())
	for _, v := range table.Verses {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"matthew_1_1", "matthew_1_2", "1_john_1_1", "1_john_1_2", "1_john_2_1"}, ids)
	assert.Equal(t, "American Standard Version (1901)", table.Metadata.Version)

	text, ok := table.Text("1_john_2_1")
	assert.True(t, ok)
	assert.Equal(t, "My little children,", text)

	_, ok = table.Text("john_3_16")
	assert.False(t, ok)
}

func TestParseVerseTableMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"missing books": `{"metadata": {}}`,
		"bad chapter":   `{"books": {"mark": {"chapters": {"one": {"1": "x"}}}}}`,
		"bad verse":     `{"books": {"mark": {"chapters": {"1": {"0": "x"}}}}}`,
		"bad book key":  `{"books": {"Mark": {"chapters": {"1": {"1": "x"}}}}}`,
		"text type":     `{"books": {"mark": {"chapters": {"1": {"1": 7}}}}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVerseTable([]byte(data))
			assert.ErrorIs(t, err, artifacts.ErrMalformed)
		})
	}
}

func TestLoadVerseTableMissing(t *testing.T) {
	_, err := LoadVerseTable(filepath.Join(t.TempDir(), "none.json"))
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestProcess(t *testing.T) {
	table, err := ParseVerseTable([]byte(sampleTable))
	require.NoError(t, err)

	dir := t.TempDir()
	emb := &fakeEmbedder{dim: 2}
	rec := &recorder{}
	p := NewProcessor(emb, dir, WithBatchSize(2), WithRecorder(rec))

	store, err := p.Process(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, []string{"matthew_1_1", "matthew_1_2", "1_john_1_1", "1_john_2_1"}, store.IDs, "blank verse skipped")
	assert.Len(t, emb.batches, 2)
	assert.Equal(t, 2, store.Metadata.Dimension)
	assert.Equal(t, 4, store.Metadata.TotalVerses)
	assert.Equal(t, "fake-model", store.Metadata.Model)
	assert.Equal(t, Normalization, store.Metadata.Normalization)
	assert.Equal(t, "American Standard Version (1901)", store.Metadata.BibleVersion)

	for _, id := range store.IDs {
		vec := store.Vectors[id]
		assert.InDelta(t, 1.0, math.Hypot(vec[0], vec[1]), 1e-9, id)
	}

	data, err := os.ReadFile(filepath.Join(dir, artifacts.EmbeddingsFile))
	require.NoError(t, err)
	written, err := artifacts.DecodeEmbeddings(data)
	require.NoError(t, err)
	assert.Equal(t, store.IDs, written.IDs)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, models.BuildKindEmbeddings, rec.runs[1].Kind)
	assert.Equal(t, models.BuildStatusSucceeded, rec.runs[1].Status)
	assert.Equal(t, 4, rec.runs[1].EdgesBuilt)
}

func TestProcessUsesCache(t *testing.T) {
	table, err := ParseVerseTable([]byte(sampleTable))
	require.NoError(t, err)

	cache := &memoryCache{data: make(map[string][]float64)}
	first := &fakeEmbedder{dim: 2}
	_, err = NewProcessor(first, "", WithCache(cache, time.Hour)).Process(context.Background(), table)
	require.NoError(t, err)
	assert.Len(t, cache.data, 4)

	second := &fakeEmbedder{dim: 2}
	store, err := NewProcessor(second, "", WithCache(cache, time.Hour)).Process(context.Background(), table)
	require.NoError(t, err)
	assert.Empty(t, second.batches)
	assert.Equal(t, 4, store.Len())
}

func TestProcessFailure(t *testing.T) {
	table, err := ParseVerseTable([]byte(sampleTable))
	require.NoError(t, err)

	boom := errors.New("upstream down")
	rec := &recorder{}
	dir := t.TempDir()
	_, err = NewProcessor(&fakeEmbedder{dim: 2, err: boom}, dir, WithRecorder(rec)).Process(context.Background(), table)
	assert.ErrorIs(t, err, boom)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, models.BuildStatusFailed, rec.runs[1].Status)
	_, statErr := os.Stat(filepath.Join(dir, artifacts.EmbeddingsFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessCancelled(t *testing.T) {
	table, err := ParseVerseTable([]byte(sampleTable))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewProcessor(&fakeEmbedder{dim: 2}, "").Process(ctx, table)
	assert.ErrorIs(t, err, context.Canceled)
}
