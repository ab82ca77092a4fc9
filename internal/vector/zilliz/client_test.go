package zilliz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripture-rag/backend/internal/artifacts"
)

func TestBuildBatches(t *testing.T) {
	store := artifacts.NewEmbeddingStore(artifacts.EmbeddingMetadata{Model: "m"})
	for i := 1; i <= 5; i++ {
		store.Add(fmt.Sprintf("john_1_%d", i), []float64{float64(i), 0.5})
	}

	batches, err := buildBatches(store, 2, 2)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"john_1_1", "john_1_2"}, batches[0].ids)
	assert.Equal(t, []string{"john_1_5"}, batches[2].ids)
	assert.Equal(t, []float32{5, 0.5}, batches[2].vectors[0])
}

func TestBuildBatchesDimension(t *testing.T) {
	store := artifacts.NewEmbeddingStore(artifacts.EmbeddingMetadata{})
	store.Add("john_1_1", []float64{1, 0})

	_, err := buildBatches(store, 384, 10)
	assert.Error(t, err)

	store.Add("john_1_2", []float64{1, 0, 0})
	_, err = buildBatches(store, 2, 10)
	assert.ErrorIs(t, err, artifacts.ErrMalformed)

	empty, err := buildBatches(artifacts.NewEmbeddingStore(artifacts.EmbeddingMetadata{}), 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSchema(t *testing.T) {
	z := &Client{collectionName: "verses", vectorDim: 384}
	s := z.schema()
	require.Len(t, s.Fields, 2)
	assert.True(t, s.Fields[0].PrimaryKey)
	assert.Equal(t, fieldVerseID, s.Fields[0].Name)
	assert.Equal(t, "384", s.Fields[1].TypeParams["dim"])
}
