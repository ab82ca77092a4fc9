package zilliz

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/pkg/logger"
)

const (
	fieldVerseID   = "verse_id"
	fieldEmbedding = "embedding"

	insertBatchSize = 1000
	ivfNList        = 128
	ivfNProbe       = 16
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type Neighbor struct {
	VerseID string  `json:"verse_id"`
	Score   float32 `json:"score"`
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// EnsureCollection creates and loads the verse collection. With recreate an
// existing collection is dropped first.
func (z *Client) EnsureCollection(ctx context.Context, recreate bool) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has && recreate {
		if err := z.client.DropCollection(ctx, z.collectionName); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
		logger.Info("Collection dropped", zap.String("collection", z.collectionName))
		has = false
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.load(ctx)
	}

	if err := z.client.CreateCollection(ctx, z.schema(), entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, ivfNList)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	logger.Info("Collection created", zap.String("collection", z.collectionName), zap.Int("dim", z.vectorDim))
	return z.load(ctx)
}

func (z *Client) load(ctx context.Context) error {
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (z *Client) schema() *entity.Schema {
	return &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Verse embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldVerseID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", z.vectorDim),
				},
			},
		},
	}
}

// IndexStore uploads every vector of store in batches and flushes.
func (z *Client) IndexStore(ctx context.Context, store *artifacts.EmbeddingStore) (int, error) {
	batches, err := buildBatches(store, z.vectorDim, insertBatchSize)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, b := range batches {
		_, err := z.client.Insert(
			ctx,
			z.collectionName,
			"",
			entity.NewColumnVarChar(fieldVerseID, b.ids),
			entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, b.vectors),
		)
		if err != nil {
			return total, fmt.Errorf("failed to insert batch %d: %w", i+1, err)
		}
		total += len(b.ids)
		logger.Debug("Vector batch inserted", zap.Int("batch", i+1), zap.Int("count", len(b.ids)))
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return total, fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Verse vectors indexed", zap.Int("count", total), zap.String("collection", z.collectionName))
	return total, nil
}

// SearchSimilar returns up to k verses closest to vec by inner product.
func (z *Client) SearchSimilar(ctx context.Context, vec []float64, k int) ([]Neighbor, error) {
	if len(vec) != z.vectorDim {
		return nil, fmt.Errorf("query vector has dimension %d, collection expects %d", len(vec), z.vectorDim)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(ivfNProbe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{fieldVerseID},
		[]entity.Vector{entity.FloatVector(toFloat32(vec))},
		fieldEmbedding,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]Neighbor, 0, k)
	for _, sr := range searchResult {
		col := sr.Fields.GetColumn(fieldVerseID)
		if col == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			id, err := col.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read verse id: %w", err)
			}
			results = append(results, Neighbor{VerseID: id, Score: sr.Scores[i]})
		}
	}

	logger.Debug("Vector search completed", zap.Int("k", k), zap.Int("results", len(results)))
	return results, nil
}

type batch struct {
	ids     []string
	vectors [][]float32
}

func buildBatches(store *artifacts.EmbeddingStore, dim, size int) ([]batch, error) {
	if store.Len() == 0 {
		return nil, nil
	}
	if store.Metadata.Dimension != dim {
		return nil, fmt.Errorf("embedding dimension %d does not match collection dimension %d", store.Metadata.Dimension, dim)
	}

	var out []batch
	for start := 0; start < len(store.IDs); start += size {
		end := start + size
		if end > len(store.IDs) {
			end = len(store.IDs)
		}
		b := batch{
			ids:     make([]string, 0, end-start),
			vectors: make([][]float32, 0, end-start),
		}
		for _, id := range store.IDs[start:end] {
			vec := store.Vectors[id]
			if len(vec) != dim {
				return nil, fmt.Errorf("%w: %q has dimension %d", artifacts.ErrMalformed, id, len(vec))
			}
			b.ids = append(b.ids, id)
			b.vectors = append(b.vectors, toFloat32(vec))
		}
		out = append(out, b)
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
