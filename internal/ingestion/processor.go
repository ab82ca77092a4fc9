package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/buildrun"
	"github.com/scripture-rag/backend/internal/similarity"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/logger"
	"github.com/scripture-rag/backend/pkg/utils"
)

const (
	DefaultBatchSize = 100
	Normalization    = "L2 normalized for cosine similarity"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// EmbeddingCache stores vectors by text hash so reruns only embed new text.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float64, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float64, ttl time.Duration) error
}

type Processor struct {
	embedder  Embedder
	cache     EmbeddingCache
	cacheTTL  time.Duration
	recorder  buildrun.Recorder
	outputDir string
	batchSize int
}

type Option func(*Processor)

func WithCache(cache EmbeddingCache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.cache = cache
		p.cacheTTL = ttl
	}
}

func WithRecorder(rec buildrun.Recorder) Option {
	return func(p *Processor) { p.recorder = rec }
}

func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func NewProcessor(embedder Embedder, outputDir string, opts ...Option) *Processor {
	p := &Processor{
		embedder:  embedder,
		outputDir: outputDir,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process embeds every verse of table and writes the embedding store. Verses
// with blank text are skipped.
func (p *Processor) Process(ctx context.Context, table *VerseTable) (*artifacts.EmbeddingStore, error) {
	run := buildrun.Start(ctx, p.recorder, models.BuildKindEmbeddings)

	store, err := p.process(ctx, table, run)
	if err == nil && p.outputDir != "" {
		path := filepath.Join(p.outputDir, artifacts.EmbeddingsFile)
		if werr := artifacts.WriteJSON(path, store); werr != nil {
			err = fmt.Errorf("failed to write embeddings: %w", werr)
		} else {
			logger.Info("Embeddings written",
				zap.String("path", path),
				zap.Int("verses", store.Len()),
				zap.Int("dimension", store.Metadata.Dimension),
			)
		}
	}

	run.Finish(ctx, store.Len(), err)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (p *Processor) process(ctx context.Context, table *VerseTable, run *buildrun.Run) (*artifacts.EmbeddingStore, error) {
	version := table.Metadata.Version
	if version == "" {
		version = "Unknown"
	}
	store := artifacts.NewEmbeddingStore(artifacts.EmbeddingMetadata{
		Model:          p.embedder.Model(),
		BibleVersion:   version,
		ProcessingDate: run.StartedAt(),
		Normalization:  Normalization,
	})

	verses := make([]Verse, 0, table.Len())
	for _, v := range table.Verses {
		if strings.TrimSpace(v.Text) == "" {
			logger.Warn("Skipping verse without text", zap.String("verse_id", v.ID))
			continue
		}
		verses = append(verses, v)
	}

	batches := (len(verses) + p.batchSize - 1) / p.batchSize
	for i := 0; i < len(verses); i += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + p.batchSize
		if end > len(verses) {
			end = len(verses)
		}

		logger.Info("Processing embedding batch",
			zap.Int("batch", i/p.batchSize+1),
			zap.Int("batches", batches),
		)

		vecs, err := p.embedBatch(ctx, verses[i:end])
		if err != nil {
			return nil, err
		}
		for j, v := range verses[i:end] {
			vec := similarity.Normalize(vecs[j])
			if store.Metadata.Dimension != 0 && len(vec) != store.Metadata.Dimension {
				return nil, fmt.Errorf("%w: embedding for %q has dimension %d, expected %d",
					artifacts.ErrMalformed, v.ID, len(vec), store.Metadata.Dimension)
			}
			store.Add(v.ID, vec)
		}
	}

	return store, nil
}

// embedBatch serves what it can from the cache and embeds the rest in one call.
func (p *Processor) embedBatch(ctx context.Context, batch []Verse) ([][]float64, error) {
	out := make([][]float64, len(batch))
	hashes := make([]string, len(batch))

	var missing []int
	for i, v := range batch {
		hashes[i] = utils.HashString(p.embedder.Model() + ":" + v.Text)
		if p.cache != nil {
			vec, ok, err := p.cache.GetEmbedding(ctx, hashes[i])
			if err != nil {
				logger.Warn("Embedding cache read failed", zap.String("verse_id", v.ID), zap.Error(err))
			} else if ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = batch[i].Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed verses %s..%s: %w", batch[0].ID, batch[len(batch)-1].ID, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	for j, i := range missing {
		out[i] = vecs[j]
		if p.cache != nil {
			if err := p.cache.SetEmbedding(ctx, hashes[i], vecs[j], p.cacheTTL); err != nil {
				logger.Warn("Embedding cache write failed", zap.String("verse_id", batch[i].ID), zap.Error(err))
			}
		}
	}
	return out, nil
}
