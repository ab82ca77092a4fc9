package similarity

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/buildrun"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/logger"
)

type Store interface {
	buildrun.Recorder
	SaveSimilarities(ctx context.Context, buildID string, doc *artifacts.SimilarityDocument) error
}

type Builder struct {
	store     Store
	outputDir string
	opts      Options
}

func NewBuilder(store Store, outputDir string, opts Options) *Builder {
	return &Builder{store: store, outputDir: outputDir, opts: opts}
}

// Build computes the similarity document for the store. When refs is not nil
// direct references are blended into the semantic neighbourhoods.
func (b *Builder) Build(ctx context.Context, store *artifacts.EmbeddingStore, refs artifacts.ReferenceGraph) (*artifacts.SimilarityDocument, error) {
	run := buildrun.Start(ctx, b.store, models.BuildKindSimilarity)

	doc, err := b.build(ctx, store, refs, run)
	if err == nil {
		err = b.write(ctx, run.ID(), doc)
	}

	edges := 0
	if doc != nil {
		edges = doc.Metadata.TotalConnections
	}
	run.Finish(ctx, edges, err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) build(ctx context.Context, store *artifacts.EmbeddingStore, refs artifacts.ReferenceGraph, run *buildrun.Run) (*artifacts.SimilarityDocument, error) {
	logger.Info("Computing similarity matrix",
		zap.Int("verses", store.Len()),
		zap.Float64("threshold", b.opts.Threshold),
		zap.Int("top_k", b.opts.TopK),
	)

	table, err := BuildTable(ctx, store, b.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to compute similarities: %w", err)
	}

	merged := false
	if refs != nil {
		MergeReferences(table, refs, b.opts.TopK)
		merged = true
		logger.Info("Direct references merged", zap.Int("sources", len(refs)))
	} else {
		logger.Warn("No cross references given, using semantic similarities only")
	}

	total, avg := Stats(table)
	return &artifacts.SimilarityDocument{
		Metadata: artifacts.SimilarityMetadata{
			Model:                  store.Metadata.Model,
			Dimension:              store.Metadata.Dimension,
			SimilarityThreshold:    b.opts.Threshold,
			TopKResults:            b.opts.TopK,
			ProcessingDate:         run.StartedAt(),
			BuildID:                run.ID(),
			TotalVerses:            store.Len(),
			TotalConnections:       total,
			AvgConnectionsPerVerse: avg,
			ReferencesMerged:       merged,
		},
		Similarities: table,
	}, nil
}

func (b *Builder) write(ctx context.Context, buildID string, doc *artifacts.SimilarityDocument) error {
	if b.outputDir != "" {
		path := filepath.Join(b.outputDir, artifacts.SimilarityFile)
		if err := artifacts.WriteJSON(path, doc); err != nil {
			return fmt.Errorf("failed to write similarity matrix: %w", err)
		}
		logger.Info("Similarity matrix written",
			zap.String("path", path),
			zap.Int("connections", doc.Metadata.TotalConnections),
			zap.Float64("avg_per_verse", doc.Metadata.AvgConnectionsPerVerse),
		)
	}
	if b.store != nil {
		if err := b.store.SaveSimilarities(ctx, buildID, doc); err != nil {
			return fmt.Errorf("failed to persist similarities: %w", err)
		}
	}
	return nil
}
