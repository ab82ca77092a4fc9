// Package builder expands the curated reference table and thematic clusters
// into the symmetric cross references document read by the retrieval engine.
package builder

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
	SaveCrossReferences(ctx context.Context, buildID string, doc *artifacts.CrossReferenceDocument) error
}

// BuildInfo identifies the build that produced a document.
type BuildInfo struct {
	ID             string
	ProcessingDate string
}

type Builder struct {
	store     Store
	outputDir string
}

// NewBuilder returns a builder writing to outputDir and, when store is not
// nil, persisting every table to it.
func NewBuilder(store Store, outputDir string) *Builder {
	return &Builder{
		store:     store,
		outputDir: outputDir,
	}
}

// BuildDocument is the pure part of a build: the same inputs and info always
// produce the same document.
func BuildDocument(table ReferenceTable, clusters []ThematicCluster, info BuildInfo) *artifacts.CrossReferenceDocument {
	direct := BuildReferenceGraph(table)
	thematic := ExpandThematic(clusters)

	categories := make([]string, 0, len(clusters))
	for _, c := range clusters {
		if !contains(categories, c.Theme) {
			categories = append(categories, c.Theme)
		}
	}

	return &artifacts.CrossReferenceDocument{
		Metadata: artifacts.CrossReferenceMetadata{
			Source:                   "Traditional study Bible references",
			Coverage:                 "New Testament",
			ReferenceTypes:           ReferenceTypes,
			ThematicCategories:       categories,
			ProcessingDate:           info.ProcessingDate,
			BuildID:                  info.ID,
			TotalVersesWithRefs:      len(direct),
			TotalThematicConnections: len(thematic),
		},
		DirectReferences:    direct,
		ThematicConnections: thematic,
		ReferenceMetadata:   ReferenceMetadata(direct, thematic),
	}
}

// Build runs a full cross references build and writes the result.
func (b *Builder) Build(ctx context.Context, table ReferenceTable, clusters []ThematicCluster) (*artifacts.CrossReferenceDocument, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	run := buildrun.Start(ctx, b.store, models.BuildKindCrossReferences)

	doc := BuildDocument(table, clusters, BuildInfo{ID: run.ID(), ProcessingDate: run.StartedAt()})
	edges := CountEdges(doc.DirectReferences) + CountLinks(doc.ThematicConnections)

	logger.Info("Cross references expanded",
		zap.Int("declared_sources", len(table)),
		zap.Int("verses_with_refs", len(doc.DirectReferences)),
		zap.Int("verses_with_themes", len(doc.ThematicConnections)),
		zap.Int("edges", edges),
	)

	err := b.write(ctx, run.ID(), doc)
	run.Finish(ctx, edges, err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) write(ctx context.Context, buildID string, doc *artifacts.CrossReferenceDocument) error {
	if b.outputDir != "" {
		path := filepath.Join(b.outputDir, artifacts.CrossReferencesFile)
		if err := artifacts.WriteJSON(path, doc); err != nil {
			return fmt.Errorf("failed to write cross references: %w", err)
		}
		logger.Info("Cross references written", zap.String("path", path))
	}

	if b.store != nil {
		if err := b.store.SaveCrossReferences(ctx, buildID, doc); err != nil {
			return fmt.Errorf("failed to persist cross references: %w", err)
		}
	}
	return nil
}
