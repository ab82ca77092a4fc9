package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/logger"
)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SaveCrossReferences stores every table of the document under buildID. The
// build run must already be recorded.
func (c *Client) SaveCrossReferences(ctx context.Context, buildID string, doc *artifacts.CrossReferenceDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"reference_edges", "thematic_links", "reference_stats"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE build_id = ?", buildID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reference_edges (build_id, source, target, type, weight, reason, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare reference insert: %w", err)
	}
	defer edgeStmt.Close()

	edges := 0
	for _, source := range sortedKeys(doc.DirectReferences) {
		for i, e := range doc.DirectReferences[source] {
			if _, err := edgeStmt.ExecContext(ctx, buildID, source, e.Verse, e.Type, e.Weight, e.Reason, i); err != nil {
				return fmt.Errorf("failed to insert reference %s -> %s: %w", source, e.Verse, err)
			}
			edges++
		}
	}

	linkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO thematic_links (build_id, verse, theme, related, position)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare thematic insert: %w", err)
	}
	defer linkStmt.Close()

	links := 0
	for _, v := range sortedKeys(doc.ThematicConnections) {
		themes := doc.ThematicConnections[v]
		for _, theme := range sortedKeys(themes) {
			for i, related := range themes[theme] {
				if _, err := linkStmt.ExecContext(ctx, buildID, v, theme, related, i); err != nil {
					return fmt.Errorf("failed to insert thematic link %s -> %s: %w", v, related, err)
				}
				links++
			}
		}
	}

	statStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reference_stats (build_id, verse, total_references, direct_references,
			thematic_references, strongest_connection, primary_themes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stats insert: %w", err)
	}
	defer statStmt.Close()

	for _, v := range sortedKeys(doc.ReferenceMetadata) {
		s := doc.ReferenceMetadata[v]
		themes, _ := json.Marshal(s.PrimaryThemes)
		if _, err := statStmt.ExecContext(ctx, buildID, v, s.TotalReferences, s.DirectReferences,
			s.ThematicReferences, s.StrongestConnection, string(themes)); err != nil {
			return fmt.Errorf("failed to insert stats for %s: %w", v, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE build_runs SET metadata = ? WHERE id = ?", string(meta), buildID); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cross references: %w", err)
	}

	logger.Info("Cross references persisted",
		zap.String("build_id", buildID),
		zap.Int("edges", edges),
		zap.Int("thematic_links", links),
	)
	return nil
}

func (c *Client) SaveSimilarities(ctx context.Context, buildID string, doc *artifacts.SimilarityDocument) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM similarity_edges WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("failed to clear similarity_edges: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO similarity_edges (build_id, source, target, score, type, reason, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare similarity insert: %w", err)
	}
	defer stmt.Close()

	edges := 0
	for _, source := range sortedKeys(doc.Similarities) {
		for i, e := range doc.Similarities[source] {
			if _, err := stmt.ExecContext(ctx, buildID, source, e.Verse, e.Score, e.Type, e.Reason, i); err != nil {
				return fmt.Errorf("failed to insert similarity %s -> %s: %w", source, e.Verse, err)
			}
			edges++
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE build_runs SET metadata = ? WHERE id = ?", string(meta), buildID); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit similarities: %w", err)
	}

	logger.Info("Similarities persisted", zap.String("build_id", buildID), zap.Int("edges", edges))
	return nil
}

// LoadCrossReferences reads back the newest successful cross references
// build, making the client usable as an artifacts.Loader.
func (c *Client) LoadCrossReferences(ctx context.Context) (*artifacts.CrossReferenceDocument, error) {
	buildID, meta, err := c.latestBuild(ctx, models.BuildKindCrossReferences)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no cross references build in database", artifacts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cross references build: %w", err)
	}

	doc := &artifacts.CrossReferenceDocument{
		DirectReferences:    make(artifacts.ReferenceGraph),
		ThematicConnections: make(artifacts.ThematicGraph),
		ReferenceMetadata:   make(map[string]artifacts.ReferenceStats),
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("%w: build %s metadata: %v", artifacts.ErrMalformed, buildID, err)
		}
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT source, target, type, weight, COALESCE(reason, '')
		FROM reference_edges WHERE build_id = ?
		ORDER BY source, position
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var e artifacts.ReferenceEdge
		if err := rows.Scan(&source, &e.Verse, &e.Type, &e.Weight, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan reference edge: %w", err)
		}
		doc.DirectReferences[source] = append(doc.DirectReferences[source], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := c.db.QueryContext(ctx, `
		SELECT verse, theme, related
		FROM thematic_links WHERE build_id = ?
		ORDER BY verse, theme, position
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query thematic links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var v, theme, related string
		if err := linkRows.Scan(&v, &theme, &related); err != nil {
			return nil, fmt.Errorf("failed to scan thematic link: %w", err)
		}
		themes, ok := doc.ThematicConnections[v]
		if !ok {
			themes = make(map[string][]string)
			doc.ThematicConnections[v] = themes
		}
		themes[theme] = append(themes[theme], related)
	}
	if err := linkRows.Err(); err != nil {
		return nil, err
	}

	statRows, err := c.db.QueryContext(ctx, `
		SELECT verse, total_references, direct_references, thematic_references,
			strongest_connection, COALESCE(primary_themes, '[]')
		FROM reference_stats WHERE build_id = ?
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference stats: %w", err)
	}
	defer statRows.Close()
	for statRows.Next() {
		var v, themes string
		var s artifacts.ReferenceStats
		if err := statRows.Scan(&v, &s.TotalReferences, &s.DirectReferences, &s.ThematicReferences,
			&s.StrongestConnection, &themes); err != nil {
			return nil, fmt.Errorf("failed to scan reference stats: %w", err)
		}
		if err := json.Unmarshal([]byte(themes), &s.PrimaryThemes); err != nil {
			return nil, fmt.Errorf("%w: primary themes of %s: %v", artifacts.ErrMalformed, v, err)
		}
		doc.ReferenceMetadata[v] = s
	}
	if err := statRows.Err(); err != nil {
		return nil, err
	}

	if err := artifacts.ValidateCrossReferences(doc); err != nil {
		return nil, err
	}

	logger.Info("Cross references loaded from database",
		zap.String("build_id", buildID),
		zap.Int("verses", len(doc.DirectReferences)),
	)
	return doc, nil
}

func (c *Client) LoadSimilarities(ctx context.Context) (*artifacts.SimilarityDocument, error) {
	buildID, meta, err := c.latestBuild(ctx, models.BuildKindSimilarity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no similarity build in database", artifacts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find similarity build: %w", err)
	}

	doc := &artifacts.SimilarityDocument{Similarities: make(artifacts.SimilarityTable)}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("%w: build %s metadata: %v", artifacts.ErrMalformed, buildID, err)
		}
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT source, target, score, type, COALESCE(reason, '')
		FROM similarity_edges WHERE build_id = ?
		ORDER BY source, position
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var e artifacts.SimilarityEdge
		if err := rows.Scan(&source, &e.Verse, &e.Score, &e.Type, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan similarity edge: %w", err)
		}
		doc.Similarities[source] = append(doc.Similarities[source], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := artifacts.ValidateSimilarities(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadEmbeddings always reports ErrNotFound: vectors live in the embedding
// store file and the vector index, not in the database.
func (c *Client) LoadEmbeddings(ctx context.Context) (*artifacts.EmbeddingStore, error) {
	return nil, fmt.Errorf("%w: embeddings are not stored in the database", artifacts.ErrNotFound)
}
