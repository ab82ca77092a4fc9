package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

// NewClient opens the database with foreign keys and WAL enabled on every
// pooled connection.
func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		edges_built INTEGER DEFAULT 0,
		error TEXT,
		metadata TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_builds_kind ON build_runs(kind, status, started_at);

	CREATE TABLE IF NOT EXISTS reference_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		type TEXT NOT NULL,
		weight REAL NOT NULL,
		reason TEXT,
		position INTEGER NOT NULL,
		FOREIGN KEY (build_id) REFERENCES build_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_refs_build_source ON reference_edges(build_id, source);

	CREATE TABLE IF NOT EXISTS thematic_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		verse TEXT NOT NULL,
		theme TEXT NOT NULL,
		related TEXT NOT NULL,
		position INTEGER NOT NULL,
		FOREIGN KEY (build_id) REFERENCES build_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_themes_build_verse ON thematic_links(build_id, verse);

	CREATE TABLE IF NOT EXISTS reference_stats (
		build_id TEXT NOT NULL,
		verse TEXT NOT NULL,
		total_references INTEGER NOT NULL,
		direct_references INTEGER NOT NULL,
		thematic_references INTEGER NOT NULL,
		strongest_connection REAL NOT NULL,
		primary_themes TEXT,
		PRIMARY KEY (build_id, verse),
		FOREIGN KEY (build_id) REFERENCES build_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS similarity_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		score REAL NOT NULL,
		type TEXT NOT NULL,
		reason TEXT,
		position INTEGER NOT NULL,
		FOREIGN KEY (build_id) REFERENCES build_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sims_build_source ON similarity_edges(build_id, source);

	CREATE TABLE IF NOT EXISTS related_queries (
		id TEXT PRIMARY KEY,
		verse_id TEXT NOT NULL,
		max_results INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		cached INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_related_verse ON related_queries(verse_id);
	CREATE INDEX IF NOT EXISTS idx_related_created ON related_queries(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// RecordBuild inserts a run or updates its status, leaving any stored
// artifact metadata untouched.
func (c *Client) RecordBuild(ctx context.Context, run *models.BuildRun) error {
	query := `
		INSERT INTO build_runs (id, kind, status, edges_built, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			edges_built = excluded.edges_built,
			error = excluded.error,
			finished_at = excluded.finished_at
	`

	var finishedAt sql.NullInt64
	if run.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: run.FinishedAt.UnixNano(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Status,
		run.EdgesBuilt,
		run.Error,
		run.StartedAt.UnixNano(),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record build run: %w", err)
	}

	logger.Debug("Build run recorded", zap.String("build_id", run.ID), zap.String("status", run.Status))
	return nil
}

func (c *Client) GetBuild(ctx context.Context, id string) (*models.BuildRun, error) {
	query := `SELECT id, kind, status, edges_built, error, started_at, finished_at FROM build_runs WHERE id = ?`

	var run models.BuildRun
	var errMsg sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Kind,
		&run.Status,
		&run.EdgesBuilt,
		&errMsg,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get build run: %w", err)
	}

	run.Error = errMsg.String
	run.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

// latestBuild returns the id and stored metadata of the newest successful
// build of kind, or sql.ErrNoRows.
func (c *Client) latestBuild(ctx context.Context, kind string) (string, string, error) {
	query := `
		SELECT id, COALESCE(metadata, '')
		FROM build_runs
		WHERE kind = ? AND status = ?
		ORDER BY started_at DESC
		LIMIT 1
	`
	var id, metadata string
	err := c.db.QueryRowContext(ctx, query, kind, models.BuildStatusSucceeded).Scan(&id, &metadata)
	return id, metadata, err
}

func (c *Client) InsertRelatedQuery(ctx context.Context, q *models.RelatedQuery) error {
	query := `
		INSERT INTO related_queries (id, verse_id, max_results, result_count, cached, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	cached := 0
	if q.Cached {
		cached = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		q.ID,
		q.VerseID,
		q.Limit,
		q.ResultCount,
		cached,
		q.LatencyMS,
		q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert related query: %w", err)
	}

	logger.Debug("Related query recorded",
		zap.String("query_id", q.ID),
		zap.String("verse_id", q.VerseID),
		zap.Int("results", q.ResultCount),
	)
	return nil
}

func (c *Client) RecentRelatedQueries(ctx context.Context, limit int) ([]models.RelatedQuery, error) {
	query := `
		SELECT id, verse_id, max_results, result_count, cached, latency_ms, created_at
		FROM related_queries
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query related queries: %w", err)
	}
	defer rows.Close()

	var out []models.RelatedQuery
	for rows.Next() {
		var q models.RelatedQuery
		var cached int
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.VerseID, &q.Limit, &q.ResultCount, &cached, &q.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan related query: %w", err)
		}
		q.Cached = cached == 1
		q.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, q)
	}
	return out, rows.Err()
}
