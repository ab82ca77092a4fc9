package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/verse"
	"github.com/scripture-rag/backend/pkg/circuitbreaker"
	"github.com/scripture-rag/backend/pkg/logger"
	"github.com/scripture-rag/backend/pkg/retry"
)

const exportBatchSize = 500

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// ExportStats counts what one export wrote.
type ExportStats struct {
	Verses     int
	References int
	Themes     int
	Members    int
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		FailureThreshold: 5,
		OpenTimeout:      20 * time.Second,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) write(ctx context.Context, query string, params map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeWrite,
			})
			defer session.Close(ctx)

			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				result, err := tx.Run(ctx, query, params)
				if err != nil {
					return nil, err
				}
				return result.Consume(ctx)
			})
			return err
		})
	})
}

const (
	constraintQuery = `CREATE CONSTRAINT verse_id IF NOT EXISTS FOR (v:Verse) REQUIRE v.id IS UNIQUE`

	themeConstraintQuery = `CREATE CONSTRAINT theme_name IF NOT EXISTS FOR (t:Theme) REQUIRE t.name IS UNIQUE`

	versesQuery = `
		UNWIND $rows AS row
		MERGE (v:Verse {id: row.id})
		SET v.book = row.book,
		    v.chapter = row.chapter,
		    v.verse = row.verse,
		    v.reference = row.reference
	`

	referencesQuery = `
		UNWIND $rows AS row
		MATCH (s:Verse {id: row.source})
		MATCH (t:Verse {id: row.target})
		MERGE (s)-[r:REFERENCES]->(t)
		SET r.type = row.type,
		    r.weight = row.weight,
		    r.reason = row.reason,
		    r.build_id = $build_id
	`

	membersQuery = `
		UNWIND $rows AS row
		MERGE (t:Theme {name: row.theme})
		WITH t, row
		MATCH (v:Verse {id: row.verse})
		MERGE (v)-[:IN_THEME]->(t)
	`
)

// ExportGraph writes the cross reference document as a property graph.
// Nodes and relationships are merged so repeated exports are idempotent.
func (c *Client) ExportGraph(ctx context.Context, doc *artifacts.CrossReferenceDocument) (ExportStats, error) {
	var stats ExportStats

	for _, q := range []string{constraintQuery, themeConstraintQuery} {
		if err := c.write(ctx, q, nil); err != nil {
			return stats, fmt.Errorf("failed to create constraint: %w", err)
		}
	}

	verses := verseRows(doc)
	if err := c.writeBatches(ctx, versesQuery, verses, nil); err != nil {
		return stats, fmt.Errorf("failed to write verses: %w", err)
	}
	stats.Verses = len(verses)

	refs := referenceRows(doc.DirectReferences)
	if err := c.writeBatches(ctx, referencesQuery, refs, map[string]interface{}{"build_id": doc.Metadata.BuildID}); err != nil {
		return stats, fmt.Errorf("failed to write references: %w", err)
	}
	stats.References = len(refs)

	members, themes := memberRows(doc.ThematicConnections)
	if err := c.writeBatches(ctx, membersQuery, members, nil); err != nil {
		return stats, fmt.Errorf("failed to write theme membership: %w", err)
	}
	stats.Members = len(members)
	stats.Themes = themes

	logger.Info("Graph exported",
		zap.Int("verses", stats.Verses),
		zap.Int("references", stats.References),
		zap.Int("themes", stats.Themes),
		zap.Int("members", stats.Members),
	)
	return stats, nil
}

func (c *Client) writeBatches(ctx context.Context, query string, rows []map[string]interface{}, extra map[string]interface{}) error {
	for start := 0; start < len(rows); start += exportBatchSize {
		end := start + exportBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		params := map[string]interface{}{"rows": rows[start:end]}
		for k, v := range extra {
			params[k] = v
		}
		if err := c.write(ctx, query, params); err != nil {
			return err
		}
	}
	return nil
}

// Neighbors reads the outgoing references of a verse, strongest first.
func (c *Client) Neighbors(ctx context.Context, verseID string) ([]artifacts.ReferenceEdge, error) {
	if _, err := verse.Parse(verseID); err != nil {
		return nil, err
	}

	var edges []artifacts.ReferenceEdge

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeRead,
			})
			defer session.Close(ctx)

			query := `
				MATCH (:Verse {id: $id})-[r:REFERENCES]->(t:Verse)
				RETURN t.id AS target, r.type AS type, r.weight AS weight, r.reason AS reason
				ORDER BY r.weight DESC, t.id
			`
			result, err := session.Run(ctx, query, map[string]interface{}{"id": verseID})
			if err != nil {
				return fmt.Errorf("failed to query neighbors: %w", err)
			}

			edges = edges[:0]
			for result.Next(ctx) {
				record := result.Record()
				target, _ := record.Get("target")
				refType, _ := record.Get("type")
				weight, _ := record.Get("weight")
				reason, _ := record.Get("reason")

				edge := artifacts.ReferenceEdge{}
				edge.Verse, _ = target.(string)
				edge.Type, _ = refType.(string)
				edge.Weight, _ = weight.(float64)
				edge.Reason, _ = reason.(string)
				edges = append(edges, edge)
			}
			if err := result.Err(); err != nil {
				return fmt.Errorf("error iterating results: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("KG neighbors loaded", zap.String("verse_id", verseID), zap.Int("count", len(edges)))
	return edges, nil
}

// verseRows lists every verse mentioned anywhere in doc in canonical order:
// book key, then numeric chapter and verse. Unparseable ids sort last.
func verseRows(doc *artifacts.CrossReferenceDocument) []map[string]interface{} {
	seen := make(map[string]struct{})
	add := func(id string) { seen[id] = struct{}{} }

	for src, edges := range doc.DirectReferences {
		add(src)
		for _, e := range edges {
			add(e.Verse)
		}
	}
	for src, themes := range doc.ThematicConnections {
		add(src)
		for _, members := range themes {
			for _, m := range members {
				add(m)
			}
		}
	}

	var parsed []verse.ID
	var invalid []string
	for id := range seen {
		if v, err := verse.Parse(id); err == nil {
			parsed = append(parsed, v)
		} else {
			invalid = append(invalid, id)
		}
	}
	sort.Slice(parsed, func(i, j int) bool { return verse.Less(parsed[i], parsed[j]) })
	sort.Strings(invalid)

	rows := make([]map[string]interface{}, 0, len(seen))
	for _, v := range parsed {
		id := verse.Format(v.Book, v.Chapter, v.Verse)
		rows = append(rows, map[string]interface{}{
			"id":        id,
			"reference": verse.Reference(id),
			"book":      v.Book,
			"chapter":   int64(v.Chapter),
			"verse":     int64(v.Verse),
		})
	}
	for _, id := range invalid {
		rows = append(rows, map[string]interface{}{"id": id, "reference": verse.Reference(id)})
	}
	return rows
}

func referenceRows(graph artifacts.ReferenceGraph) []map[string]interface{} {
	sources := make([]string, 0, len(graph))
	for src := range graph {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var rows []map[string]interface{}
	for _, src := range sources {
		for _, e := range graph[src] {
			if e.Verse == src {
				continue
			}
			rows = append(rows, map[string]interface{}{
				"source": src,
				"target": e.Verse,
				"type":   e.Type,
				"weight": e.Weight,
				"reason": e.Reason,
			})
		}
	}
	return rows
}

// memberRows flattens the thematic graph into distinct (verse, theme) pairs.
func memberRows(graph artifacts.ThematicGraph) ([]map[string]interface{}, int) {
	type pair struct{ verse, theme string }
	seen := make(map[pair]struct{})
	themes := make(map[string]struct{})

	for src, byTheme := range graph {
		for theme, members := range byTheme {
			themes[theme] = struct{}{}
			seen[pair{src, theme}] = struct{}{}
			for _, m := range members {
				seen[pair{m, theme}] = struct{}{}
			}
		}
	}

	pairs := make([]pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].theme != pairs[j].theme {
			return pairs[i].theme < pairs[j].theme
		}
		return pairs[i].verse < pairs[j].verse
	})

	rows := make([]map[string]interface{}, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, map[string]interface{}{"verse": p.verse, "theme": p.theme})
	}
	return rows, len(themes)
}
