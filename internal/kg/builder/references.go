package builder

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/verse"
	"github.com/scripture-rag/backend/pkg/logger"
)

type DeclaredReference struct {
	Verse  string `json:"verse"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ReferenceEntry struct {
	Verse      string
	References []DeclaredReference
}

// ReferenceTable is the curated, ordered list of declared references.
type ReferenceTable []ReferenceEntry

// ParseReferenceTable reads a `{"<verse>": [{verse, type, reason}]}` object,
// keeping source verses in document order.
func ParseReferenceTable(data []byte) (ReferenceTable, error) {
	var table ReferenceTable
	err := artifacts.DecodeOrderedObject(data, func(key string, value json.RawMessage) error {
		var refs []DeclaredReference
		if err := json.Unmarshal(value, &refs); err != nil {
			return fmt.Errorf("references of %q: %w", key, err)
		}
		table = append(table, ReferenceEntry{Verse: key, References: refs})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reference table: %v", artifacts.ErrMalformed, err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func LoadReferenceTable(path string) (ReferenceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference table: %w", err)
	}
	return ParseReferenceTable(data)
}

func (t ReferenceTable) Validate() error {
	for _, entry := range t {
		if !verse.Valid(entry.Verse) {
			return fmt.Errorf("%w: reference table: bad verse id %q", artifacts.ErrMalformed, entry.Verse)
		}
		for _, ref := range entry.References {
			if !verse.Valid(ref.Verse) {
				return fmt.Errorf("%w: reference table[%s]: bad target %q", artifacts.ErrMalformed, entry.Verse, ref.Verse)
			}
		}
	}
	return nil
}

// BuildReferenceGraph expands the declared table into a symmetric graph.
// Declared edges are placed first, then every declared edge is mirrored onto
// its target. Between any pair the strongest declaration wins in both
// directions, and no target appears twice in a list.
func BuildReferenceGraph(table ReferenceTable) artifacts.ReferenceGraph {
	graph := make(artifacts.ReferenceGraph)

	touch := func(id string) {
		if _, ok := graph[id]; !ok {
			graph[id] = []artifacts.ReferenceEdge{}
		}
	}

	for _, entry := range table {
		touch(entry.Verse)
		for _, ref := range entry.References {
			touch(ref.Verse)
			if ref.Verse == entry.Verse {
				logger.Warn("Self reference in reference table",
					zap.String("verse_id", entry.Verse),
					zap.String("type", ref.Type),
				)
			}
			upsertEdge(graph, entry.Verse, artifacts.ReferenceEdge{
				Verse:  ref.Verse,
				Type:   ref.Type,
				Weight: Weight(ref.Type),
				Reason: ref.Reason,
			})
		}
	}

	for _, entry := range table {
		for _, ref := range entry.References {
			if ref.Verse == entry.Verse {
				continue
			}
			upsertEdge(graph, ref.Verse, artifacts.ReferenceEdge{
				Verse:  entry.Verse,
				Type:   ref.Type,
				Weight: Weight(ref.Type),
				Reason: ref.Reason,
			})
		}
	}

	return graph
}

// upsertEdge appends edge to source's list, or replaces an existing edge to
// the same target when the new one is strictly stronger.
func upsertEdge(graph artifacts.ReferenceGraph, source string, edge artifacts.ReferenceEdge) {
	edges := graph[source]
	for i := range edges {
		if edges[i].Verse == edge.Verse {
			if edge.Weight > edges[i].Weight {
				edges[i] = edge
			}
			return
		}
	}
	graph[source] = append(edges, edge)
}

// CountEdges returns the total number of edges held by a graph.
func CountEdges(graph artifacts.ReferenceGraph) int {
	n := 0
	for _, edges := range graph {
		n += len(edges)
	}
	return n
}
