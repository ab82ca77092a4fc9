package builder

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/verse"
)

type ThematicCluster struct {
	Theme  string
	Verses []string
}

// ParseThematicClusters reads a `{"<theme>": ["<verse>", ...]}` object in
// document order.
func ParseThematicClusters(data []byte) ([]ThematicCluster, error) {
	var clusters []ThematicCluster
	err := artifacts.DecodeOrderedObject(data, func(key string, value json.RawMessage) error {
		var verses []string
		if err := json.Unmarshal(value, &verses); err != nil {
			return fmt.Errorf("theme %q: %w", key, err)
		}
		for _, v := range verses {
			if !verse.Valid(v) {
				return fmt.Errorf("theme %q: bad verse id %q", key, v)
			}
		}
		clusters = append(clusters, ThematicCluster{Theme: key, Verses: verses})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: thematic table: %v", artifacts.ErrMalformed, err)
	}
	return clusters, nil
}

func LoadThematicClusters(path string) ([]ThematicCluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thematic table: %w", err)
	}
	return ParseThematicClusters(data)
}

// ExpandThematic relates every member of a cluster to every other member
// under the cluster's theme. Repeated members count once and clusters with
// fewer than two distinct members contribute nothing.
func ExpandThematic(clusters []ThematicCluster) artifacts.ThematicGraph {
	graph := make(artifacts.ThematicGraph)

	for _, cluster := range clusters {
		members := distinct(cluster.Verses)
		if len(members) < 2 {
			continue
		}

		for i, source := range members {
			themes, ok := graph[source]
			if !ok {
				themes = make(map[string][]string)
				graph[source] = themes
			}
			related := themes[cluster.Theme]
			for j, target := range members {
				if i == j || contains(related, target) {
					continue
				}
				related = append(related, target)
			}
			themes[cluster.Theme] = related
		}
	}

	return graph
}

// CountLinks returns the total number of verse-to-verse thematic links.
func CountLinks(graph artifacts.ThematicGraph) int {
	n := 0
	for _, themes := range graph {
		for _, related := range themes {
			n += len(related)
		}
	}
	return n
}

func distinct(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
