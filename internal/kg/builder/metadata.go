package builder

import (
	"sort"

	"github.com/scripture-rag/backend/internal/artifacts"
)

// ReferenceMetadata summarises, for every verse present in either graph, how
// connected it is.
func ReferenceMetadata(direct artifacts.ReferenceGraph, thematic artifacts.ThematicGraph) map[string]artifacts.ReferenceStats {
	stats := make(map[string]artifacts.ReferenceStats, len(direct)+len(thematic))

	verses := make(map[string]struct{}, len(direct)+len(thematic))
	for id := range direct {
		verses[id] = struct{}{}
	}
	for id := range thematic {
		verses[id] = struct{}{}
	}

	for id := range verses {
		edges := direct[id]
		strongest := 0.0
		for _, e := range edges {
			if e.Weight > strongest {
				strongest = e.Weight
			}
		}

		themes := make([]string, 0, len(thematic[id]))
		thematicCount := 0
		for theme, related := range thematic[id] {
			themes = append(themes, theme)
			thematicCount += len(related)
		}
		sort.Strings(themes)

		stats[id] = artifacts.ReferenceStats{
			TotalReferences:     len(edges) + thematicCount,
			DirectReferences:    len(edges),
			ThematicReferences:  thematicCount,
			StrongestConnection: strongest,
			PrimaryThemes:       themes,
		}
	}

	return stats
}
