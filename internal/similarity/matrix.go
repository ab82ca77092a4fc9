package similarity

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/pkg/logger"
)

type Options struct {
	Threshold     float64
	TopK          int
	ProgressEvery int
}

func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, TopK: DefaultTopK, ProgressEvery: 10}
}

// BuildTable computes the top-K neighbourhood of every verse in the store.
// Each unordered pair is scored once. Ties keep store order.
func BuildTable(ctx context.Context, store *artifacts.EmbeddingStore, opts Options) (artifacts.SimilarityTable, error) {
	if err := artifacts.ValidateEmbeddings(store); err != nil {
		return nil, err
	}

	n := len(store.IDs)
	lists := make([][]artifacts.SimilarityEdge, n)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a := store.Vectors[store.IDs[i]]
		for j := i + 1; j < n; j++ {
			score := Cosine(a, store.Vectors[store.IDs[j]])
			if score <= opts.Threshold {
				continue
			}
			lists[i] = insertTopK(lists[i], semanticEdge(store.IDs[j], score), opts.TopK)
			lists[j] = insertTopK(lists[j], semanticEdge(store.IDs[i], score), opts.TopK)
		}

		if opts.ProgressEvery > 0 && (i+1)%opts.ProgressEvery == 0 {
			logger.Info("Similarity progress", zap.Int("processed", i+1), zap.Int("total", n))
		}
	}

	table := make(artifacts.SimilarityTable, n)
	for i, id := range store.IDs {
		if lists[i] == nil {
			lists[i] = []artifacts.SimilarityEdge{}
		}
		table[id] = lists[i]
	}
	return table, nil
}

// MergeReferences blends direct references into the table. A reference whose
// weight beats the existing score replaces that entry, missing references are
// appended, and every touched list is re-ranked and cut to topK.
func MergeReferences(table artifacts.SimilarityTable, refs artifacts.ReferenceGraph, topK int) {
	for source, edges := range refs {
		list := table[source]
		for _, ref := range edges {
			if ref.Verse == source {
				continue
			}
			idx := -1
			for i := range list {
				if list[i].Verse == ref.Verse {
					idx = i
					break
				}
			}
			entry := artifacts.SimilarityEdge{Verse: ref.Verse, Score: ref.Weight, Type: ref.Type, Reason: ref.Reason}
			switch {
			case idx < 0:
				list = append(list, entry)
			case ref.Weight > list[idx].Score:
				list[idx] = entry
			}
		}

		sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
		if topK > 0 && len(list) > topK {
			list = list[:topK]
		}
		if list == nil {
			list = []artifacts.SimilarityEdge{}
		}
		table[source] = list
	}
}

// Stats returns total connections and the per-verse average rounded to two
// decimals.
func Stats(table artifacts.SimilarityTable) (int, float64) {
	total := 0
	for _, edges := range table {
		total += len(edges)
	}
	if len(table) == 0 {
		return 0, 0
	}
	avg := float64(total) / float64(len(table))
	return total, math.Round(avg*100) / 100
}
