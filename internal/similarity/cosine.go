// Package similarity computes cosine neighbourhoods over an embedding store.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"github.com/scripture-rag/backend/internal/artifacts"
)

const (
	DefaultThreshold = 0.3
	DefaultTopK      = 5

	ReasonTextual = "textual_similarity"
	typeSemantic  = "semantic"
)

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// norm. Vectors of different dimension are a programming error; stores are
// validated on load so this never happens for loaded data.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("similarity: dimension mismatch %d != %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns v scaled to unit length. A zero vector is returned as a
// zero copy.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// insertTopK places e after every entry scoring at least as much, keeping at
// most k entries. Feeding candidates in store order therefore yields the same
// list as a stable descending sort followed by truncation. k <= 0 keeps all.
func insertTopK(list []artifacts.SimilarityEdge, e artifacts.SimilarityEdge, k int) []artifacts.SimilarityEdge {
	pos := sort.Search(len(list), func(i int) bool { return list[i].Score < e.Score })
	if k > 0 && pos >= k {
		return list
	}
	list = append(list, artifacts.SimilarityEdge{})
	copy(list[pos+1:], list[pos:])
	list[pos] = e
	if k > 0 && len(list) > k {
		list = list[:k]
	}
	return list
}

func semanticEdge(target string, score float64) artifacts.SimilarityEdge {
	return artifacts.SimilarityEdge{Verse: target, Score: score, Type: typeSemantic, Reason: ReasonTextual}
}

// Neighbors scans the store for the verses most similar to id, scoring
// strictly above threshold, best first. It returns nil when id has no vector.
func Neighbors(store *artifacts.EmbeddingStore, id string, threshold float64, limit int) []artifacts.SimilarityEdge {
	if store == nil {
		return nil
	}
	query, ok := store.Vectors[id]
	if !ok {
		return nil
	}

	var out []artifacts.SimilarityEdge
	for _, candidate := range store.IDs {
		if candidate == id {
			continue
		}
		score := Cosine(query, store.Vectors[candidate])
		if score > threshold {
			out = insertTopK(out, semanticEdge(candidate, score), limit)
		}
	}
	return out
}
