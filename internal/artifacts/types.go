// Package artifacts defines the persisted JSON tables shared by the offline
// builders and the retrieval engine, and the loaders that fetch them.
package artifacts

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("artifact not found")
	ErrMalformed = errors.New("artifact malformed")
)

const (
	CrossReferencesFile = "cross_references.json"
	SimilarityFile      = "similarity_matrix.json"
	EmbeddingsFile      = "embeddings.json"
	VerseTableFile      = "bible_asv.json"
)

type ReferenceEdge struct {
	Verse  string  `json:"verse"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
	Reason string  `json:"reason"`
}

// ReferenceGraph maps a verse to its ordered outgoing reference edges.
type ReferenceGraph map[string][]ReferenceEdge

// ThematicGraph maps verse -> theme -> other verses of that theme.
type ThematicGraph map[string]map[string][]string

type ReferenceStats struct {
	TotalReferences     int      `json:"total_references"`
	DirectReferences    int      `json:"direct_references"`
	ThematicReferences  int      `json:"thematic_references"`
	StrongestConnection float64  `json:"strongest_connection"`
	PrimaryThemes       []string `json:"primary_themes"`
}

type CrossReferenceMetadata struct {
	Source                   string   `json:"source,omitempty"`
	Coverage                 string   `json:"coverage,omitempty"`
	ReferenceTypes           []string `json:"reference_types,omitempty"`
	ThematicCategories       []string `json:"thematic_categories,omitempty"`
	ProcessingDate           string   `json:"processing_date,omitempty"`
	BuildID                  string   `json:"build_id,omitempty"`
	TotalVersesWithRefs      int      `json:"total_verses_with_refs"`
	TotalThematicConnections int      `json:"total_thematic_connections"`
}

// CrossReferenceDocument carries both the direct references table and the
// thematic connections table.
type CrossReferenceDocument struct {
	Metadata            CrossReferenceMetadata    `json:"metadata"`
	DirectReferences    ReferenceGraph            `json:"direct_references"`
	ThematicConnections ThematicGraph             `json:"thematic_connections"`
	ReferenceMetadata   map[string]ReferenceStats `json:"reference_metadata,omitempty"`
}

type SimilarityEdge struct {
	Verse  string  `json:"verse"`
	Score  float64 `json:"score"`
	Type   string  `json:"type"`
	Reason string  `json:"reason"`
}

// SimilarityTable maps a verse to its top-K neighbours, sorted by score.
type SimilarityTable map[string][]SimilarityEdge

type SimilarityMetadata struct {
	Model                  string  `json:"model,omitempty"`
	Dimension              int     `json:"dimension,omitempty"`
	SimilarityThreshold    float64 `json:"similarity_threshold"`
	TopKResults            int     `json:"top_k_results"`
	ProcessingDate         string  `json:"processing_date,omitempty"`
	BuildID                string  `json:"build_id,omitempty"`
	TotalVerses            int     `json:"total_verses"`
	TotalConnections       int     `json:"total_connections"`
	AvgConnectionsPerVerse float64 `json:"avg_connections_per_verse"`
	ReferencesMerged       bool    `json:"references_merged"`
}

type SimilarityDocument struct {
	Metadata     SimilarityMetadata `json:"metadata"`
	Similarities SimilarityTable    `json:"similarities"`
}

type EmbeddingMetadata struct {
	Model          string `json:"model"`
	Dimension      int    `json:"dimension"`
	TotalVerses    int    `json:"total_verses,omitempty"`
	BibleVersion   string `json:"bible_version,omitempty"`
	ProcessingDate string `json:"processing_date,omitempty"`
	Normalization  string `json:"normalization,omitempty"`
}

// EmbeddingStore keeps vectors in the order they appear in the source
// document so that similarity builds are reproducible.
type EmbeddingStore struct {
	Metadata EmbeddingMetadata
	IDs      []string
	Vectors  map[string][]float64
}

func NewEmbeddingStore(meta EmbeddingMetadata) *EmbeddingStore {
	return &EmbeddingStore{Metadata: meta, Vectors: make(map[string][]float64)}
}

// Add appends a vector, replacing the previous one for a duplicate id while
// keeping its original position.
func (s *EmbeddingStore) Add(id string, vec []float64) {
	if s.Vectors == nil {
		s.Vectors = make(map[string][]float64)
	}
	if _, exists := s.Vectors[id]; !exists {
		s.IDs = append(s.IDs, id)
	}
	s.Vectors[id] = vec
	if s.Metadata.Dimension == 0 {
		s.Metadata.Dimension = len(vec)
	}
	s.Metadata.TotalVerses = len(s.IDs)
}

func (s *EmbeddingStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.IDs)
}

// Loader is the data-loading collaborator the engine reads its tables from.
// Implementations return an error wrapping ErrNotFound when a table does not
// exist and ErrMalformed when it exists but has the wrong shape.
type Loader interface {
	LoadCrossReferences(ctx context.Context) (*CrossReferenceDocument, error)
	LoadSimilarities(ctx context.Context) (*SimilarityDocument, error)
	LoadEmbeddings(ctx context.Context) (*EmbeddingStore, error)
}
