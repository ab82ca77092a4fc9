package models

import "time"

const (
	BuildKindCrossReferences = "cross_references"
	BuildKindSimilarity      = "similarity"
	BuildKindEmbeddings      = "embeddings"
	BuildKindVectorIndex     = "vector_index"
	BuildKindGraphExport     = "graph_export"
)

const (
	BuildStatusRunning   = "running"
	BuildStatusSucceeded = "succeeded"
	BuildStatusFailed    = "failed"
)

type BuildRun struct {
	ID         string
	Kind       string
	Status     string
	EdgesBuilt int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type ReferenceEdge struct {
	ID       int
	BuildID  string
	Source   string
	Target   string
	Type     string
	Weight   float64
	Reason   string
	Position int
}

type ThematicLink struct {
	ID       int
	BuildID  string
	Verse    string
	Theme    string
	Related  string
	Position int
}

type ReferenceStat struct {
	BuildID             string
	Verse               string
	TotalReferences     int
	DirectReferences    int
	ThematicReferences  int
	StrongestConnection float64
	PrimaryThemes       []string
}

type SimilarityEdge struct {
	ID       int
	BuildID  string
	Source   string
	Target   string
	Score    float64
	Type     string
	Reason   string
	Position int
}

type RelatedQuery struct {
	ID          string
	VerseID     string
	Limit       int
	ResultCount int
	Cached      bool
	LatencyMS   int
	CreatedAt   time.Time
}
