package builder

import "strings"

const (
	TypeDirectQuote      = "direct_quote"
	TypeClearAllusion    = "clear_allusion"
	TypeParallelAccount  = "parallel_account"
	TypeThematicStrong   = "thematic_strong"
	TypeThematicModerate = "thematic_moderate"
	TypeWordStudy        = "word_study"
	TypeTopical          = "topical"

	// TypeSemantic and TypeThematic are produced at retrieval time and never
	// appear in a reference table.
	TypeSemantic = "semantic"
	TypeThematic = "thematic"
)

// DefaultWeight applies to reference types missing from the weight table.
const DefaultWeight = 0.5

var weights = map[string]float64{
	TypeDirectQuote:      1.0,
	TypeClearAllusion:    0.9,
	TypeParallelAccount:  0.95,
	TypeThematicStrong:   0.8,
	TypeThematicModerate: 0.6,
	TypeWordStudy:        0.5,
	TypeTopical:          0.4,
}

// ReferenceTypes lists the known reference types in table order.
var ReferenceTypes = []string{
	TypeDirectQuote,
	TypeClearAllusion,
	TypeParallelAccount,
	TypeThematicStrong,
	TypeThematicModerate,
	TypeWordStudy,
	TypeTopical,
}

func Weight(refType string) float64 {
	if w, ok := weights[refType]; ok {
		return w
	}
	return DefaultWeight
}

var labels = map[string]string{
	TypeDirectQuote:      "Direct Quote",
	TypeClearAllusion:    "Clear Allusion",
	TypeParallelAccount:  "Parallel Account",
	TypeThematicStrong:   "Strong Theme",
	TypeThematicModerate: "Related Theme",
	TypeSemantic:         "Textual Similarity",
	TypeThematic:         "Thematic Connection",
	TypeWordStudy:        "Word Study",
}

// Label returns the display label of a connection type. Unknown types have
// their first underscore replaced by a space.
func Label(refType string) string {
	if l, ok := labels[refType]; ok {
		return l
	}
	return strings.Replace(refType, "_", " ", 1)
}
