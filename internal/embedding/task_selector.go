package embedding

import "strings"

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// Purpose says whether text is being stored or used to search.
type Purpose int

const (
	PurposeDocument Purpose = iota // Observations and beliefs written to a store
	PurposeQuery                   // Belief queries validated against the stores
)

var knownTaskTypes = map[string]bool{
	"SEMANTIC_SIMILARITY":  true,
	"CLASSIFICATION":       true,
	"CLUSTERING":           true,
	"RETRIEVAL_DOCUMENT":   true,
	"RETRIEVAL_QUERY":      true,
	"CODE_RETRIEVAL_QUERY": true,
	"QUESTION_ANSWERING":   true,
	"FACT_VERIFICATION":    true,
}

// SelectTaskType returns the GenAI task type for purpose. A recognised
// configured type wins for documents; queries always use RETRIEVAL_QUERY so
// they pair with RETRIEVAL_DOCUMENT vectors.
func SelectTaskType(purpose Purpose, configured string) string {
	if purpose == PurposeQuery {
		return "RETRIEVAL_QUERY"
	}

	configured = strings.ToUpper(strings.TrimSpace(configured))
	if knownTaskTypes[configured] && configured != "RETRIEVAL_QUERY" && configured != "CODE_RETRIEVAL_QUERY" {
		return configured
	}
	return "RETRIEVAL_DOCUMENT"
}
