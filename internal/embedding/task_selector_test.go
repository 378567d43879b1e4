package embedding

import "testing"

func TestSelectTaskType(t *testing.T) {
	if got := SelectTaskType(PurposeQuery, "SEMANTIC_SIMILARITY"); got != "RETRIEVAL_QUERY" {
		t.Fatalf("SelectTaskType(query)=%q, want RETRIEVAL_QUERY", got)
	}
	if got := SelectTaskType(PurposeDocument, ""); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(doc, empty)=%q, want RETRIEVAL_DOCUMENT", got)
	}
	if got := SelectTaskType(PurposeDocument, " fact_verification "); got != "FACT_VERIFICATION" {
		t.Fatalf("SelectTaskType(doc, fact)=%q, want FACT_VERIFICATION", got)
	}
	if got := SelectTaskType(PurposeDocument, "RETRIEVAL_QUERY"); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(doc, query type)=%q, want RETRIEVAL_DOCUMENT", got)
	}
	if got := SelectTaskType(PurposeDocument, "NONSENSE"); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(doc, unknown)=%q, want RETRIEVAL_DOCUMENT", got)
	}
}
