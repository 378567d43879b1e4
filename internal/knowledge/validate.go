package knowledge

import (
	"context"
	"fmt"

	"github.com/NicabarNimble/patina-sub001/internal/embedding"
	"github.com/NicabarNimble/patina-sub001/internal/logging"
	"github.com/NicabarNimble/patina-sub001/internal/reasoning"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// ValidateOptions bounds the evidence retrieved for a belief.
type ValidateOptions struct {
	MinScore float32 // minimum similarity for an observation to count
	Limit    int     // maximum number of observations considered
}

// DefaultValidateOptions returns MinScore 0.50 and Limit 10.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinScore: 0.50, Limit: 10}
}

// BeliefValidation is the JSON report of a belief query.
type BeliefValidation struct {
	Query        string               `json:"query"`
	Valid        bool                 `json:"valid"`
	Reason       string               `json:"reason"`
	Confidence   float32              `json:"confidence"`
	Metrics      ValidationMetrics    `json:"metrics"`
	Observations []ObservationSummary `json:"observations"`
}

// ValidationMetrics mirrors reasoning.ValidationResult.
type ValidationMetrics struct {
	WeightedScore       float32 `json:"weighted_score"`
	StrongEvidenceCount int     `json:"strong_evidence_count"`
	HasDiverseSources   bool    `json:"has_diverse_sources"`
	AvgReliability      float32 `json:"avg_reliability"`
	AvgSimilarity       float32 `json:"avg_similarity"`
}

// ObservationSummary is one piece of evidence in a report.
type ObservationSummary struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Content     string  `json:"content"`
	Similarity  float32 `json:"similarity"`
	Reliability float32 `json:"reliability"`
	SourceType  string  `json:"source_type"`
}

// ValidateBelief retrieves observations similar to query and asks the
// engine whether they support it.
func (s *Service) ValidateBelief(ctx context.Context, query string, opts ValidateOptions) (*BeliefValidation, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "ValidateBelief")
	defer timer.Stop()

	if opts.Limit <= 0 {
		opts.Limit = DefaultValidateOptions().Limit
	}

	n, err := s.observations.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}
	if n == 0 {
		return nil, patinaerr.New(patinaerr.CodeKnowledgeObservationsEmpty,
			"no observations in storage; add observations before validating beliefs")
	}

	vec, err := embedding.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	evidence, err := s.gatherEvidence(ctx, vec, opts)
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, patinaerr.New(patinaerr.CodeKnowledgeEvidenceNotFound,
			fmt.Sprintf("no observations match the query with similarity >= %.2f; try a lower minimum score", opts.MinScore),
			patinaerr.Field("min_score", opts.MinScore))
	}

	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	if err := s.engine.LoadObservations(evidence); err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	result, err := s.engine.ValidateBelief()
	if err != nil {
		return nil, fmt.Errorf("validate belief: %w", err)
	}
	confidence, err := s.engine.CalculateConfidence(len(evidence))
	if err != nil {
		return nil, fmt.Errorf("calculate confidence: %w", err)
	}

	report := &BeliefValidation{
		Query:      query,
		Valid:      result.Valid,
		Reason:     result.Reason,
		Confidence: confidence,
		Metrics: ValidationMetrics{
			WeightedScore:       result.WeightedScore,
			StrongEvidenceCount: result.StrongEvidenceCount,
			HasDiverseSources:   result.HasDiverseSources,
			AvgReliability:      result.AvgReliability,
			AvgSimilarity:       result.AvgSimilarity,
		},
		Observations: make([]ObservationSummary, len(evidence)),
	}
	for i, ev := range evidence {
		report.Observations[i] = ObservationSummary{
			ID:          ev.ID,
			Kind:        ev.Kind,
			Content:     ev.Content,
			Similarity:  ev.Similarity,
			Reliability: ev.Reliability,
			SourceType:  ev.SourceType,
		}
	}

	logging.Knowledge("Validated %q: %s (valid=%t, %d observations)", query, result.Reason, result.Valid, len(evidence))
	return report, nil
}

// gatherEvidence over-fetches twice the limit, keeps hits at or above
// MinScore in rank order and stops at the limit.
func (s *Service) gatherEvidence(ctx context.Context, vec []float32, opts ValidateOptions) ([]reasoning.ScoredEvidence, error) {
	hits, err := s.observations.SearchWithScores(ctx, vec, opts.Limit*2)
	if err != nil {
		return nil, fmt.Errorf("search observations: %w", err)
	}

	evidence := make([]reasoning.ScoredEvidence, 0, opts.Limit)
	for _, hit := range hits {
		// Written so that a NaN score never passes.
		if !(hit.Score >= opts.MinScore) {
			continue
		}
		o := hit.Entity
		evidence = append(evidence, reasoning.ScoredEvidence{
			ID:          o.ID,
			Kind:        o.Kind,
			Content:     o.Content,
			Similarity:  hit.Score,
			Reliability: o.Metadata.EffectiveReliability(),
			SourceType:  o.Metadata.EffectiveSourceType(),
		})
		if len(evidence) >= opts.Limit {
			break
		}
	}
	return evidence, nil
}
