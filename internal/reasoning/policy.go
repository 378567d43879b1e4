package reasoning

import (
	"errors"
	"fmt"
	"math"
)

// Policy is the scoring table the rules read through policy/2 facts.
// Fractional values are scaled to permille integers before evaluation.
type Policy struct {
	ConfidenceBase      float64
	ConfidenceEarlyStep float64 // per evidence item below ConfidenceLateStart
	ConfidenceLateStart int
	ConfidenceLateStep  float64 // per evidence item from ConfidenceLateStart on
	ConfidenceCap       float64

	NeutralReliability   float64 // weight = similarity * reliability / NeutralReliability
	StrongMinSimilarity  float64
	StrongMinReliability float64
	MinWeightedScore     float64
	MinStrongEvidence    int
	MinDistinctSources   int // separates strong_evidence from consistent_evidence
}

// DefaultPolicy returns the reference scoring table.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceBase:       0.50,
		ConfidenceEarlyStep:  0.15,
		ConfidenceLateStart:  3,
		ConfidenceLateStep:   0.10,
		ConfidenceCap:        0.85,
		NeutralReliability:   0.50,
		StrongMinSimilarity:  0.70,
		StrongMinReliability: 0.70,
		MinWeightedScore:     3.0,
		MinStrongEvidence:    2,
		MinDistinctSources:   2,
	}
}

// Validate reports the first inconsistent entry.
func (p Policy) Validate() error {
	fractions := []struct {
		key string
		v   float64
	}{
		{"confidence_base", p.ConfidenceBase},
		{"confidence_early_step", p.ConfidenceEarlyStep},
		{"confidence_late_step", p.ConfidenceLateStep},
		{"confidence_cap", p.ConfidenceCap},
		{"strong_min_similarity", p.StrongMinSimilarity},
		{"strong_min_reliability", p.StrongMinReliability},
	}
	for _, f := range fractions {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", f.key, f.v)
		}
	}
	if p.ConfidenceCap < p.ConfidenceBase {
		return fmt.Errorf("confidence_cap %v is below confidence_base %v", p.ConfidenceCap, p.ConfidenceBase)
	}
	if p.ConfidenceLateStart < 1 {
		return fmt.Errorf("confidence_late_start must be at least 1, got %d", p.ConfidenceLateStart)
	}
	if !(p.NeutralReliability > 0) || p.NeutralReliability > 1 {
		return fmt.Errorf("neutral_reliability must be in (0,1], got %v", p.NeutralReliability)
	}
	if math.IsNaN(p.MinWeightedScore) || p.MinWeightedScore < 0 {
		return fmt.Errorf("min_weighted_score must be non-negative, got %v", p.MinWeightedScore)
	}
	if p.MinStrongEvidence < 0 {
		return errors.New("min_strong_evidence must be non-negative")
	}
	if p.MinDistinctSources < 1 {
		return fmt.Errorf("min_distinct_sources must be at least 1, got %d", p.MinDistinctSources)
	}
	return nil
}

// permille scales a fraction to the integer unit the rules compute in.
func permille(v float64) int64 {
	return int64(math.Round(v * 1000))
}

// facts renders the table as policy(/key, value) pairs.
func (p Policy) facts() map[string]int64 {
	return map[string]int64{
		"confidence_base":        permille(p.ConfidenceBase),
		"confidence_early_step":  permille(p.ConfidenceEarlyStep),
		"confidence_late_start":  int64(p.ConfidenceLateStart),
		"confidence_late_step":   permille(p.ConfidenceLateStep),
		"confidence_cap":         permille(p.ConfidenceCap),
		"neutral_reliability":    permille(p.NeutralReliability),
		"strong_min_similarity":  permille(p.StrongMinSimilarity),
		"strong_min_reliability": permille(p.StrongMinReliability),
		"min_weighted_score":     permille(p.MinWeightedScore),
		"min_strong_evidence":    int64(p.MinStrongEvidence),
		"min_distinct_sources":   int64(p.MinDistinctSources),
	}
}
