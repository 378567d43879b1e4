package config

import (
	"github.com/NicabarNimble/patina-sub001/internal/reasoning"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// ReasoningConfig holds the scoring table injected into the rule evaluator.
type ReasoningConfig struct {
	ConfidenceBase      float64 `yaml:"confidence_base"`
	ConfidenceEarlyStep float64 `yaml:"confidence_early_step"`
	ConfidenceLateStart int     `yaml:"confidence_late_start"`
	ConfidenceLateStep  float64 `yaml:"confidence_late_step"`
	ConfidenceCap       float64 `yaml:"confidence_cap"`

	NeutralReliability   float64 `yaml:"neutral_reliability"`
	StrongMinSimilarity  float64 `yaml:"strong_min_similarity"`
	StrongMinReliability float64 `yaml:"strong_min_reliability"`
	MinWeightedScore     float64 `yaml:"min_weighted_score"`
	MinStrongEvidence    int     `yaml:"min_strong_evidence"`
	MinDistinctSources   int     `yaml:"min_distinct_sources"`

	// Validation pipeline defaults used by the CLI.
	ValidateMinScore float64 `yaml:"validate_min_score"`
	ValidateLimit    int     `yaml:"validate_limit"`
}

// DefaultReasoningConfig mirrors reasoning.DefaultPolicy.
func DefaultReasoningConfig() ReasoningConfig {
	p := reasoning.DefaultPolicy()
	return ReasoningConfig{
		ConfidenceBase:       p.ConfidenceBase,
		ConfidenceEarlyStep:  p.ConfidenceEarlyStep,
		ConfidenceLateStart:  p.ConfidenceLateStart,
		ConfidenceLateStep:   p.ConfidenceLateStep,
		ConfidenceCap:        p.ConfidenceCap,
		NeutralReliability:   p.NeutralReliability,
		StrongMinSimilarity:  p.StrongMinSimilarity,
		StrongMinReliability: p.StrongMinReliability,
		MinWeightedScore:     p.MinWeightedScore,
		MinStrongEvidence:    p.MinStrongEvidence,
		MinDistinctSources:   p.MinDistinctSources,
		ValidateMinScore:     0.50,
		ValidateLimit:        10,
	}
}

// Policy converts to the engine's scoring table.
func (c ReasoningConfig) Policy() reasoning.Policy {
	return reasoning.Policy{
		ConfidenceBase:       c.ConfidenceBase,
		ConfidenceEarlyStep:  c.ConfidenceEarlyStep,
		ConfidenceLateStart:  c.ConfidenceLateStart,
		ConfidenceLateStep:   c.ConfidenceLateStep,
		ConfidenceCap:        c.ConfidenceCap,
		NeutralReliability:   c.NeutralReliability,
		StrongMinSimilarity:  c.StrongMinSimilarity,
		StrongMinReliability: c.StrongMinReliability,
		MinWeightedScore:     c.MinWeightedScore,
		MinStrongEvidence:    c.MinStrongEvidence,
		MinDistinctSources:   c.MinDistinctSources,
	}
}

// Validate checks the policy and pipeline defaults.
func (c ReasoningConfig) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeConfigValidateInvalidValue, "invalid reasoning policy")
	}
	if c.ValidateLimit <= 0 {
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "reasoning.validate_limit must be positive, got %d", c.ValidateLimit)
	}
	if c.ValidateMinScore < -1 || c.ValidateMinScore > 1 {
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "reasoning.validate_min_score must be in [-1,1], got %v", c.ValidateMinScore)
	}
	return nil
}
