// Package reasoning turns retrieved evidence into a confidence number and a
// belief verdict by evaluating Mangle rules over policy and evidence facts.
//
// Every evaluation failure is returned as an error; the engine never falls
// back to a default verdict or confidence.
package reasoning

import (
	_ "embed"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/mangle/ast"
	"go.uber.org/zap"

	"github.com/NicabarNimble/patina-sub001/internal/logging"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

//go:embed rules/confidence.mg
var confidenceRules string

//go:embed rules/validation.mg
var validationRules string

// Verdict reasons derived by the validation rules.
const (
	ReasonStrongEvidence     = "strong_evidence"
	ReasonConsistentEvidence = "consistent_evidence"
	ReasonWeakEvidence       = "weak_evidence"
)

// ScoredEvidence is one retrieved observation with its similarity to the
// belief and the trust attached to its source.
type ScoredEvidence struct {
	ID          string
	Kind        string
	Content     string
	Similarity  float32
	Reliability float32
	SourceType  string
}

// ValidationResult is the verdict with the metrics that produced it.
type ValidationResult struct {
	Valid               bool
	Reason              string
	WeightedScore       float32
	StrongEvidenceCount int
	HasDiverseSources   bool
	AvgReliability      float32
	AvgSimilarity       float32
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	policy        Policy
	confidenceSrc string
	validationSrc string
	logger        *zap.Logger
}

// WithPolicy replaces the default scoring table.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithRules replaces the embedded rule programs. An empty source keeps the default.
func WithRules(confidenceSrc, validationSrc string) Option {
	return func(o *options) {
		if confidenceSrc != "" {
			o.confidenceSrc = confidenceSrc
		}
		if validationSrc != "" {
			o.validationSrc = validationSrc
		}
	}
}

// WithLogger replaces the kernel category logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Engine evaluates the confidence and validation programs. The evidence
// working set is replaced on every LoadObservations call.
type Engine struct {
	mu         sync.Mutex
	policy     Policy
	confidence *kernel
	validation *kernel
	evidence   []ScoredEvidence
	log        *zap.Logger
}

// NewEngine parses and analyzes both rule programs once.
func NewEngine(opts ...Option) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryKernel, "NewEngine")
	defer timer.Stop()

	o := options{
		policy:        DefaultPolicy(),
		confidenceSrc: confidenceRules,
		validationSrc: validationRules,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Zap(logging.CategoryKernel)
	}

	if err := o.policy.Validate(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeReasoningEngineInit, "invalid policy")
	}

	confidence, err := newKernel("confidence", o.confidenceSrc, o.logger)
	if err != nil {
		return nil, err
	}
	if err := confidence.require("policy", "evidence_count", "confidence"); err != nil {
		return nil, err
	}

	validation, err := newKernel("validation", o.validationSrc, o.logger)
	if err != nil {
		return nil, err
	}
	if err := validation.require("policy", "evidence", "evidence_weight", "strong_evidence",
		"evidence_source", "evidence_summary", "verdict", "accepted"); err != nil {
		return nil, err
	}

	e := &Engine{
		policy:     o.policy,
		confidence: confidence,
		validation: validation,
		log:        o.logger,
	}
	if err := e.LoadObservations(nil); err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the scoring table in use.
func (e *Engine) Policy() Policy {
	return e.policy
}

// CalculateConfidence maps an evidence count to a confidence in [0,1].
func (e *Engine) CalculateConfidence(n int) (float32, error) {
	if n < 0 {
		return 0, patinaerr.New(patinaerr.CodeReasoningEvaluationException,
			fmt.Sprintf("evidence count must be non-negative, got %d", n))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.confidence
	k.reset()
	if err := k.addPolicy(e.policy); err != nil {
		return 0, err
	}
	if err := k.add("evidence_count", ast.Number(int64(n))); err != nil {
		return 0, err
	}
	if err := k.evaluate(); err != nil {
		return 0, err
	}

	c, err := k.single("confidence")
	if err != nil {
		return 0, err
	}
	if c.Type != ast.NumberType {
		return 0, patinaerr.New(patinaerr.CodeReasoningTypeMismatch,
			fmt.Sprintf("confidence %s is not a number", c.String()))
	}

	confidence := float32(c.NumValue) / 1000
	e.log.Debug("confidence", zap.Int("evidence", n), zap.Float32("confidence", confidence))
	return confidence, nil
}

// similarityTolerance absorbs float32 rounding in cosine similarity of
// normalized vectors. Scores within it are clamped to [-1,1].
const similarityTolerance = 1e-4

// LoadObservations replaces the working set with evidence. Items repeating
// an earlier ID are ignored.
func (e *Engine) LoadObservations(evidence []ScoredEvidence) error {
	loaded := make([]ScoredEvidence, 0, len(evidence))
	seen := make(map[string]bool, len(evidence))
	for _, ev := range evidence {
		sim, rel := float64(ev.Similarity), float64(ev.Reliability)
		if !(sim >= -1-similarityTolerance && sim <= 1+similarityTolerance) {
			return patinaerr.New(patinaerr.CodeReasoningEvaluationException,
				fmt.Sprintf("evidence %s has similarity %v outside [-1,1]", ev.ID, ev.Similarity),
				patinaerr.FieldID(ev.ID), patinaerr.Field("field", "similarity"))
		}
		if !(rel >= 0 && rel <= 1) {
			return patinaerr.New(patinaerr.CodeReasoningEvaluationException,
				fmt.Sprintf("evidence %s has reliability %v outside [0,1]", ev.ID, ev.Reliability),
				patinaerr.FieldID(ev.ID), patinaerr.Field("field", "reliability"))
		}
		ev.Similarity = float32(math.Max(-1, math.Min(1, sim)))
		if seen[ev.ID] {
			e.log.Debug("duplicate evidence ignored", zap.String("id", ev.ID))
			continue
		}
		seen[ev.ID] = true
		loaded = append(loaded, ev)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.validation
	k.reset()
	if err := k.addPolicy(e.policy); err != nil {
		return err
	}
	for _, ev := range loaded {
		err := k.add("evidence",
			ast.String(ev.ID),
			ast.Number(permille(float64(ev.Similarity))),
			ast.Number(permille(float64(ev.Reliability))),
			ast.String(ev.SourceType))
		if err != nil {
			return err
		}
	}
	e.evidence = loaded
	return nil
}

// ValidateBelief judges the loaded evidence. The rules first derive
// per-item weights, strong items and sources; the engine totals them into
// evidence_summary and evaluates again for the verdict.
func (e *Engine) ValidateBelief() (ValidationResult, error) {
	timer := logging.StartTimer(logging.CategoryKernel, "ValidateBelief")
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.validation
	if err := k.evaluate(); err != nil {
		return ValidationResult{}, err
	}

	weights, err := k.facts("evidence_weight")
	if err != nil {
		return ValidationResult{}, err
	}
	var weighted int64
	for _, a := range weights {
		w, err := numberArg(a, 1)
		if err != nil {
			return ValidationResult{}, err
		}
		weighted += w
	}
	strong, err := k.facts("strong_evidence")
	if err != nil {
		return ValidationResult{}, err
	}
	sources, err := k.facts("evidence_source")
	if err != nil {
		return ValidationResult{}, err
	}

	err = k.add("evidence_summary",
		ast.Number(weighted), ast.Number(int64(len(strong))), ast.Number(int64(len(sources))))
	if err != nil {
		return ValidationResult{}, err
	}
	if err := k.evaluate(); err != nil {
		return ValidationResult{}, err
	}

	verdict, err := k.single("verdict")
	if err != nil {
		return ValidationResult{}, err
	}
	if verdict.Type != ast.NameType {
		return ValidationResult{}, patinaerr.New(patinaerr.CodeReasoningTypeMismatch,
			fmt.Sprintf("verdict %s is not a name", verdict.String()))
	}
	accepted, err := k.facts("accepted")
	if err != nil {
		return ValidationResult{}, err
	}

	result := ValidationResult{
		Reason:              strings.TrimPrefix(verdict.Symbol, "/"),
		WeightedScore:       float32(weighted) / 1000,
		StrongEvidenceCount: len(strong),
		HasDiverseSources:   len(sources) >= e.policy.MinDistinctSources,
	}
	for _, a := range accepted {
		if c, ok := a.Args[0].(ast.Constant); ok && c.Type == ast.NameType && c.Symbol == verdict.Symbol {
			result.Valid = true
		}
	}
	if n := len(e.evidence); n > 0 {
		var sim, rel float64
		for _, ev := range e.evidence {
			sim += float64(ev.Similarity)
			rel += float64(ev.Reliability)
		}
		result.AvgSimilarity = float32(sim / float64(n))
		result.AvgReliability = float32(rel / float64(n))
	}

	e.log.Debug("validated",
		zap.String("reason", result.Reason),
		zap.Bool("valid", result.Valid),
		zap.Float32("weighted_score", result.WeightedScore),
		zap.Int("strong", result.StrongEvidenceCount),
		zap.Int("sources", len(sources)))
	return result, nil
}
