// Package knowledge is the semantic pipeline over the dual stores: it embeds
// text, writes observations and beliefs, and validates belief queries against
// retrieved observations with the reasoning engine.
package knowledge

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/NicabarNimble/patina-sub001/internal/config"
	"github.com/NicabarNimble/patina-sub001/internal/embedding"
	"github.com/NicabarNimble/patina-sub001/internal/logging"
	"github.com/NicabarNimble/patina-sub001/internal/reasoning"
	"github.com/NicabarNimble/patina-sub001/internal/store"
)

// DefaultBatchConcurrency bounds parallel embedding calls in AddObservations.
const DefaultBatchConcurrency = 4

// ObservationInput is one observation to embed and store.
type ObservationInput struct {
	Kind     string
	Content  string
	Metadata store.Metadata
}

// Service wires an embedder, both stores and the reasoning engine.
type Service struct {
	embedder     embedding.EmbeddingEngine
	observations *store.ObservationStore
	beliefs      *store.BeliefStore

	// The engine's evidence set is shared between Load and Validate calls.
	engineMu sync.Mutex
	engine   *reasoning.Engine

	concurrency int
	owned       bool
}

// Option configures a Service.
type Option func(*Service)

// WithBatchConcurrency bounds parallel embedding calls during bulk ingestion.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New assembles a service from already opened parts. Close does not close them.
func New(embedder embedding.EmbeddingEngine, observations *store.ObservationStore, beliefs *store.BeliefStore, engine *reasoning.Engine, opts ...Option) *Service {
	s := &Service{
		embedder:     embedder,
		observations: observations,
		beliefs:      beliefs,
		engine:       engine,
		concurrency:  DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds the embedder, opens both stores under cfg.Storage.Dir and
// constructs the reasoning engine. Close releases the stores.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Open")
	defer timer.Stop()

	embedder, err := embedding.NewEngine(ctx, cfg.Embedding.EngineConfig(cfg.Storage.Dimensions))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	opts := []store.Option{
		store.WithDimensions(cfg.Storage.Dimensions),
		store.WithCompression(cfg.Storage.CompressIndex),
		store.WithRepairOnOpen(cfg.Storage.RepairOnOpen),
	}
	observations, err := store.OpenObservationStore(ctx, cfg.Storage.Dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("open observation store: %w", err)
	}
	beliefs, err := store.OpenBeliefStore(ctx, cfg.Storage.Dir, opts...)
	if err != nil {
		observations.Close()
		return nil, fmt.Errorf("open belief store: %w", err)
	}

	engine, err := reasoning.NewEngine(reasoning.WithPolicy(cfg.Reasoning.Policy()))
	if err != nil {
		observations.Close()
		beliefs.Close()
		return nil, fmt.Errorf("create reasoning engine: %w", err)
	}

	s := New(embedder, observations, beliefs, engine, WithBatchConcurrency(cfg.Embedding.BatchConcurrency))
	s.owned = true
	logging.Knowledge("Knowledge service ready: embedder=%s dir=%s dims=%d",
		embedder.Name(), cfg.Storage.Dir, cfg.Storage.Dimensions)
	return s, nil
}

// Observations returns the observation store.
func (s *Service) Observations() *store.ObservationStore { return s.observations }

// Beliefs returns the belief store.
func (s *Service) Beliefs() *store.BeliefStore { return s.beliefs }

// Engine returns the reasoning engine.
func (s *Service) Engine() *reasoning.Engine { return s.engine }

// AddObservation embeds and inserts one observation and returns its ID.
// The vector is durable only after Commit.
func (s *Service) AddObservation(ctx context.Context, kind, content string, meta store.Metadata) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed observation: %w", err)
	}
	obs := store.NewObservation(kind, content, vec, meta)
	if err := s.observations.Insert(ctx, obs); err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}
	logging.KnowledgeDebug("Added observation %s (%s)", obs.ID, kind)
	return obs.ID, nil
}

// AddObservations embeds inputs concurrently, inserts them in order and
// commits once. On error, rows inserted before the failure remain.
func (s *Service) AddObservations(ctx context.Context, inputs []ObservationInput) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "AddObservations")
	defer timer.Stop()

	vecs := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, in.Content)
			if err != nil {
				return fmt.Errorf("embed observation %d: %w", i, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(inputs))
	for i, in := range inputs {
		obs := store.NewObservation(in.Kind, in.Content, vecs[i], in.Metadata)
		if err := s.observations.Insert(ctx, obs); err != nil {
			return ids, fmt.Errorf("insert observation %d: %w", i, err)
		}
		ids = append(ids, obs.ID)
	}
	if err := s.observations.Commit(ctx); err != nil {
		return ids, fmt.Errorf("commit observations: %w", err)
	}
	logging.Knowledge("Added %d observations", len(ids))
	return ids, nil
}

// AddBelief stores a belief with the engine confidence for the number of
// observations supporting it at DefaultValidateOptions, then commits.
func (s *Service) AddBelief(ctx context.Context, content string, meta store.Metadata) (store.Belief, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return store.Belief{}, fmt.Errorf("embed belief: %w", err)
	}

	evidence, err := s.gatherEvidence(ctx, vec, DefaultValidateOptions())
	if err != nil {
		return store.Belief{}, err
	}

	s.engineMu.Lock()
	confidence, err := s.engine.CalculateConfidence(len(evidence))
	s.engineMu.Unlock()
	if err != nil {
		return store.Belief{}, fmt.Errorf("calculate confidence: %w", err)
	}
	meta.Confidence = &confidence

	belief := store.NewBelief(content, vec, meta)
	if err := s.beliefs.Insert(ctx, belief); err != nil {
		return store.Belief{}, fmt.Errorf("insert belief: %w", err)
	}
	if err := s.beliefs.Commit(ctx); err != nil {
		return store.Belief{}, fmt.Errorf("commit beliefs: %w", err)
	}
	logging.Knowledge("Added belief %s with confidence %.2f from %d observations", belief.ID, confidence, len(evidence))
	return belief, nil
}

// SearchObservations embeds query and returns scored observations, limited
// to kind when it is not empty.
func (s *Service) SearchObservations(ctx context.Context, query, kind string, limit int) ([]store.Scored[store.Observation], error) {
	vec, err := embedding.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.observations.SearchByTypeWithScores(ctx, vec, kind, limit)
}

// Commit flushes both stores.
func (s *Service) Commit(ctx context.Context) error {
	if err := s.observations.Commit(ctx); err != nil {
		return fmt.Errorf("commit observations: %w", err)
	}
	if err := s.beliefs.Commit(ctx); err != nil {
		return fmt.Errorf("commit beliefs: %w", err)
	}
	return nil
}

// Close closes the stores opened by Open. It does not save the indexes.
func (s *Service) Close() error {
	if !s.owned {
		return nil
	}
	obsErr := s.observations.Close()
	beliefErr := s.beliefs.Close()
	if obsErr != nil {
		return obsErr
	}
	return beliefErr
}
