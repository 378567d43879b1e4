package store

import "context"

const (
	observationsName = "observations"
	beliefsName      = "beliefs"
)

// ObservationStore holds observations and supports kind-filtered search.
type ObservationStore struct {
	*Store[Observation]
}

// OpenObservationStore opens observations.db and observations.idx under dir.
func OpenObservationStore(ctx context.Context, dir string, opts ...Option) (*ObservationStore, error) {
	s, err := open[Observation](ctx, dir, observationsName, true, observationCodec{}, opts...)
	if err != nil {
		return nil, err
	}
	return &ObservationStore{Store: s}, nil
}

// SearchByType returns up to limit observations of kind nearest to query.
// The index filters on kind before ranking, so the result is an exact
// top-k within that kind.
func (s *ObservationStore) SearchByType(ctx context.Context, query []float32, kind string, limit int) ([]Observation, error) {
	scored, err := s.SearchByTypeWithScores(ctx, query, kind, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Observation, len(scored))
	for i, sc := range scored {
		out[i] = sc.Entity
	}
	return out, nil
}

// SearchByTypeWithScores is SearchByType with similarity scores.
func (s *ObservationStore) SearchByTypeWithScores(ctx context.Context, query []float32, kind string, limit int) ([]Scored[Observation], error) {
	if kind == "" {
		return s.SearchWithScores(ctx, query, limit)
	}
	return s.search(ctx, query, limit, kind)
}

// CountByType returns the number of observations of kind.
func (s *ObservationStore) CountByType(ctx context.Context, kind string) (int, error) {
	return s.records.countByKind(ctx, kind)
}

// KindCounts returns the number of observations per kind.
func (s *ObservationStore) KindCounts(ctx context.Context) (map[string]int, error) {
	return s.records.kindCounts(ctx)
}

// BeliefStore holds beliefs.
type BeliefStore struct {
	*Store[Belief]
}

// OpenBeliefStore opens beliefs.db and beliefs.idx under dir.
func OpenBeliefStore(ctx context.Context, dir string, opts ...Option) (*BeliefStore, error) {
	s, err := open[Belief](ctx, dir, beliefsName, false, beliefCodec{}, opts...)
	if err != nil {
		return nil, err
	}
	return &BeliefStore{Store: s}, nil
}
