package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NicabarNimble/patina-sub001/internal/logging"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// DefaultDimensions matches the all-minilm embedding model.
const DefaultDimensions = 384

// Option configures a dual store at open time.
type Option func(*options)

type options struct {
	dims     int
	logger   *zap.Logger
	compress bool
	repair   bool
}

// WithDimensions sets the embedding dimension enforced on insert and search.
func WithDimensions(n int) Option {
	return func(o *options) { o.dims = n }
}

// WithLogger replaces the store category logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCompression gzips the index file on save.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithRepairOnOpen runs Check after open and Reindex when the halves disagree.
func WithRepairOnOpen(enabled bool) Option {
	return func(o *options) { o.repair = enabled }
}

// Store pairs a sqlite record store with an in-memory vector index under one
// surrogate key per entity. Rows are durable on insert; vectors are durable
// only after SaveIndex or Commit.
type Store[T any] struct {
	// mu guards the index collection, which Reindex replaces.
	mu      sync.RWMutex
	name    string
	dims    int
	records *recordStore
	index   *vectorIndex
	codec   codec[T]
	log     *zap.Logger
}

func open[T any](ctx context.Context, dir, name string, hasKind bool, c codec[T], opts ...Option) (*Store[T], error) {
	timer := logging.StartTimer(logging.CategoryStore, "open "+name)
	defer timer.Stop()

	o := options{dims: DefaultDimensions}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Zap(logging.CategoryStore)
	}
	log := o.logger.With(zap.String("store", name))

	if o.dims <= 0 {
		return nil, patinaerr.New(patinaerr.CodeStorageDimensionMismatch,
			fmt.Sprintf("invalid embedding dimension %d", o.dims))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to create storage directory", patinaerr.FieldPath(dir))
	}

	dbPath := filepath.Join(dir, name+".db")
	records, err := openRecordStore(ctx, dbPath, name, hasKind)
	if err != nil {
		return nil, err
	}

	idxPath := filepath.Join(dir, name+".idx")
	index, loaded, err := openVectorIndex(ctx, idxPath, name, o.dims, o.compress)
	if err != nil {
		records.close()
		return nil, err
	}
	if loaded {
		log.Debug("loaded vector index", zap.String("path", idxPath), zap.Int("vectors", index.len()))
	} else {
		log.Debug("created empty vector index", zap.String("path", idxPath), zap.Int("dimensions", o.dims))
	}

	s := &Store[T]{
		name:    name,
		dims:    o.dims,
		records: records,
		index:   index,
		codec:   c,
		log:     log,
	}

	if o.repair {
		report, err := s.Check(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		if !report.Consistent() {
			log.Warn("record store and vector index disagree, reindexing",
				zap.Int("rows", report.Rows),
				zap.Int("vectors", report.Vectors),
				zap.Int("missing", len(report.MissingVectors)),
				zap.Int("stale", report.StaleVectors))
			if _, err := s.Reindex(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
	}
	return s, nil
}

// Dimensions returns the embedding dimension this store enforces.
func (s *Store[T]) Dimensions() int {
	return s.dims
}

func (s *Store[T]) checkDims(vec []float32, what string) error {
	if len(vec) != s.dims {
		return patinaerr.New(patinaerr.CodeStorageDimensionMismatch,
			fmt.Sprintf("%s has %d dimensions, store %s expects %d", what, len(vec), s.name, s.dims),
			patinaerr.Field("expected", s.dims), patinaerr.Field("actual", len(vec)))
	}
	if err := checkVector(vec); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageInvalidEmbedding,
			fmt.Sprintf("%s cannot be compared by cosine similarity", what))
	}
	return nil
}

// checkVector rejects vectors that normalize to NaN: any non-finite
// component, or a zero norm.
func checkVector(vec []float32) error {
	var norm float64
	for i, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("component %d is %v", i, x)
		}
		norm += f * f
	}
	if norm == 0 || math.IsInf(norm, 0) {
		return fmt.Errorf("norm is %v", math.Sqrt(norm))
	}
	return nil
}

// checkMetadata rejects scores outside [0,1].
func checkMetadata(id string, m Metadata) error {
	for _, f := range []struct {
		name string
		v    *float32
	}{
		{"reliability", m.Reliability},
		{"confidence", m.Confidence},
	} {
		if f.v == nil {
			continue
		}
		if v := float64(*f.v); math.IsNaN(v) || v < 0 || v > 1 {
			return patinaerr.New(patinaerr.CodeStorageInvalidMetadata,
				fmt.Sprintf("metadata %s must be within [0,1], got %v", f.name, *f.v),
				patinaerr.FieldID(id), patinaerr.Field("field", f.name))
		}
	}
	return nil
}

// Insert writes the entity row and its vector under the same surrogate key.
// The row is rolled back when the vector cannot be added.
func (s *Store[T]) Insert(ctx context.Context, entity T) error {
	rec := s.codec.encode(entity)
	if rec.id == "" {
		return patinaerr.New(patinaerr.CodeStorageSerialization, "entity has no id")
	}
	if err := s.checkDims(rec.embedding, "embedding"); err != nil {
		return err
	}
	if err := checkMetadata(rec.id, rec.metadata); err != nil {
		return err
	}
	if rec.metadata.CreatedAt.IsZero() {
		rec.metadata.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.records.begin(ctx)
	if err != nil {
		return err
	}
	key, err := s.records.insert(ctx, tx, rec)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := s.index.add(ctx, key, rec.kind, rec.embedding); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if rmErr := s.index.remove(ctx, key); rmErr != nil {
			s.log.Error("orphan vector left after failed commit", zap.Int64("key", key), zap.Error(rmErr))
		}
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to commit insert", patinaerr.FieldID(rec.id))
	}

	s.log.Debug("inserted", zap.String("id", rec.id), zap.Int64("key", key))
	return nil
}

// Search returns up to limit entities nearest to query, embeddings omitted.
func (s *Store[T]) Search(ctx context.Context, query []float32, limit int) ([]T, error) {
	scored, err := s.SearchWithScores(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(scored))
	for i, sc := range scored {
		out[i] = sc.Entity
	}
	return out, nil
}

// SearchWithScores is Search with the cosine similarity of each hit, best first.
func (s *Store[T]) SearchWithScores(ctx context.Context, query []float32, limit int) ([]Scored[T], error) {
	return s.search(ctx, query, limit, "")
}

func (s *Store[T]) search(ctx context.Context, query []float32, limit int, kind string) ([]Scored[T], error) {
	if err := s.checkDims(query, "query"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.index.search(ctx, query, limit, kind)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Scored[T]{}, nil
	}

	keys := make([]int64, len(hits))
	for i, h := range hits {
		keys[i] = h.key
	}
	rows, err := s.records.hydrate(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]Scored[T], 0, len(hits))
	for _, h := range hits {
		rec, ok := rows[h.key]
		if !ok {
			s.log.Debug("dropping vector without row", zap.Int64("key", h.key))
			continue
		}
		if kind != "" && rec.kind != kind {
			continue
		}
		score := 1 - h.distance
		if f := float64(score); math.IsNaN(f) || math.IsInf(f, 0) {
			s.log.Debug("dropping hit with non-finite score", zap.Int64("key", h.key))
			continue
		}
		out = append(out, Scored[T]{Entity: s.codec.decode(rec), Score: score})
	}
	return out, nil
}

// SaveIndex persists the vector index. Call it, or Commit, after a batch of inserts.
func (s *Store[T]) SaveIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndexLocked()
}

func (s *Store[T]) saveIndexLocked() error {
	timer := logging.StartTimer(logging.CategoryStore, "save index "+s.name)
	defer timer.Stop()
	return s.index.save()
}

// Commit is the durability boundary: it checkpoints the database and saves the index.
func (s *Store[T]) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.records.checkpoint(ctx); err != nil {
		return err
	}
	return s.saveIndexLocked()
}

// Count returns the number of rows.
func (s *Store[T]) Count(ctx context.Context) (int, error) {
	return s.records.count(ctx)
}

// QueryAll returns every entity in insertion order, embeddings omitted.
func (s *Store[T]) QueryAll(ctx context.Context) ([]T, error) {
	recs, err := s.records.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recs))
	for i, rec := range recs {
		out[i] = s.codec.decode(rec)
	}
	return out, nil
}

// Close releases the database. It does not save the index.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.close()
}
