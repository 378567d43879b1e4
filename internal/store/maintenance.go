package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/NicabarNimble/patina-sub001/internal/logging"
)

// ConsistencyReport compares the record store with the vector index.
type ConsistencyReport struct {
	Rows    int
	Vectors int
	// MissingVectors lists IDs that have a row and no vector.
	MissingVectors []string
	// StaleVectors counts vectors whose row no longer exists.
	StaleVectors int
	// Unrecoverable lists missing IDs whose stored embedding copy is unusable,
	// so Reindex cannot restore them.
	Unrecoverable []string
}

// Consistent reports whether every row has exactly one vector and vice versa.
func (r ConsistencyReport) Consistent() bool {
	return len(r.MissingVectors) == 0 && r.StaleVectors == 0 && r.Rows == r.Vectors
}

// ReindexReport summarizes a rebuild of the vector index.
type ReindexReport struct {
	Indexed int
	Skipped []string
}

// Check walks every row and looks up its vector.
func (s *Store[T]) Check(ctx context.Context) (ConsistencyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.records.inventory(ctx, s.dims)
	if err != nil {
		return ConsistencyReport{}, err
	}

	report := ConsistencyReport{Rows: len(rows), Vectors: s.index.len()}
	paired := 0
	for _, row := range rows {
		if s.index.has(ctx, row.key) {
			paired++
			continue
		}
		report.MissingVectors = append(report.MissingVectors, row.id)
		if row.storedDims != s.dims {
			report.Unrecoverable = append(report.Unrecoverable, row.id)
		}
	}
	report.StaleVectors = report.Vectors - paired

	s.log.Debug("consistency check",
		zap.Int("rows", report.Rows),
		zap.Int("vectors", report.Vectors),
		zap.Int("missing", len(report.MissingVectors)),
		zap.Int("stale", report.StaleVectors))
	return report, nil
}

// Reindex rebuilds the vector index from the embedding copies kept in the
// record store and saves it. Rows without a usable copy, including copies
// that cannot be normalized, are skipped.
func (s *Store[T]) Reindex(ctx context.Context) (ReindexReport, error) {
	timer := logging.StartTimer(logging.CategoryStore, "reindex "+s.name)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.records.inventory(ctx, s.dims)
	if err != nil {
		return ReindexReport{}, err
	}
	stored, err := s.records.storedVectors(ctx, s.dims)
	if err != nil {
		return ReindexReport{}, err
	}

	if err := s.index.reset(); err != nil {
		return ReindexReport{}, err
	}

	var report ReindexReport
	indexed := make(map[int64]bool, len(stored))
	for _, sv := range stored {
		if checkVector(sv.embedding) != nil {
			continue
		}
		if err := s.index.add(ctx, sv.key, sv.kind, sv.embedding); err != nil {
			return report, err
		}
		indexed[sv.key] = true
		report.Indexed++
	}
	for _, row := range rows {
		if !indexed[row.key] {
			report.Skipped = append(report.Skipped, row.id)
		}
	}

	if err := s.saveIndexLocked(); err != nil {
		return report, err
	}

	if len(report.Skipped) > 0 {
		s.log.Warn("reindex skipped rows without a usable embedding copy", zap.Strings("ids", report.Skipped))
	}
	s.log.Info("reindexed", zap.Int("indexed", report.Indexed))
	return report, nil
}
