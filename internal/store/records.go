package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/NicabarNimble/patina-sub001/internal/logging"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

func init() {
	// Register sqlite-vec on every connection; maintenance queries use
	// vec_length to validate the stored embedding copies.
	vec.Auto()
}

// recordStore is the authoritative relational half of a dual store.
type recordStore struct {
	db      *sql.DB
	path    string
	table   string
	hasKind bool
}

// rowState describes one row for consistency checks.
type rowState struct {
	key        int64
	id         string
	storedDims int // 0 when no usable embedding copy exists
}

func openRecordStore(ctx context.Context, path, table string, hasKind bool) (*recordStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to open database", patinaerr.FieldPath(path))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to open database", patinaerr.FieldPath(path))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	rs := &recordStore{db: db, path: path, table: table, hasKind: hasKind}
	if err := rs.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return rs, nil
}

func (r *recordStore) migrate(ctx context.Context) error {
	kindColumn := ""
	if r.hasKind {
		kindColumn = "\n\t\tkind TEXT NOT NULL,"
	}
	ddl := []string{fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		surrogate_key INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,%s
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		embedding BLOB
	)`, r.table, kindColumn)}
	if r.hasKind {
		ddl = append(ddl, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_kind ON %s(kind)", r.table, r.table))
	}

	for _, stmt := range ddl {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return patinaerr.Wrap(err, patinaerr.CodeStorageSchemaInit, "failed to initialize schema", patinaerr.Field("table", r.table))
		}
	}
	return nil
}

func (r *recordStore) kindExpr() string {
	if r.hasKind {
		return "kind"
	}
	return "'' AS kind"
}

func (r *recordStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to begin transaction")
	}
	return tx, nil
}

// insert adds rec inside tx and returns the surrogate key assigned by the
// same statement.
func (r *recordStore) insert(ctx context.Context, tx *sql.Tx, rec record) (int64, error) {
	meta, err := json.Marshal(rec.metadata)
	if err != nil {
		return 0, patinaerr.Wrap(err, patinaerr.CodeStorageSerialization, "failed to serialize metadata", patinaerr.FieldID(rec.id))
	}
	blob, err := vec.SerializeFloat32(rec.embedding)
	if err != nil {
		return 0, patinaerr.Wrap(err, patinaerr.CodeStorageSerialization, "failed to serialize embedding", patinaerr.FieldID(rec.id))
	}
	createdAt := rec.metadata.CreatedAt.UTC().Format(time.RFC3339Nano)

	var query string
	var args []any
	if r.hasKind {
		query = fmt.Sprintf(`INSERT INTO %s (id, kind, content, metadata, created_at, embedding)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING surrogate_key`, r.table)
		args = []any{rec.id, rec.kind, rec.content, string(meta), createdAt, blob}
	} else {
		query = fmt.Sprintf(`INSERT INTO %s (id, content, metadata, created_at, embedding)
			VALUES (?, ?, ?, ?, ?) RETURNING surrogate_key`, r.table)
		args = []any{rec.id, rec.content, string(meta), createdAt, blob}
	}

	var key int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&key); err != nil {
		if isUniqueViolation(err) {
			return 0, patinaerr.New(patinaerr.CodeStorageDuplicateID,
				fmt.Sprintf("%s already contains id %s", r.table, rec.id), patinaerr.FieldID(rec.id))
		}
		return 0, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to insert row", patinaerr.FieldID(rec.id))
	}
	return key, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// hydrate fetches the rows for keys. Keys without a row are absent from the result.
func (r *recordStore) hydrate(ctx context.Context, keys []int64) (map[int64]record, error) {
	out := make(map[int64]record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := fmt.Sprintf(`SELECT surrogate_key, id, %s, content, metadata, created_at FROM %s
		WHERE surrogate_key IN (%s)`, r.kindExpr(), r.table, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to hydrate rows")
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to hydrate rows")
	}
	return out, nil
}

// all returns every row in insertion order.
func (r *recordStore) all(ctx context.Context) ([]record, error) {
	query := fmt.Sprintf(`SELECT surrogate_key, id, %s, content, metadata, created_at FROM %s
		ORDER BY surrogate_key`, r.kindExpr(), r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to query rows")
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to query rows")
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (record, error) {
	var (
		rec       record
		meta      sql.NullString
		createdAt string
	)
	if err := rows.Scan(&rec.key, &rec.id, &rec.kind, &rec.content, &meta, &createdAt); err != nil {
		return record{}, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to scan row")
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.metadata); err != nil {
			return record{}, patinaerr.Wrap(err, patinaerr.CodeStorageSerialization, "failed to decode metadata", patinaerr.FieldID(rec.id))
		}
	}
	if rec.metadata.CreatedAt.IsZero() {
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.metadata.CreatedAt = t
		}
	}
	return rec, nil
}

func (r *recordStore) count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)).Scan(&n); err != nil {
		return 0, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to count rows")
	}
	return n, nil
}

func (r *recordStore) countByKind(ctx context.Context, kind string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE kind = ?", r.table)
	if err := r.db.QueryRowContext(ctx, query, kind).Scan(&n); err != nil {
		return 0, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to count rows by kind")
	}
	return n, nil
}

// kindCounts groups rows by kind.
func (r *recordStore) kindCounts(ctx context.Context) (map[string]int, error) {
	query := fmt.Sprintf("SELECT kind, COUNT(*) FROM %s GROUP BY kind", r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to count rows by kind")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to scan kind count")
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to count rows by kind")
	}
	return counts, nil
}

// inventory lists every row with the dimension of its stored embedding copy.
// Blobs that are not a whole float32 vector of the expected size report 0.
func (r *recordStore) inventory(ctx context.Context, dims int) ([]rowState, error) {
	query := fmt.Sprintf(`SELECT surrogate_key, id,
		CASE WHEN embedding IS NULL OR length(embedding) != ? THEN 0 ELSE vec_length(embedding) END
		FROM %s ORDER BY surrogate_key`, r.table)

	rows, err := r.db.QueryContext(ctx, query, dims*4)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to list rows")
	}
	defer rows.Close()

	var out []rowState
	for rows.Next() {
		var st rowState
		if err := rows.Scan(&st.key, &st.id, &st.storedDims); err != nil {
			return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to scan row state")
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to list rows")
	}
	return out, nil
}

// storedVector is an embedding copy decoded from the relational store.
type storedVector struct {
	key       int64
	id        string
	kind      string
	embedding []float32
}

// storedVectors decodes every embedding copy of exactly dims floats,
// bit for bit as Insert serialized it.
func (r *recordStore) storedVectors(ctx context.Context, dims int) ([]storedVector, error) {
	query := fmt.Sprintf(`SELECT surrogate_key, id, %s, embedding FROM %s
		WHERE embedding IS NOT NULL AND length(embedding) = ?
		ORDER BY surrogate_key`, r.kindExpr(), r.table)

	rows, err := r.db.QueryContext(ctx, query, dims*4)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to read stored embeddings")
	}
	defer rows.Close()

	var out []storedVector
	for rows.Next() {
		var (
			sv   storedVector
			blob []byte
		)
		if err := rows.Scan(&sv.key, &sv.id, &sv.kind, &blob); err != nil {
			return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to scan stored embedding")
		}
		sv.embedding = decodeFloat32(blob)
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to read stored embeddings")
	}
	return out, nil
}

// decodeFloat32 reverses vec.SerializeFloat32: little-endian IEEE 754 floats.
func decodeFloat32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// checkpoint flushes the write-ahead log into the main database file.
func (r *recordStore) checkpoint(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to checkpoint database")
	}
	return nil
}

func (r *recordStore) close() error {
	if err := r.db.Close(); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to close database")
	}
	return nil
}
