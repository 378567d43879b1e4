package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/philippgille/chromem-go"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// Index file header values. A file written with different values must not load.
const (
	indexMetric       = "cosine"
	indexQuantization = "f32"
	indexFormat       = "1"

	headerDocID = "header"
	kindField   = "kind"
)

// hit is one nearest-neighbour result: a surrogate key and its cosine distance.
type hit struct {
	key      int64
	distance float32
}

// vectorIndex is the in-memory similarity half of a dual store, persisted to
// a single file only when save is called.
type vectorIndex struct {
	db       *chromem.DB
	coll     *chromem.Collection
	name     string
	path     string
	dims     int
	compress bool
}

// noEmbedding stops chromem from falling back to a remote embedding API;
// every document arrives with its vector.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("vector index only accepts precomputed embeddings")
}

func headerName(name string) string {
	return name + "_header"
}

// openVectorIndex loads the index at path, or reserves an empty one when the
// file does not exist. It reports whether a file was loaded.
func openVectorIndex(ctx context.Context, path, name string, dims int, compress bool) (*vectorIndex, bool, error) {
	v := &vectorIndex{db: chromem.NewDB(), name: name, path: path, dims: dims, compress: compress}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, false, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to stat vector index", patinaerr.FieldPath(path))
		}
		if err := v.create(ctx); err != nil {
			return nil, false, err
		}
		return v, false, nil
	}

	if err := v.db.ImportFromFile(path, "", name, headerName(name)); err != nil {
		return nil, false, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to load vector index", patinaerr.FieldPath(path))
	}
	if err := v.verifyHeader(ctx); err != nil {
		return nil, false, err
	}
	v.coll = v.db.GetCollection(name, noEmbedding)
	if v.coll == nil {
		coll, err := v.db.CreateCollection(name, nil, noEmbedding)
		if err != nil {
			return nil, false, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to create vector collection")
		}
		v.coll = coll
	}
	return v, true, nil
}

func (v *vectorIndex) create(ctx context.Context) error {
	header, err := v.db.CreateCollection(headerName(v.name), nil, noEmbedding)
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to create index header")
	}
	// The header document's vector also pins the dimension.
	pin := make([]float32, v.dims)
	pin[0] = 1
	err = header.AddDocument(ctx, chromem.Document{
		ID: headerDocID,
		Metadata: map[string]string{
			"dimensions":   strconv.Itoa(v.dims),
			"metric":       indexMetric,
			"quantization": indexQuantization,
			"format":       indexFormat,
		},
		Embedding: pin,
	})
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to write index header")
	}

	coll, err := v.db.CreateCollection(v.name, nil, noEmbedding)
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to create vector collection")
	}
	v.coll = coll
	return nil
}

func (v *vectorIndex) verifyHeader(ctx context.Context) error {
	header := v.db.GetCollection(headerName(v.name), noEmbedding)
	if header == nil {
		return patinaerr.New(patinaerr.CodeStorageIO, "vector index file has no header", patinaerr.FieldPath(v.path))
	}
	doc, err := header.GetByID(ctx, headerDocID)
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "vector index header unreadable", patinaerr.FieldPath(v.path))
	}

	dims, _ := strconv.Atoi(doc.Metadata["dimensions"])
	if dims != v.dims || len(doc.Embedding) != v.dims ||
		doc.Metadata["metric"] != indexMetric ||
		doc.Metadata["quantization"] != indexQuantization {
		return patinaerr.New(patinaerr.CodeStorageDimensionMismatch,
			fmt.Sprintf("vector index %s was built with dimensions=%s metric=%s quantization=%s; expected dimensions=%d metric=%s quantization=%s",
				v.path, doc.Metadata["dimensions"], doc.Metadata["metric"], doc.Metadata["quantization"],
				v.dims, indexMetric, indexQuantization),
			patinaerr.FieldPath(v.path))
	}
	return nil
}

func docID(key int64) string {
	return strconv.FormatInt(key, 10)
}

func (v *vectorIndex) add(ctx context.Context, key int64, kind string, embedding []float32) error {
	doc := chromem.Document{ID: docID(key), Embedding: embedding}
	if kind != "" {
		doc.Metadata = map[string]string{kindField: kind}
	}
	if err := v.coll.AddDocument(ctx, doc); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to add vector", patinaerr.Field("key", key))
	}
	return nil
}

func (v *vectorIndex) remove(ctx context.Context, key int64) error {
	if err := v.coll.Delete(ctx, nil, nil, docID(key)); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to remove vector", patinaerr.Field("key", key))
	}
	return nil
}

func (v *vectorIndex) has(ctx context.Context, key int64) bool {
	_, err := v.coll.GetByID(ctx, docID(key))
	return err == nil
}

func (v *vectorIndex) len() int {
	return v.coll.Count()
}

// search returns up to k nearest keys, optionally restricted to one kind.
// k is capped at the index size and an empty index yields no hits.
func (v *vectorIndex) search(ctx context.Context, query []float32, k int, kind string) ([]hit, error) {
	n := v.coll.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{kindField: kind}
	}

	results, err := v.coll.QueryEmbedding(ctx, query, k, where, nil)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeStorageIO, "vector search failed")
	}

	hits := make([]hit, 0, len(results))
	for _, res := range results {
		key, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, hit{key: key, distance: 1 - res.Similarity})
	}
	return hits, nil
}

// reset drops every vector, keeping the header.
func (v *vectorIndex) reset() error {
	if err := v.db.DeleteCollection(v.name); err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to drop vector collection")
	}
	coll, err := v.db.CreateCollection(v.name, nil, noEmbedding)
	if err != nil {
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to create vector collection")
	}
	v.coll = coll
	return nil
}

// save writes the index to a temporary file and renames it over the old one.
func (v *vectorIndex) save() error {
	tmp := v.path + ".tmp"
	if err := v.db.ExportToFile(tmp, v.compress, "", v.name, headerName(v.name)); err != nil {
		os.Remove(tmp)
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to write vector index", patinaerr.FieldPath(v.path))
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return patinaerr.Wrap(err, patinaerr.CodeStorageIO, "failed to replace vector index", patinaerr.FieldPath(v.path))
	}
	return nil
}
