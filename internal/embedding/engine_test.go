package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ollamaServer answers /api/embed with a one-hot vector per input, hot at
// len(input) mod dims, and records the size of each request.
type ollamaServer struct {
	*httptest.Server
	mu      sync.Mutex
	batches []int
}

func newOllamaServer(t *testing.T, dims int) *ollamaServer {
	t.Helper()
	s := &ollamaServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.batches = append(s.batches, len(req.Input))
		s.mu.Unlock()

		resp := ollamaEmbedResponse{Model: req.Model}
		for _, in := range req.Input {
			if in == "fail" {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
				return
			}
			vec := make([]float32, dims)
			vec[len(in)%dims] = 1
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ollamaServer) requestSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := newOllamaServer(t, 8)

	engine, err := NewOllamaEngine(srv.URL, "all-minilm", 8)
	require.NoError(t, err)

	vec, err := engine.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, float32(1), vec[3])
	assert.Equal(t, "ollama:all-minilm", engine.Name())
	assert.Equal(t, 8, engine.Dimensions())
	assert.Equal(t, []int{1}, srv.requestSizes())
}

func TestOllamaEngine_EmbedBatch(t *testing.T) {
	srv := newOllamaServer(t, 4)

	engine, err := NewOllamaEngine(srv.URL+"/", "", 4)
	require.NoError(t, err)

	vecs, err := engine.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][1])
	assert.Equal(t, float32(1), vecs[1][2])
	assert.Equal(t, float32(1), vecs[2][3])
	assert.Equal(t, []int{3}, srv.requestSizes(), "one request for the whole batch")
}

func TestOllamaEngine_EmbedBatchSplitsLargeInput(t *testing.T) {
	srv := newOllamaServer(t, 8)
	engine, err := NewOllamaEngine(srv.URL, "", 8)
	require.NoError(t, err)

	texts := make([]string, 2*ollamaBatchLimit+2)
	for i := range texts {
		texts[i] = strings.Repeat("x", i)
	}
	vecs, err := engine.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, vec := range vecs {
		assert.Equal(t, float32(1), vec[i%8], "input %d", i)
	}
	assert.Equal(t, []int{ollamaBatchLimit, ollamaBatchLimit, 2}, srv.requestSizes())

	empty, err := engine.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOllamaEngine_Errors(t *testing.T) {
	srv := newOllamaServer(t, 4)

	t.Run("status", func(t *testing.T) {
		engine, err := NewOllamaEngine(srv.URL, "", 4)
		require.NoError(t, err)
		_, err = engine.EmbedBatch(context.Background(), []string{"ok", "fail"})
		require.Error(t, err)
		assert.True(t, patinaerr.HasCode(err, patinaerr.CodeEmbeddingProviderFailure))
		assert.Contains(t, err.Error(), "model not loaded")
		assert.Equal(t, http.StatusInternalServerError, patinaerr.FieldsOf(err)["status"])
	})

	t.Run("dimension drift", func(t *testing.T) {
		engine, err := NewOllamaEngine(srv.URL, "", 16)
		require.NoError(t, err)
		_, err = engine.Embed(context.Background(), "abc")
		require.Error(t, err)
		assert.True(t, patinaerr.HasCode(err, patinaerr.CodeEmbeddingProviderFailure))
	})

	t.Run("count mismatch", func(t *testing.T) {
		short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0, 0, 0}}})
		}))
		defer short.Close()
		engine, err := NewOllamaEngine(short.URL, "", 4)
		require.NoError(t, err)
		_, err = engine.EmbedBatch(context.Background(), []string{"a", "b"})
		require.Error(t, err)
		assert.True(t, patinaerr.HasCode(err, patinaerr.CodeEmbeddingProviderFailure))
	})

	t.Run("bad dimensions", func(t *testing.T) {
		_, err := NewOllamaEngine(srv.URL, "", 0)
		assert.True(t, patinaerr.HasCode(err, patinaerr.CodeEmbeddingConfigInvalid))
	})
}

func TestNewEngine(t *testing.T) {
	srv := newOllamaServer(t, 384)

	cfg := DefaultConfig()
	cfg.OllamaEndpoint = srv.URL
	engine, err := NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 384, engine.Dimensions())

	_, err = NewEngine(context.Background(), Config{Provider: "word2vec"})
	require.Error(t, err)
	assert.True(t, patinaerr.HasCode(err, patinaerr.CodeEmbeddingConfigInvalid))

	_, err = NewEngine(context.Background(), Config{Provider: "genai", Dimensions: 384})
	require.Error(t, err, "genai without API key must fail")
}

type recordingEngine struct {
	queries int
	docs    int
}

func (r *recordingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	r.docs++
	return []float32{1}, nil
}

func (r *recordingEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	r.queries++
	return []float32{1}, nil
}

func (r *recordingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (r *recordingEngine) Dimensions() int { return 1 }
func (r *recordingEngine) Name() string    { return "recording" }

func TestEmbedQueryPrefersQueryMode(t *testing.T) {
	rec := &recordingEngine{}
	_, err := EmbedQuery(context.Background(), rec, "does the store commit?")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.queries)
	assert.Equal(t, 0, rec.docs)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"scaled", []float32{1, 2}, []float32{2, 4}, 1},
		{"zero magnitude", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)
}
