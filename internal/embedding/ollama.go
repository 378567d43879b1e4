package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "all-minilm"

	// ollamaBatchLimit caps the inputs sent in one /api/embed request.
	ollamaBatchLimit = 64
)

// OllamaEngine embeds text through a local Ollama server's /api/embed
// endpoint, which takes a list of inputs per request.
type OllamaEngine struct {
	url        string
	model      string
	dimensions int
	client     *http.Client
}

// NewOllamaEngine returns an engine for model at endpoint. Empty values
// select the local default server and all-minilm.
func NewOllamaEngine(endpoint, model string, dimensions int) (*OllamaEngine, error) {
	if dimensions <= 0 {
		return nil, patinaerr.Errorf(patinaerr.CodeEmbeddingConfigInvalid, "ollama dimensions must be positive, got %d", dimensions)
	}
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaEngine{
		url:        strings.TrimRight(endpoint, "/") + "/api/embed",
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Embed returns the embedding of one text.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, at most ollamaBatchLimit per request.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ollamaBatchLimit {
		end := min(start+ollamaBatchLimit, len(texts))
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEngine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true})
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "failed to encode ollama request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "failed to build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "ollama request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, patinaerr.New(patinaerr.CodeEmbeddingProviderFailure,
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, ollamaErrorText(resp.Body)),
			patinaerr.Field("status", resp.StatusCode))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "failed to decode ollama response")
	}
	if len(result.Embeddings) != len(texts) {
		return nil, patinaerr.New(patinaerr.CodeEmbeddingProviderFailure,
			fmt.Sprintf("ollama returned %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}
	for _, vec := range result.Embeddings {
		if err := checkLength(e.Name(), vec, e.dimensions); err != nil {
			return nil, err
		}
	}
	return result.Embeddings, nil
}

// ollamaErrorText prefers the "error" field of a JSON error body.
func ollamaErrorText(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// Dimensions returns the configured dimensionality of embeddings.
func (e *OllamaEngine) Dimensions() int {
	return e.dimensions
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string {
	return "ollama:" + e.model
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}
