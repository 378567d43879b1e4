// Package embedding provides vector embedding generation for semantic search.
// Supports multiple backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/NicabarNimble/patina-sub001/internal/logging"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	// Embed generates embeddings for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// QueryEmbedder is an optional interface for engines that embed search
// queries differently from stored documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery embeds a search query, preferring the engine's query mode when it has one.
func EmbedQuery(ctx context.Context, engine EmbeddingEngine, text string) ([]float32, error) {
	if qe, ok := engine.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	return engine.Embed(ctx, text)
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `json:"provider"`

	// Ollama Configuration
	OllamaEndpoint string `json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model"`    // Default: "all-minilm"

	// GenAI Configuration
	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI document embeddings: "SEMANTIC_SIMILARITY", "RETRIEVAL_DOCUMENT", ...
	TaskType string `json:"task_type"`

	// Dimensions is the vector length the stores expect.
	Dimensions int `json:"dimensions"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "all-minilm",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "RETRIEVAL_DOCUMENT",
		Dimensions:     384,
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration.
func NewEngine(ctx context.Context, cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultConfig().Dimensions
	}

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)
	logging.EmbeddingDebug("Engine config: provider=%s, ollama_endpoint=%s, ollama_model=%s, genai_model=%s, task_type=%s, dimensions=%d",
		cfg.Provider, cfg.OllamaEndpoint, cfg.OllamaModel, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)

	var engine EmbeddingEngine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimensions)
	case "genai":
		engine, err = NewGenAIEngine(ctx, cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)
	default:
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, patinaerr.Errorf(patinaerr.CodeEmbeddingConfigInvalid, "unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// checkLength rejects provider output that does not match the configured dimension.
func checkLength(name string, vec []float32, want int) error {
	if len(vec) != want {
		return patinaerr.New(patinaerr.CodeEmbeddingProviderFailure,
			fmt.Sprintf("%s returned %d dimensions, expected %d", name, len(vec), want))
	}
	return nil
}

// =============================================================================
// SIMILARITY
// =============================================================================

// CosineSimilarity calculates cosine similarity between two vectors.
// A zero-magnitude vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		logging.Get(logging.CategoryEmbedding).Warn("CosineSimilarity: zero magnitude vector")
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
