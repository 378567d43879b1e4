package embedding

import (
	"context"
	"fmt"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int
}

// NewGenAIEngine creates a new GenAI embedding engine. Output is truncated by
// the service to dimensions so vectors fit the configured index.
func NewGenAIEngine(ctx context.Context, apiKey, model, taskType string, dimensions int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, patinaerr.New(patinaerr.CodeEmbeddingConfigInvalid, "GenAI API key is required")
	}
	if dimensions <= 0 {
		return nil, patinaerr.Errorf(patinaerr.CodeEmbeddingConfigInvalid, "genai dimensions must be positive, got %d", dimensions)
	}

	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "failed to create GenAI client")
	}

	return &GenAIEngine{
		client:     client,
		model:      model,
		taskType:   SelectTaskType(PurposeDocument, taskType),
		dimensions: dimensions,
	}, nil
}

// Embed generates a document embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, e.taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedQuery generates an embedding tuned for retrieval queries.
func (e *GenAIEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, SelectTaskType(PurposeQuery, ""))
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
// GenAI has native batch support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts, e.taskType)
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dims := int32(e.dimensions)
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType:             taskType,
			OutputDimensionality: &dims,
		},
	)
	if err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeEmbeddingProviderFailure, "GenAI embed failed")
	}

	if len(result.Embeddings) != len(texts) {
		return nil, patinaerr.New(patinaerr.CodeEmbeddingProviderFailure,
			fmt.Sprintf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, patinaerr.New(patinaerr.CodeEmbeddingProviderFailure, fmt.Sprintf("GenAI returned empty embedding %d", i))
		}
		if err := checkLength(e.Name(), emb.Values, e.dimensions); err != nil {
			return nil, err
		}
		embeddings[i] = emb.Values
	}

	return embeddings, nil
}

// Dimensions returns the requested output dimensionality.
func (e *GenAIEngine) Dimensions() int {
	return e.dimensions
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
