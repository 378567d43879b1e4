package config

import "github.com/NicabarNimble/patina-sub001/internal/embedding"

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`

	// BatchConcurrency bounds parallel embedding calls during bulk ingestion.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// DefaultEmbeddingConfig returns a local Ollama setup producing 384-dim vectors.
func DefaultEmbeddingConfig() EmbeddingConfig {
	def := embedding.DefaultConfig()
	return EmbeddingConfig{
		Provider:         def.Provider,
		OllamaEndpoint:   def.OllamaEndpoint,
		OllamaModel:      def.OllamaModel,
		GenAIModel:       def.GenAIModel,
		TaskType:         def.TaskType,
		BatchConcurrency: 4,
	}
}

// EngineConfig converts to the embedding package's configuration. dims is
// the store dimension the provider must produce.
func (c EmbeddingConfig) EngineConfig(dims int) embedding.Config {
	return embedding.Config{
		Provider:       c.Provider,
		OllamaEndpoint: c.OllamaEndpoint,
		OllamaModel:    c.OllamaModel,
		GenAIAPIKey:    c.GenAIAPIKey,
		GenAIModel:     c.GenAIModel,
		TaskType:       c.TaskType,
		Dimensions:     dims,
	}
}
