package config

import (
	"fmt"
	"os"
	"path/filepath"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration when no --config flag is given.
const DefaultPath = ".patina/config.yaml"

// Config holds all patina configuration.
type Config struct {
	// Storage for the observation and belief dual stores
	Storage StorageConfig `yaml:"storage"`

	// Embedding provider used to turn text into vectors
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoning policy thresholds
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage:   DefaultStorageConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Reasoning: DefaultReasoningConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, patinaerr.Wrap(err, patinaerr.CodeConfigLoadReadFailure, "failed to read config", patinaerr.FieldPath(path))
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, patinaerr.Wrap(err, patinaerr.CodeConfigParseInvalidFormat, "failed to parse config", patinaerr.FieldPath(path))
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("PATINA_STORAGE_DIR"); dir != "" {
		c.Storage.Dir = dir
	}

	if provider := os.Getenv("PATINA_EMBEDDING_PROVIDER"); provider != "" {
		c.Embedding.Provider = provider
	}
	if endpoint := os.Getenv("PATINA_OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}

	if level := os.Getenv("PATINA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
		c.Logging.DebugMode = true
	}
}

// Validate checks the configuration for values the stores and engine cannot run with.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return patinaerr.New(patinaerr.CodeConfigValidateInvalidValue, "storage.dir is required")
	}
	if c.Storage.Dimensions <= 0 {
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "storage.dimensions must be positive, got %d", c.Storage.Dimensions)
	}

	switch c.Embedding.Provider {
	case "ollama", "genai":
	default:
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "unsupported embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.BatchConcurrency <= 0 {
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "embedding.batch_concurrency must be positive, got %d", c.Embedding.BatchConcurrency)
	}

	if err := c.Reasoning.Validate(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return patinaerr.Errorf(patinaerr.CodeConfigValidateInvalidValue, "invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}
