package config

import (
	"os"
	"path/filepath"
	"testing"

	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PATINA_STORAGE_DIR",
		"PATINA_EMBEDDING_PROVIDER",
		"PATINA_OLLAMA_ENDPOINT",
		"GEMINI_API_KEY",
		"PATINA_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".patina/storage", cfg.Storage.Dir)
	assert.Equal(t, 384, cfg.Storage.Dimensions)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.InDelta(t, 0.50, cfg.Reasoning.ConfidenceBase, 1e-9)
	assert.InDelta(t, 3.0, cfg.Reasoning.MinWeightedScore, 1e-9)
	assert.Equal(t, 10, cfg.Reasoning.ValidateLimit)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.Dir = "/var/lib/patina"
	cfg.Storage.Dimensions = 768
	cfg.Embedding.Provider = "genai"
	cfg.Reasoning.MinStrongEvidence = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  dir: /tmp/kb\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kb", cfg.Storage.Dir)
	// Fields absent from the file are untouched defaults.
	assert.Equal(t, 384, cfg.Storage.Dimensions)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, patinaerr.HasCode(err, patinaerr.CodeConfigParseInvalidFormat))
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PATINA_STORAGE_DIR", "/data/kb")
	t.Setenv("PATINA_EMBEDDING_PROVIDER", "genai")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("PATINA_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/data/kb", cfg.Storage.Dir)
	assert.Equal(t, "genai", cfg.Embedding.Provider)
	assert.Equal(t, "gm-key", cfg.Embedding.GenAIAPIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty dir", func(c *Config) { c.Storage.Dir = "" }},
		{"zero dimensions", func(c *Config) { c.Storage.Dimensions = 0 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"zero concurrency", func(c *Config) { c.Embedding.BatchConcurrency = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"cap below base", func(c *Config) { c.Reasoning.ConfidenceCap = 0.2 }},
		{"zero neutral reliability", func(c *Config) { c.Reasoning.NeutralReliability = 0 }},
		{"zero validate limit", func(c *Config) { c.Reasoning.ValidateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, patinaerr.HasCode(err, patinaerr.CodeConfigValidateInvalidValue), "got %v", err)
		})
	}
}

func TestLoggingCategories(t *testing.T) {
	lc := LoggingConfig{DebugMode: true, Categories: map[string]bool{"store": false}}
	assert.False(t, lc.IsCategoryEnabled("store"))
	assert.True(t, lc.IsCategoryEnabled("kernel"))

	lc.DebugMode = false
	assert.False(t, lc.IsCategoryEnabled("kernel"))

	lc.File = "/tmp/patina.log"
	out := lc.LoggerConfig()
	assert.Equal(t, []string{"/tmp/patina.log"}, out.OutputPaths)
}

func TestReasoningPolicyConversion(t *testing.T) {
	cfg := DefaultReasoningConfig()
	cfg.MinWeightedScore = 4.5
	p := cfg.Policy()
	assert.InDelta(t, 4.5, p.MinWeightedScore, 1e-9)
	assert.Equal(t, cfg.MinStrongEvidence, p.MinStrongEvidence)
}

func TestEmbeddingEngineConfig(t *testing.T) {
	ec := DefaultEmbeddingConfig().EngineConfig(384)
	assert.Equal(t, "ollama", ec.Provider)
	assert.Equal(t, 384, ec.Dimensions)
}
