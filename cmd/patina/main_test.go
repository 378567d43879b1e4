package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicabarNimble/patina-sub001/internal/config"
	"github.com/NicabarNimble/patina-sub001/internal/store"
	patinaerr "github.com/NicabarNimble/patina-sub001/pkg/errors"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig saves a config whose storage lives in a temp dir and returns its path.
func writeConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	for _, key := range []string{"PATINA_STORAGE_DIR", "PATINA_EMBEDDING_PROVIDER", "PATINA_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	c := config.DefaultConfig()
	c.Storage.Dir = filepath.Join(dir, "storage")
	c.Storage.Dimensions = 8
	if mutate != nil {
		mutate(c)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, c.Save(path))
	return path, c
}

func seedObservations(t *testing.T, c *config.Config, commit bool, kinds ...string) {
	t.Helper()
	ctx := context.Background()

	s, err := store.OpenObservationStore(ctx, c.Storage.Dir,
		store.WithDimensions(c.Storage.Dimensions), store.WithRepairOnOpen(false))
	require.NoError(t, err)
	defer s.Close()

	for i, kind := range kinds {
		vec := make([]float32, c.Storage.Dimensions)
		vec[i%len(vec)] = 1
		require.NoError(t, s.Insert(ctx, store.NewObservation(kind, "seeded observation", vec, store.Metadata{})))
	}
	if commit {
		require.NoError(t, s.Commit(ctx))
	}
}

func TestConfidenceCmd(t *testing.T) {
	path, _ := writeConfig(t, nil)

	cases := map[string]string{"0": "0.50", "1": "0.65", "2": "0.80", "4": "0.85", "20": "0.85"}
	for n, want := range cases {
		out, err := executeCommand(t, "--config", path, "confidence", n)
		require.NoError(t, err, n)
		assert.Equal(t, want+"\n", out, n)
	}
}

func TestConfidenceCmd_UsesConfiguredPolicy(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Reasoning.ConfidenceCap = 0.70
	})

	out, err := executeCommand(t, "--config", path, "confidence", "5")
	require.NoError(t, err)
	assert.Equal(t, "0.70\n", out)
}

func TestConfidenceCmd_RejectsBadInput(t *testing.T) {
	path, _ := writeConfig(t, nil)

	_, err := executeCommand(t, "--config", path, "confidence", "many")
	assert.Error(t, err)

	_, err = executeCommand(t, "--config", path, "confidence", "--", "-1")
	require.Error(t, err)
	assert.True(t, patinaerr.IsReasoning(err))
}

func TestInvalidConfigFails(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.Embedding.Provider = "carrier-pigeon"
	})

	_, err := executeCommand(t, "--config", path, "confidence", "1")
	require.Error(t, err)
	assert.True(t, patinaerr.HasCode(err, patinaerr.CodeConfigValidateInvalidValue))
}

func TestStatsCmd(t *testing.T) {
	path, c := writeConfig(t, nil)
	seedObservations(t, c, true, "pattern", "decision", "pattern")

	out, err := executeCommand(t, "--config", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "observations: 3")
	assert.Contains(t, out, "decision")
	assert.Contains(t, out, "beliefs: 0")
}

func TestStorageFlagOverridesConfig(t *testing.T) {
	path, c := writeConfig(t, nil)
	seedObservations(t, c, true, "pattern")

	out, err := executeCommand(t, "--config", path, "--storage", t.TempDir(), "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "observations: 0")
}

func TestCheckAndReindexCmds(t *testing.T) {
	path, c := writeConfig(t, nil)
	require.True(t, c.Storage.RepairOnOpen)
	seedObservations(t, c, true, "pattern", "decision")
	// Rows inserted without a commit have no vector in the saved index.
	seedObservations(t, c, false, "challenge")

	out, err := executeCommand(t, "--config", path, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "DIVERGED")
	assert.Contains(t, out, "patina reindex")

	out, err = executeCommand(t, "--config", path, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed=3")

	out, err = executeCommand(t, "--config", path, "check")
	require.NoError(t, err)
	assert.NotContains(t, out, "DIVERGED")
	assert.Contains(t, out, "rows=3 vectors=3")
}

func TestCheckCmd_ReportsBeforeRepair(t *testing.T) {
	path, c := writeConfig(t, nil)
	seedObservations(t, c, true, "pattern")
	seedObservations(t, c, false, "decision")

	out, err := executeCommand(t, "--config", path, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "DIVERGED")

	// Other commands still repair on open.
	out, err = executeCommand(t, "--config", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "observations: 2")

	out, err = executeCommand(t, "--config", path, "check")
	require.NoError(t, err)
	assert.NotContains(t, out, "DIVERGED")
	assert.Contains(t, out, "rows=2 vectors=2")
}

func TestValidateCmd_EmptyStore(t *testing.T) {
	path, _ := writeConfig(t, nil)

	_, err := executeCommand(t, "--config", path, "validate", "the build is reproducible")
	require.Error(t, err)
	assert.True(t, patinaerr.HasCode(err, patinaerr.CodeKnowledgeObservationsEmpty))
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	t.Setenv("PATINA_EMBEDDING_PROVIDER", "")
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope.yaml")

	out, err := executeCommand(t, "--config", missing, "confidence", "3")
	require.NoError(t, err)
	assert.Equal(t, "0.80\n", out)

	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "loading must not create the config file")
}
