package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: /tmp/custom.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Store.Path)
	assert.Equal(t, "stub", cfg.Embedding.Provider)
	assert.Equal(t, "auto", cfg.Search.DefaultMode)
	assert.Equal(t, 0.4, cfg.Search.FTSWeight)
	assert.Equal(t, 0.6, cfg.Search.VectorWeight)
	assert.Equal(t, 5, cfg.RAG.TopKWindows)
}

func TestLoadParsesExampleConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ExampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scry.db", cfg.Store.Path)
	assert.Equal(t, "stub", cfg.Embedding.Provider)
	assert.Equal(t, 4, cfg.Worker.ConcurrentLeases)
}

func TestWithDefaultsPreservesCustomHybridWeights(t *testing.T) {
	cfg := &Config{Search: SearchConfig{FTSWeight: 0.7, VectorWeight: 0.3}}
	cfg.WithDefaults()
	assert.Equal(t, 0.7, cfg.Search.FTSWeight)
	assert.Equal(t, 0.3, cfg.Search.VectorWeight)
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{}
	cfg.WithDefaults()
	assert.Equal(t, int64(30_000_000_000), cfg.Embedding.OpenAITimeout().Nanoseconds())
	assert.Equal(t, int64(500_000_000), cfg.Worker.PollInterval().Nanoseconds())
}
