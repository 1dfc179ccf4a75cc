package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Fusion.Alpha)
	assert.Equal(t, 3, cfg.Indexing.MaxConcurrentTasks)
	assert.Equal(t, 800, cfg.Chunking.TargetTokens)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "normrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fusion:
  alpha: 0.4
  use_rrf: true
  rrf_k: 30
chunking:
  target_tokens: 600
  min_tokens: 400
  max_tokens: 900
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Fusion.Alpha)
	assert.True(t, cfg.Fusion.UseRRF)
	assert.Equal(t, 30, cfg.Fusion.RRFK)
	assert.Equal(t, 600, cfg.Chunking.TargetTokens)
	// Unset fields keep defaults.
	assert.Equal(t, "bge-m3", cfg.Embedding.Model)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NORMRAG_DATABASE_DSN", "postgres://env-host/db")
	t.Setenv("NORMRAG_QDRANT_PORT", "7000")
	t.Setenv("NORMRAG_FUSION_ALPHA", "0.8")
	t.Setenv("NORMRAG_WORKERS", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/db", cfg.Database.DSN)
	assert.Equal(t, 7000, cfg.VectorStore.Port)
	assert.Equal(t, 0.8, cfg.Fusion.Alpha)
	assert.Equal(t, 5, cfg.Indexing.MaxConcurrentTasks)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"alpha above one", func(c *Config) { c.Fusion.Alpha = 1.5 }},
		{"lambda negative", func(c *Config) { c.MMR.Lambda = -0.1 }},
		{"max below min tokens", func(c *Config) { c.Chunking.MaxTokens = 100 }},
		{"target outside bounds", func(c *Config) { c.Chunking.TargetTokens = 10000 }},
		{"vector size mismatch", func(c *Config) { c.VectorStore.VectorSize = 512 }},
		{"zero workers", func(c *Config) { c.Indexing.MaxConcurrentTasks = 0 }},
		{"min above max connections", func(c *Config) { c.Database.MinConnections = 99 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestChunkingForOverrides(t *testing.T) {
	cfg := Default()
	target := 600
	ratio := 0.1
	cfg.ChunkingOverrides = map[string]ChunkingOverride{
		"GOST": {TargetTokens: &target, OverlapRatio: &ratio},
	}

	got := cfg.ChunkingFor("GOST")
	assert.Equal(t, 600, got.TargetTokens)
	assert.Equal(t, 0.1, got.OverlapRatio)
	// Unnamed fields inherit.
	assert.Equal(t, cfg.Chunking.MinTokens, got.MinTokens)
	assert.Equal(t, cfg.Chunking.MaxTokens, got.MaxTokens)

	// Unknown class inherits everything.
	assert.Equal(t, cfg.Chunking, cfg.ChunkingFor("SP"))
}
