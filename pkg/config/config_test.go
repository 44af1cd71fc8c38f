package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 100, cfg.Pipeline.ChunkOverlap)
	assert.Equal(t, 12, cfg.Pipeline.TopK)
	assert.Equal(t, "./uploads", cfg.Pipeline.UploadDir)
	assert.Equal(t, 3, cfg.Generator.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ReportTTL())
	assert.False(t, cfg.App.IsDevelopment())
}

func TestLoadReadsFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("app:\n  environment: development\npipeline:\n  topK: 8\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("HEALTHSPHERE_GENERATOR_APIKEY", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, cfg.App.IsDevelopment())
	assert.Equal(t, 8, cfg.Pipeline.TopK)
	assert.Equal(t, "secret", cfg.Generator.APIKey)
}

func TestLoadRejectsOverlapLargerThanChunk(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("pipeline:\n  chunkSize: 100\n  chunkOverlap: 100\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunkSize")
}

func TestLoadRejectsEmptyUploadDir(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("pipeline:\n  uploadDir: \"\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploadDir")
}
