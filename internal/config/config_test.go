package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aec-rag-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
source:
  kind: local
  local_root: /srv/aec
embedding:
  base_url: http://embeddings.local/v1
  model: text-embedding-3-small
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Chunking.MaxTokens)
	assert.Equal(t, 50, cfg.Chunking.OverlapTokens)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.BaseDelay)
	assert.Equal(t, 3*time.Hour, cfg.Scheduler.FullScanInterval)
	assert.Equal(t, "cosine", cfg.Query.Similarity)
	assert.Equal(t, 3, cfg.Query.MaxChunksPerDocument)
	assert.Equal(t, 30*time.Second, cfg.Admission.Embedding.Timeout)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("AECRAG_QUERY_TOP_K", "7")
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Query.TopK)
}

func TestLoadMissingFileIsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestValidateRejectsInconsistentBudgets(t *testing.T) {
	body := minimalYAML + `
chunking:
  max_tokens: 100
  overlap_tokens: 100
query:
  similarity: manhattan
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "overlap_tokens")
	assert.Contains(t, err.Error(), "manhattan")
}
