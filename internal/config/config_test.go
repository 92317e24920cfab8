package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
geocoder:
  base_url: http://geo.local
  api_key: file-key
  rps: 2
solver:
  moves: two_opt
  selection: best
  max_passes: 50
matrix_concurrency: 4
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "http://geo.local", cfg.Geocoder.BaseURL)
	assert.Equal(t, "file-key", cfg.Geocoder.APIKey)
	assert.Equal(t, 2.0, cfg.Geocoder.RPS)
	assert.Equal(t, "two_opt", cfg.Solver.Moves)
	assert.Equal(t, "best", cfg.Solver.Selection)
	assert.Equal(t, 50, cfg.Solver.MaxPasses)
	assert.Equal(t, 4, cfg.MatrixConcurrency)
	// untouched sections keep their defaults
	assert.Equal(t, "https://apis-navi.kakaomobility.com", cfg.Router.BaseURL)
	assert.Equal(t, 6, cfg.WebhookMaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("GEO_API_KEY", "env-key")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "3")
	t.Setenv("AUTH_MODE", "hmac")

	cfg := FromEnv()
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "env-key", cfg.Geocoder.APIKey)
	assert.Equal(t, "env-key", cfg.Router.APIKey)
	assert.Equal(t, 3, cfg.WebhookMaxAttempts)
	assert.Equal(t, "hmac", cfg.AuthMode)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\n"), 0o600))
	t.Setenv("PORT", "6060")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Listen)
}
