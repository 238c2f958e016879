package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.HTTP.Port)
	assert.Equal(t, "model.json", cfg.Model.Path)
	assert.Equal(t, "data/train.csv", cfg.Training.DataPath)
	assert.Equal(t, ":8000", cfg.HTTP.Addr())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
http:
  port: 9090
  timeout: 5s
  allowed_origins: ["https://example.org"]
  admin_token: secret
model:
  path: /var/lib/issuetriage/model.json
  watch: true
  watch_debounce: 250ms
log:
  format: console
training:
  model_type: decision_tree
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"https://example.org"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "secret", cfg.HTTP.AdminToken)
	assert.True(t, cfg.Model.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.Model.WatchDebounce)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "decision_tree", cfg.Training.ModelType)
	assert.Equal(t, int64(7), cfg.Training.Seed)

	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.Model.CacheSize)
	assert.Equal(t, 0.2, cfg.Training.TestRatio)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"port":       "http:\n  port: 70000\n",
		"model type": "training:\n  model_type: svm\n",
		"test ratio": "training:\n  test_ratio: 1.5\n",
		"log level":  "log:\n  level: loud\n",
		"log format": "log:\n  format: xml\n",
		"yaml":       "http: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestRebaseRelativePaths(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = "data/app.db"
	cfg.Model.Path = "/abs/model.json"
	cfg.rebase("..")

	assert.Equal(t, filepath.Join("..", "data/app.db"), cfg.Database.Path)
	assert.Equal(t, "/abs/model.json", cfg.Model.Path)
	assert.Equal(t, filepath.Join("..", "data/train.csv"), cfg.Training.DataPath)
	assert.Empty(t, cfg.Log.File)
}
