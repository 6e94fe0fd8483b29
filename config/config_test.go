package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
database:
  dsn: postgres://localhost/graphflow
embedding:
  model: text-embedding-3-small
  dimensions: 1536
search:
  depth: 3
select_mode: MULTIPLE
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres://localhost/graphflow", cfg.Database.DSN)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 3, cfg.Search.Depth)
	assert.Equal(t, "MULTIPLE", cfg.SelectMode)

	// 未覆盖的字段保持默认
	assert.Equal(t, "json", cfg.Log.Encoding)
	assert.Equal(t, 10, cfg.Search.MaxNeighbors)
	assert.Equal(t, 0.9, cfg.DedupThreshold)
	assert.Equal(t, 30*time.Second, cfg.Fusion.PairTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "log: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestValidate_SelectMode(t *testing.T) {
	cfg := Default()
	cfg.SelectMode = "SOME"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select_mode")
}

func TestValidate_DedupThresholdRange(t *testing.T) {
	cfg := Default()
	cfg.DedupThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg.DedupThreshold = 0
	assert.NoError(t, cfg.Validate())
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.Log.Level = "loud"
	_, err = cfg.BuildLogger()
	assert.Error(t, err)
}
