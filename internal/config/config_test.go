package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profile.AgeGroup = "toddler"
	cfg.Lock.OnTimeout = "shrug"
	cfg.Storage.Type = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "age_group")
	assert.Contains(t, err.Error(), "on_timeout")
	assert.Contains(t, err.Error(), "storage.type")
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Profile.AgeGroup, cfg.Profile.AgeGroup)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[profile]
age_group = "high_school"
strictness = "permissive"

[lock]
timeout_sec = 120
on_timeout = "auto-allow"

[analysis]
endpoint = "https://analysis.example.com/v1"
api_key = "secret"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "high_school", cfg.Profile.AgeGroup)
	assert.Equal(t, "permissive", cfg.Profile.Strictness)
	assert.Equal(t, 120, cfg.Lock.TimeoutSec)
	assert.Equal(t, OnTimeoutAutoAllow, cfg.Lock.OnTimeout)
	assert.Equal(t, "https://analysis.example.com/v1", cfg.Analysis.Endpoint)

	// Unspecified sections keep their defaults.
	assert.Equal(t, DefaultConfig().Monitor.IdleTimeoutMs, cfg.Monitor.IdleTimeoutMs)
	require.NoError(t, cfg.Validate())
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"profile": {"age_group": "middle_school"}}`), 0600))
	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "middle_school", cfg.Profile.AgeGroup)

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("profile:\n  strictness: strict\n"), 0600))
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Profile.Strictness)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[profile\nbroken"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := DefaultConfig()
	cfg.Profile.AgeGroup = "high_school"
	cfg.Dashboard.Addr = "127.0.0.1:9999"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "high_school", loaded.Profile.AgeGroup)
	assert.Equal(t, "127.0.0.1:9999", loaded.Dashboard.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAND_LOG_LEVEL", "debug")
	t.Setenv("GUARDIAND_ANALYSIS_ENDPOINT", "https://env.example.com")
	t.Setenv("GUARDIAND_SOCKET_PATH", "/tmp/guardiand-test.sock")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://env.example.com", cfg.Analysis.Endpoint)
	assert.Equal(t, "/tmp/guardiand-test.sock", cfg.IPC.SocketPath)
}
