package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./data/meridian", cfg.DataDir)
	assert.Equal(t, "meridian.db", cfg.Database.Name)
	assert.Equal(t, SchemaModeNameAutomatic, cfg.Database.SchemaMode)
	assert.True(t, cfg.History.AutoTrim)
	assert.Equal(t, 16, cfg.History.KeepVersions)
	assert.Equal(t, filepath.Join("./data/meridian", "meridian.db"), cfg.DatabasePath())
}

func TestConfig_Resolve(t *testing.T) {
	cfg := &Config{}
	cfg.Resolve()
	assert.Equal(t, "./data/meridian", cfg.DataDir)
	assert.Equal(t, "meridian.db", cfg.Database.Name)
	assert.Equal(t, SchemaModeNameAutomatic, cfg.Database.SchemaMode)
	assert.Equal(t, 5*time.Minute, cfg.History.TrimInterval)
}

func TestConfig_SchemaModeMapping(t *testing.T) {
	cases := []struct {
		name SchemaModeName
		mode types.SchemaMode
	}{
		{SchemaModeNameAutomatic, types.SchemaModeAutomatic},
		{SchemaModeNameReadOnly, types.SchemaModeReadOnly},
		{SchemaModeNameResetFile, types.SchemaModeResetFile},
		{SchemaModeNameAdditive, types.SchemaModeAdditive},
		{SchemaModeNameManual, types.SchemaModeManual},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		cfg.Database.SchemaMode = tc.name
		mode, err := cfg.SchemaMode()
		require.NoError(t, err)
		assert.Equal(t, tc.mode, mode)
	}

	cfg := DefaultConfig()
	cfg.Database.SchemaMode = "bogus"
	_, err := cfg.SchemaMode()
	assert.Error(t, err)
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg.Database.InMemory = true
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.History.KeepVersions = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	data := `
data_dir: /var/lib/meridian
database:
  name: app.db
  schema_mode: additive
history:
  auto_trim: false
  trim_interval: 1m
  keep_versions: 4
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/meridian", cfg.DataDir)
	assert.Equal(t, "app.db", cfg.Database.Name)
	assert.Equal(t, SchemaModeNameAdditive, cfg.Database.SchemaMode)
	assert.False(t, cfg.History.AutoTrim)
	assert.Equal(t, time.Minute, cfg.History.TrimInterval)
	assert.Equal(t, 4, cfg.History.KeepVersions)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.json")
	data := `{
		"data_dir": "/srv/meridian",
		"database": {"name": "app.db", "read_only": true, "schema_mode": "readonly"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/meridian", cfg.DataDir)
	assert.True(t, cfg.Database.ReadOnly)
	assert.Equal(t, SchemaModeNameReadOnly, cfg.Database.SchemaMode)
	// Unset fields keep their defaults.
	assert.True(t, cfg.History.AutoTrim)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "meridian.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_DATA_DIR", "/env/meridian")
	t.Setenv("MERIDIAN_DB_NAME", "env.db")
	t.Setenv("MERIDIAN_DB_IN_MEMORY", "true")
	t.Setenv("MERIDIAN_DB_READ_ONLY", "1")
	t.Setenv("MERIDIAN_DB_SCHEMA_MODE", "MANUAL")
	t.Setenv("MERIDIAN_HISTORY_AUTO_TRIM", "false")
	t.Setenv("MERIDIAN_HISTORY_TRIM_INTERVAL", "30s")
	t.Setenv("MERIDIAN_HISTORY_KEEP_VERSIONS", "7")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/env/meridian", cfg.DataDir)
	assert.Equal(t, "env.db", cfg.Database.Name)
	assert.True(t, cfg.Database.InMemory)
	assert.True(t, cfg.Database.ReadOnly)
	assert.Equal(t, SchemaModeNameManual, cfg.Database.SchemaMode)
	assert.False(t, cfg.History.AutoTrim)
	assert.Equal(t, 30*time.Second, cfg.History.TrimInterval)
	assert.Equal(t, 7, cfg.History.KeepVersions)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MERIDIAN_DB_NAME=dotenv.db\n"), 0644))
	t.Setenv("MERIDIAN_DB_NAME", "")
	os.Unsetenv("MERIDIAN_DB_NAME")

	LoadDotEnv(envFile)
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, "dotenv.db", cfg.Database.Name)

	// Missing files are ignored.
	LoadDotEnv(filepath.Join(dir, "absent.env"))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, cfg.EnsureDirectories())

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg.Database.InMemory = true
	cfg.DataDir = ""
	assert.NoError(t, cfg.EnsureDirectories())
}
