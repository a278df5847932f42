package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg, err := LoadConfig(path, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig(), cfg)

			// The defaults were persisted and load back identically.
			_, err = os.Stat(path)
			require.NoError(t, err)
			again, err := LoadConfig(path, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, cfg, again)
		})
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
server_config:
  api_addr: "127.0.0.1:9000"
  log_level: debug
  data_dir: ./d
  database_path: chains.db
chain_config:
  default_state_size: 3
  max_tries: 25
  max_batch: 10
  parallelism: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ApiAddr)
	assert.Equal(t, filepath.Join("d", "chains.db"), cfg.Server.DatabaseFile())
	assert.Equal(t, 3, cfg.Chain.DefaultStateSize)
	assert.Equal(t, 25, cfg.Chain.MaxTries)
}

func TestLoadConfigMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_config": {"api_addr": ":1"}}`), 0o644))

	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, ":1", cfg.Server.ApiAddr)
	assert.Equal(t, DefaultChainConfig(), cfg.Chain)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("MARKOVDB_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("MARKOVDB_MAX_TRIES", "42")

	cfg, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Server.DatabasePath)
	assert.Equal(t, 42, cfg.Chain.MaxTries)

	t.Setenv("MARKOVDB_MAX_BATCH", "0")
	_, err = LoadConfig(path, discardLogger())
	assert.ErrorContains(t, err, "max_batch")

	t.Setenv("MARKOVDB_MAX_BATCH", "5")
	t.Setenv("MARKOVDB_PARALLELISM", "lots")
	_, err = LoadConfig(path, discardLogger())
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidChainConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chain_config": {"default_state_size": 2, "max_tries": 0, "max_batch": 10, "parallelism": 1}}`), 0o644))

	_, err := LoadConfig(path, discardLogger())
	assert.ErrorContains(t, err, "max_tries")
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := LoadConfig(path, discardLogger())
	assert.Error(t, err)
}

func TestConfigManagerUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	cm.SetLogger(discardLogger())

	cfg := cm.Get()
	cfg.Chain.MaxTries = 99
	// Get hands out copies.
	assert.Equal(t, 10, cm.Get().Chain.MaxTries)

	require.NoError(t, cm.Update(cfg))
	assert.Equal(t, 99, cm.Get().Chain.MaxTries)

	reloaded, err := LoadConfig(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 99, reloaded.Chain.MaxTries)

	invalid := []func(*ChainConfig){
		func(c *ChainConfig) { c.DefaultStateSize = 0 },
		func(c *ChainConfig) { c.MaxTries = 0 },
		func(c *ChainConfig) { c.MaxBatch = 0 },
		func(c *ChainConfig) { c.Parallelism = -1 },
	}
	for _, mutate := range invalid {
		bad := cm.Get()
		mutate(bad.Chain)
		assert.Error(t, cm.Update(bad))
	}
	assert.Error(t, cm.Update(Config{}))
	assert.Equal(t, 99, cm.Get().Chain.MaxTries)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestDatabaseFile(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.db")
	testCases := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"Relative", ServerConfig{DataDir: "./data", DatabasePath: "markovdb.db"}, filepath.Join("data", "markovdb.db")},
		{"Absolute", ServerConfig{DataDir: "./data", DatabasePath: abs}, abs},
		{"No data dir", ServerConfig{DatabasePath: "here.db"}, "here.db"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.DatabaseFile())
		})
	}
}
