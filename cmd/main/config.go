package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/CTAG07/markovdb/pkg/markov"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// envPrefix prefixes every environment variable that overrides the config file.
const envPrefix = "MARKOVDB_"

// ServerConfig holds the configuration for the HTTP API and storage.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" yaml:"api_addr"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

// ChainConfig holds the defaults used when a request does not say otherwise.
type ChainConfig struct {
	DefaultStateSize int `json:"default_state_size" yaml:"default_state_size"`
	MaxTries         int `json:"max_tries" yaml:"max_tries"`
	MaxBatch         int `json:"max_batch" yaml:"max_batch"`
	Parallelism      int `json:"parallelism" yaml:"parallelism"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Chain  *ChainConfig  `json:"chain_config" yaml:"chain_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      ":7280",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "markovdb.db",
	}
}

// DatabaseFile resolves DatabasePath against DataDir unless it is absolute.
func (c *ServerConfig) DatabaseFile() string {
	if filepath.IsAbs(c.DatabasePath) || c.DataDir == "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, c.DatabasePath)
}

// DefaultChainConfig creates a chain configuration with default values.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		DefaultStateSize: markov.DefaultStateSize,
		MaxTries:         markov.DefaultMaxTries,
		MaxBatch:         100,
		Parallelism:      4,
	}
}

// Validate rejects values that would make every chain request fail.
func (c *ChainConfig) Validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"default_state_size", c.DefaultStateSize},
		{"max_tries", c.MaxTries},
		{"max_batch", c.MaxBatch},
		{"parallelism", c.Parallelism},
	} {
		if field.value < 1 {
			return fmt.Errorf("%s must be positive, got %d", field.name, field.value)
		}
	}
	return nil
}

// DefaultConfig returns a config with every section populated.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Chain:  DefaultChainConfig(),
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path, chosen by extension, then applies MARKOVDB_* environment overrides.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string, logger *slog.Logger) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		var data []byte
		data, err = marshalConfig(path, config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// The server can still run with defaults.
			logger.Warn("Failed to write default config file", "path", path, "error", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err = unmarshalConfig(path, file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// A file may omit whole sections.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Chain == nil {
		config.Chain = DefaultChainConfig()
	}

	if err = applyEnv(config); err != nil {
		return nil, err
	}
	if err = config.Chain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chain_config: %w", err)
	}
	return config, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(config *Config) error {
	strs := map[string]*string{
		"API_ADDR":      &config.Server.ApiAddr,
		"LOG_LEVEL":     &config.Server.LogLevel,
		"DATA_DIR":      &config.Server.DataDir,
		"DATABASE_PATH": &config.Server.DatabasePath,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DEFAULT_STATE_SIZE": &config.Chain.DefaultStateSize,
		"MAX_TRIES":          &config.Chain.MaxTries,
		"MAX_BATCH":          &config.Chain.MaxBatch,
		"PARALLELISM":        &config.Chain.Parallelism,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}
	return nil
}

// parseLogLevel maps a config log level to a slog.Level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to the configuration.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	// Log to stdout before the application-specific logger is set.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	cfg, err := LoadConfig(path, logger)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		logger:     logger,
	}, nil
}

// SetLogger sets the logger. That's about it.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a copy of the current configuration. The sections are copied
// too, so callers cannot modify the manager's state.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	server := *cm.config.Server
	chain := *cm.config.Chain
	return Config{Server: &server, Chain: &chain}
}

// Update validates and replaces the configuration, then saves it to disk in
// the same format it was loaded from.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Chain == nil {
		return fmt.Errorf("config must include both server_config and chain_config")
	}
	if err := newConfig.Chain.Validate(); err != nil {
		return fmt.Errorf("invalid chain_config: %w", err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	server := *newConfig.Server
	chain := *newConfig.Chain
	cm.config = &Config{Server: &server, Chain: &chain}
	cm.logger.Info("Configuration updated", "path", cm.configPath)
	return nil
}
