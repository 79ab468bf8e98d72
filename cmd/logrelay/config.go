//go:build linux

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/container-logger/logrelay"
	"github.com/tailscale/hujson"
)

var (
	// ErrDuplicateConfigFiles is returned when both .json and .jsonc config files exist.
	ErrDuplicateConfigFiles = errors.New("duplicate config files")
	// ErrNoCompanionDir is returned when no companion directory is configured.
	ErrNoCompanionDir = errors.New("companion directory not configured (set companion_dir or --companion-dir)")
	// ErrInvalidWorkerThreads is returned for a worker thread count below 1.
	ErrInvalidWorkerThreads = errors.New("worker thread count must be positive")
	// ErrInvalidLogFormat is returned for a log format other than json or console.
	ErrInvalidLogFormat = errors.New("log format must be json or console")
)

// defaultWorkerThreads is the sink worker thread count when none is configured.
const defaultWorkerThreads = 8

// Config holds the application configuration.
type Config struct {
	CompanionDir   string    `json:"companion_dir,omitempty"`
	SinkName       string    `json:"sink_name,omitempty"`
	WorkerThreads  int       `json:"worker_threads,omitempty"`
	LifetimeCgroup string    `json:"lifetime_cgroup,omitempty"`
	Log            LogConfig `json:"log"`

	// Config files applied, in order (not serialized).
	LoadedFrom []string `json:"-"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SinkName:      logrelay.DefaultSinkName,
		WorkerThreads: defaultWorkerThreads,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the settings a relay setup depends on.
func (c *Config) Validate() error {
	if c.CompanionDir == "" {
		return ErrNoCompanionDir
	}

	if c.WorkerThreads <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerThreads, c.WorkerThreads)
	}

	return nil
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	ConfigPath string            // --config flag value
	Env        map[string]string // Environment variables (for XDG_CONFIG_HOME)
}

// LoadConfig loads configuration with the following precedence (later overrides earlier):
//  1. Built-in defaults
//  2. Global config: $XDG_CONFIG_HOME/logrelay/config.json or config.jsonc
//     (defaults to ~/.config/logrelay/) - loaded if it exists
//  3. --config path, if given - must exist
//
// Both .json and .jsonc files support comments via tailscale/hujson.
// If both .json and .jsonc exist at the same location, it's an error.
func LoadConfig(input LoadConfigInput) (Config, error) {
	cfg := DefaultConfig()

	globalConfigBasePath, err := getUserConfigBasePath(input.Env)
	if err != nil {
		return Config{}, err
	}

	globalConfigPath, findErr := findConfigFile(globalConfigBasePath)
	if findErr == nil {
		globalCfg, loadErr := loadConfigFile(globalConfigPath)
		if loadErr != nil {
			return Config{}, loadErr
		}

		cfg = mergeConfigs(&cfg, &globalCfg)
		cfg.LoadedFrom = append(cfg.LoadedFrom, globalConfigPath)
	} else if !errors.Is(findErr, os.ErrNotExist) {
		return Config{}, findErr
	}

	if input.ConfigPath != "" {
		configPath, err := filepath.Abs(input.ConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("resolving config path %s: %w", input.ConfigPath, err)
		}

		explicitCfg, err := loadConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}

		cfg = mergeConfigs(&cfg, &explicitCfg)
		cfg.LoadedFrom = append(cfg.LoadedFrom, configPath)
	}

	return cfg, nil
}

// findConfigFile finds a config file at basePath (without extension).
// It checks for both .json and .jsonc and returns an error if both exist.
func findConfigFile(basePath string) (string, error) {
	jsonPath := basePath + ".json"
	jsoncPath := basePath + ".jsonc"

	jsonExists, err := fileExists(jsonPath)
	if err != nil {
		return "", err
	}

	jsoncExists, err := fileExists(jsoncPath)
	if err != nil {
		return "", err
	}

	if jsonExists && jsoncExists {
		return "", fmt.Errorf("%w: both %s and %s exist; remove one", ErrDuplicateConfigFiles, jsonPath, jsoncPath)
	}

	if jsonExists {
		return jsonPath, nil
	}

	if jsoncExists {
		return jsoncPath, nil
	}

	return "", os.ErrNotExist
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("checking file %s: %w", path, err)
	}

	return !info.IsDir(), nil
}

// loadConfigFile loads and parses a JSON/JSONC config file.
func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// mergeConfigs merges override into base, with override taking precedence.
// Empty/zero values in override do not override base values.
func mergeConfigs(base, override *Config) Config {
	result := *base

	if override.CompanionDir != "" {
		result.CompanionDir = override.CompanionDir
	}

	if override.SinkName != "" {
		result.SinkName = override.SinkName
	}

	if override.WorkerThreads != 0 {
		result.WorkerThreads = override.WorkerThreads
	}

	if override.LifetimeCgroup != "" {
		result.LifetimeCgroup = override.LifetimeCgroup
	}

	if override.Log.Level != "" {
		result.Log.Level = override.Log.Level
	}

	if override.Log.Format != "" {
		result.Log.Format = override.Log.Format
	}

	return result
}

// getUserConfigBasePath returns the user config base path (without extension).
// Uses env map for XDG_CONFIG_HOME instead of os.Getenv().
func getUserConfigBasePath(env map[string]string) (string, error) {
	if xdg, ok := env["XDG_CONFIG_HOME"]; ok && xdg != "" {
		return filepath.Join(xdg, "logrelay", "config"), nil
	}

	if home, ok := env["HOME"]; ok && home != "" {
		return filepath.Join(home, ".config", "logrelay", "config"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, ".config", "logrelay", "config"), nil
}
