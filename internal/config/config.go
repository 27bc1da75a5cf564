// Package config loads the close-ops configuration file and resolves the
// Close API key for the selected environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Env selects the Close organization to operate on ("dev" or "prod").
	Env string `yaml:"env"`

	// APIKeys maps environment names to Close API keys. Environment
	// variables take precedence over this file, see APIKey.
	APIKeys map[string]string `yaml:"api_keys"`

	// MaxConcurrency bounds parallel requests in batch operations.
	MaxConcurrency int `yaml:"max_concurrency"`

	Redis  RedisConfig  `yaml:"redis"`
	HTTP   HTTPConfig   `yaml:"http"`
	Export ExportConfig `yaml:"export"`
	Jobs   []JobConfig  `yaml:"jobs"`
}

// RedisConfig holds the optional shared-state Redis settings. With no Addr
// the tool runs with process-local rate limit state and no schema cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HTTPConfig holds the run daemon's listen settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ExportConfig holds export output settings.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// JobConfig schedules one command for the run daemon.
type JobConfig struct {
	// Name labels the job in logs.
	Name string `yaml:"name"`

	// Schedule is a cron expression, e.g. "0 6 * * MON".
	Schedule string `yaml:"schedule"`

	// Command is the close-ops subcommand to run.
	Command string `yaml:"command"`

	// Args are extra arguments for the subcommand.
	Args []string `yaml:"args"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Env:            "dev",
		APIKeys:        map[string]string{},
		MaxConcurrency: 10,
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:9641",
		},
		Export: ExportConfig{
			Dir: "output",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Export.Dir = ExpandPath(cfg.Export.Dir)

	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("env %q: must be dev or prod", cfg.Env)
	}

	return cfg, nil
}

// APIKey resolves the Close API key for the configured environment. An
// explicit flag value wins, then CLOSE_API_KEY_<ENV>, then the config file.
func (c *Config) APIKey(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	envVar := "CLOSE_API_KEY_" + strings.ToUpper(c.Env)
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}

	if key := c.APIKeys[c.Env]; key != "" {
		return key, nil
	}

	return "", fmt.Errorf("no Close API key for env %q: pass --api-key, set %s, or add api_keys.%s to the config file", c.Env, envVar, c.Env)
}

// RedisClient builds a Redis client from the config, or nil when no Redis
// is configured.
func (c *Config) RedisClient() *redis.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "close-ops", "config.yaml")
}
