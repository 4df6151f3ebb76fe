// Package config loads compass configuration from a YAML file with
// environment overrides for credentials. Everything has a working
// default, so a missing config file is not an error: the assistant runs
// with mock data collection and the stub LLM out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file looked up under the base directory.
const DefaultFileName = "compass.yaml"

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	// BaseDir roots all state. Defaults to ~/.compass.
	BaseDir string `yaml:"base_dir"`
}

// CacheConfig tunes the result cache.
type CacheConfig struct {
	Dir        string        `yaml:"dir"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// MemoryConfig tunes the per-user memory store.
type MemoryConfig struct {
	Dir          string `yaml:"dir"`
	HistoryBound int    `yaml:"history_bound"`
}

// LLMConfig carries backend credentials. Keys are normally supplied via
// environment variables rather than the file.
type LLMConfig struct {
	CerebrasAPIKey string `yaml:"cerebras_api_key"`
	GroqAPIKey     string `yaml:"groq_api_key"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
}

// ScrapeConfig selects the data collector.
type ScrapeConfig struct {
	SearchAPIKey string `yaml:"searchapi_key"`
	// UseMock forces the deterministic collector even when a key is set.
	UseMock bool `yaml:"use_mock"`
}

// SessionConfig tunes the conversation loop.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	DataDir string        `yaml:"data_dir"`
}

// Config is the full application configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Memory  MemoryConfig  `yaml:"memory"`
	LLM     LLMConfig     `yaml:"llm"`
	Scrape  ScrapeConfig  `yaml:"scrape"`
	Session SessionConfig `yaml:"session"`
}

// Default returns the configuration used when no file is present. Dir
// fields left empty are resolved against the base directory by Load.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			TTL:        24 * time.Hour,
			MaxEntries: 100,
		},
		Memory: MemoryConfig{
			HistoryBound: 50,
		},
		Session: SessionConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads the config file at path, layering it over the defaults and
// then applying environment overrides. An empty path means
// <base-dir>/compass.yaml; a missing file is fine, a malformed one is
// not.
func Load(path string) (Config, error) {
	cfg := Default()

	if cfg.Storage.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("config: resolve home directory: %w", err)
		}
		cfg.Storage.BaseDir = filepath.Join(home, ".compass")
	}

	if path == "" {
		path = filepath.Join(cfg.Storage.BaseDir, DefaultFileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.resolveDirs()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override credentials, so keys stay
// out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CEREBRAS_API_KEY"); v != "" {
		c.LLM.CerebrasAPIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.LLM.GroqAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("SEARCHAPI_API_KEY"); v != "" {
		c.Scrape.SearchAPIKey = v
	}
}

// resolveDirs fills unset directories in relative to the base directory.
func (c *Config) resolveDirs() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.Storage.BaseDir, "cache")
	}
	if c.Memory.Dir == "" {
		c.Memory.Dir = filepath.Join(c.Storage.BaseDir, "memory")
	}
	if c.Session.DataDir == "" {
		c.Session.DataDir = filepath.Join(c.Storage.BaseDir, "datasets")
	}
}

func (c *Config) validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("config: cache max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Memory.HistoryBound <= 0 {
		return fmt.Errorf("config: memory history_bound must be positive, got %d", c.Memory.HistoryBound)
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("config: session timeout must be positive, got %s", c.Session.Timeout)
	}
	return nil
}
