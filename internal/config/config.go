// Package config loads the service configuration file and reads the
// recognized environment variables exactly once at startup.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/doubleagent/harness/internal/relational"
)

type Config struct {
	Service     ServiceConfig            `yaml:"service"`
	Webhooks    WebhooksConfig           `yaml:"webhooks"`
	Idempotency IdempotencyConfig        `yaml:"idempotency"`
	Seeding     relational.SeedingConfig `yaml:"seeding"`
}

type ServiceConfig struct {
	Name            string `yaml:"name"`
	Version         string `yaml:"version"`
	Port            string `yaml:"port"`
	NamespaceHeader string `yaml:"namespace_header"`
	RequestIDHeader string `yaml:"request_id_header"`
}

type WebhooksConfig struct {
	Workers         int      `yaml:"workers"`
	MaxRetries      int      `yaml:"max_retries"`
	RetryDelaysSecs []int    `yaml:"retry_delays_secs"`
	AttemptTimeout  int      `yaml:"attempt_timeout_secs"`
	AllowHosts      []string `yaml:"allow_hosts"`
}

type IdempotencyConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// Env is the process environment snapshot, taken once at startup and
// threaded into constructors rather than read ad hoc.
type Env struct {
	Port         string
	SnapshotsDir string
	Strict       bool
	DualTarget   bool
	RedisAddr    string
}

// ReadEnv captures the recognized environment variables.
func ReadEnv() Env {
	e := Env{
		Port:         os.Getenv("PORT"),
		SnapshotsDir: os.Getenv("DOUBLEAGENT_SNAPSHOTS_DIR"),
		Strict:       os.Getenv("DOUBLEAGENT_COMPLIANCE_MODE") == "strict",
		DualTarget:   os.Getenv("DOUBLEAGENT_DUAL_TARGET") != "",
		RedisAddr:    os.Getenv("REDIS_ADDR"),
	}
	if e.SnapshotsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		e.SnapshotsDir = filepath.Join(home, ".doubleagent", "snapshots")
	}
	return e
}

// Load reads a yaml config file and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "doubleagent"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}
	if c.Service.Port == "" {
		c.Service.Port = "8080"
	}
	if c.Service.NamespaceHeader == "" {
		c.Service.NamespaceHeader = "X-DoubleAgent-Namespace"
	}
	if c.Service.RequestIDHeader == "" {
		c.Service.RequestIDHeader = "X-Request-Id"
	}
	if c.Webhooks.Workers == 0 {
		c.Webhooks.Workers = 4
	}
	if c.Webhooks.MaxRetries == 0 {
		c.Webhooks.MaxRetries = 3
	}
	if len(c.Webhooks.RetryDelaysSecs) == 0 {
		c.Webhooks.RetryDelaysSecs = []int{1, 5, 30}
	}
	if c.Webhooks.AttemptTimeout == 0 {
		c.Webhooks.AttemptTimeout = 5
	}
}
