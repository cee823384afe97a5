package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Logging  LoggingConfig          `yaml:"logging"`
	Sessions SessionsConfig         `yaml:"sessions"`
	Batch    BatchConfig            `yaml:"batch"`
	Secrets  SecretsConfig          `yaml:"secrets"`
	Journal  JournalConfig          `yaml:"journal"`
	Agents   map[string]AgentConfig `yaml:"agents"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type SessionsConfig struct {
	// MaxConcurrent caps live sessions across all workspaces.
	MaxConcurrent int `yaml:"max_concurrent"`

	// KillGrace is how long a graceful terminate may take before the
	// controller escalates to SIGKILL.
	KillGrace string `yaml:"kill_grace"`

	InitialRows uint16 `yaml:"initial_rows"`
	InitialCols uint16 `yaml:"initial_cols"`
}

type BatchConfig struct {
	// Interval is the max age of buffered output before a flush.
	Interval string `yaml:"interval"`

	// ThresholdBytes flushes immediately once this much output is buffered.
	ThresholdBytes int `yaml:"threshold_bytes"`

	// MaxPendingBytes bounds the per-session queue of unsent batches; the
	// oldest batch is dropped past this point.
	MaxPendingBytes int `yaml:"max_pending_bytes"`
}

type SecretsConfig struct {
	// File is the JSON credential store injected into spawn environments.
	File string `yaml:"file"`

	// Watch reloads the store when the file changes on disk.
	Watch bool `yaml:"watch"`
}

type JournalConfig struct {
	// SQLitePath is the session journal database. Empty disables journaling.
	SQLitePath string `yaml:"sqlite_path"`
}

// AgentConfig describes one launchable agent CLI.
type AgentConfig struct {
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	Models       []string          `yaml:"models"`
	DefaultModel string            `yaml:"default_model"`
	ModelFlag    string            `yaml:"model_flag"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:7420",
			ReadTimeout:  "30s",
			WriteTimeout: "30s",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Sessions: SessionsConfig{
			MaxConcurrent: 8,
			KillGrace:     "3s",
			InitialRows:   40,
			InitialCols:   120,
		},
		Batch: BatchConfig{
			Interval:        "16ms",
			ThresholdBytes:  4096,
			MaxPendingBytes: 64 * 1024,
		},
		Secrets: SecretsConfig{
			File:  filepath.Join(defaultStateDir(), "secrets.json"),
			Watch: true,
		},
		Journal: JournalConfig{
			SQLitePath: filepath.Join(defaultStateDir(), "journal.db"),
		},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude", ModelFlag: "--model"},
			"codex":  {Command: "codex", ModelFlag: "--model"},
			"gemini": {Command: "gemini", ModelFlag: "--model"},
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdeck"
	}
	return filepath.Join(home, ".agentdeck")
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Sessions.MaxConcurrent <= 0 {
		return fmt.Errorf("sessions.max_concurrent must be positive")
	}
	if c.Batch.ThresholdBytes <= 0 {
		return fmt.Errorf("batch.threshold_bytes must be positive")
	}
	if c.Batch.MaxPendingBytes < c.Batch.ThresholdBytes {
		return fmt.Errorf("batch.max_pending_bytes must be >= batch.threshold_bytes")
	}
	for _, field := range []struct{ name, val string }{
		{"sessions.kill_grace", c.Sessions.KillGrace},
		{"batch.interval", c.Batch.Interval},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
	} {
		if field.val == "" {
			continue
		}
		if _, err := time.ParseDuration(field.val); err != nil {
			return fmt.Errorf("parse %s: %w", field.name, err)
		}
	}
	for name, a := range c.Agents {
		if a.Command == "" {
			return fmt.Errorf("agent %q: command is required", name)
		}
	}
	return nil
}

// Duration parses a duration field that Validate has already vetted,
// falling back to def when unset or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
