// Package config loads the optional YAML defaults file this server
// accepts via --config. CLI flags always override whatever the file
// carries; ApplyDefaults fills the rest and Validate rejects unusable
// combinations, the same Load/ApplyDefaults/Validate shape the rest of
// this codebase's tooling uses for its own configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional file-backed half of the server's configuration.
// Every field except GetackRateHz and ReconnectEvery has a CLI-flag
// counterpart in internal/cli; those two are set only from the file. A
// zero value here means "let the flag (or its own default) decide".
type Config struct {
	Port       int    `yaml:"port"`
	ReplicaOf  string `yaml:"replicaOf"`
	Dir        string `yaml:"dir"`
	DBFilename string `yaml:"dbFilename"`

	Logging LoggingConfig `yaml:"logging"`

	SaveEvery      string  `yaml:"saveEvery"`
	SnapshotCodec  string  `yaml:"snapshotCodec"`
	S3Bucket       string  `yaml:"s3Bucket"`
	S3Prefix       string  `yaml:"s3Prefix"`
	GetackRateHz   float64 `yaml:"getackRateHz"`
	ReconnectEvery string  `yaml:"reconnectEvery"`

	path string
}

// LoggingConfig mirrors the teacher's Log section: a directory and a
// level name, parsed into a logger.Level by the caller.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.path = path
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields with the server's defaults,
// matching spec.md §6's documented CLI defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.SnapshotCodec == "" {
		c.SnapshotCodec = "zstd"
	}
	if c.GetackRateHz == 0 {
		c.GetackRateHz = 20
	}
	if c.ReconnectEvery == "" {
		c.ReconnectEvery = "1s"
	}
}

// Validate rejects combinations that cannot be acted on.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.SnapshotCodec {
	case "gzip", "zstd":
	default:
		return fmt.Errorf("config: snapshotCodec must be gzip or zstd, got %q", c.SnapshotCodec)
	}
	if c.SaveEvery != "" {
		if _, err := time.ParseDuration(c.SaveEvery); err != nil {
			return fmt.Errorf("config: saveEvery: %w", err)
		}
	}
	if _, err := time.ParseDuration(c.ReconnectEvery); err != nil {
		return fmt.Errorf("config: reconnectEvery: %w", err)
	}
	if c.S3Bucket == "" && c.S3Prefix != "" {
		return fmt.Errorf("config: s3Prefix set without s3Bucket")
	}
	return nil
}

// SaveEveryDuration parses SaveEvery, returning 0 (disabled) if unset.
func (c *Config) SaveEveryDuration() time.Duration {
	if c.SaveEvery == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.SaveEvery)
	return d
}

// ReconnectEveryDuration parses ReconnectEvery, falling back to 1s.
func (c *Config) ReconnectEveryDuration() time.Duration {
	d, err := time.ParseDuration(c.ReconnectEvery)
	if err != nil {
		return time.Second
	}
	return d
}

// ConfigDir returns the directory the config file itself lives in, or
// "." when no file was loaded. Relative dir/dbFilename values are not
// resolved against it; they are used as given.
func (c *Config) ConfigDir() string {
	if c.path == "" {
		return "."
	}
	return dirOf(c.path)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
