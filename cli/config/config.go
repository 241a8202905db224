package config

import (
	"fmt"
	"time"
)

// Config represents a cairn.yaml configuration file.
// All values are optional and act as defaults for cairn serve flags.
// CLI flags always override config values.
type Config struct {
	Listen       string          `yaml:"listen"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	Concurrency  int             `yaml:"concurrency"`
	Storage      StorageConfig   `yaml:"storage"`
	Adapters     []AdapterConfig `yaml:"adapters,omitempty"`
}

// StorageConfig holds content store defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig is a completion adapter definition within the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage backend s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want s3 or memory)", c.Storage.Backend)
	}

	for i, a := range c.Adapters {
		switch a.Type {
		case "redis", "webhook":
			if a.URL == "" {
				return fmt.Errorf("adapter %d (%s) requires a url", i, a.Type)
			}
		default:
			return fmt.Errorf("adapter %d has unknown type %q (want redis or webhook)", i, a.Type)
		}
	}
	return nil
}
