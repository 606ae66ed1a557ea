package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverlay lists the environment variables that override file values.
type envOverlay struct {
	Token    string   `env:"BOT_TOKEN"`
	DBPath   string   `env:"CLASSBOT_DB_PATH"`
	Timezone string   `env:"CLASSBOT_TIMEZONE"`
	Admins   []string `env:"CLASSBOT_ADMINS" envSeparator:","`
	LogLevel string   `env:"CLASSBOT_LOG_LEVEL"`
}

// Load reads path (JSON or YAML, chosen by extension), overlays the
// environment, fills defaults and validates. An empty path configures the
// bot from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(path, b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg = *parsed
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes data strictly: unknown keys and trailing data are errors.
func Parse(path string, data []byte) (*Config, error) {
	jb := data
	if isYAML(path) {
		var err error
		if jb, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides file values with any set environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverlay
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Token != "" {
		c.Telegram.Token = o.Token
	}
	if o.DBPath != "" {
		c.Storage.Path = o.DBPath
	}
	if o.Timezone != "" {
		c.Timezone = o.Timezone
	}
	if len(o.Admins) > 0 {
		c.Admins = o.Admins
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	return nil
}
