// Package config holds watcher configuration with YAML file loading and
// tag-driven defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HistorySize    uint32        `yaml:"history_size" default:"4096"`
	PTYBufferSize  int           `yaml:"pty_buffer_size" default:"65536"`
	Colorize       bool          `yaml:"colorize" default:"true"`
	SummaryOnExit  bool          `yaml:"summary_on_exit" default:"false"`
}

// Default returns the configuration with all defaults applied.
// Durations are set here; the defaults tag only covers scalar kinds.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	c.ScanTimeout = 10 * time.Second
	c.ConnectTimeout = 30 * time.Second
	return c
}

// Load reads a YAML config file over the defaults. An empty path
// returns Default unchanged.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return nil, fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	return c, nil
}

// NewLogger creates a logger configured per LogLevel.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
