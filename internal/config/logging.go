package config

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	EnvLoggingLevel  = "SITEGRAPH_LOG_LEVEL"
	EnvLoggingFormat = "SITEGRAPH_LOG_FORMAT"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LoggingConfig selects the root logger's level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SlogLevel returns Level as a slog.Level.
func (c *LoggingConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *LoggingConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *LoggingConfig) Merge(overlay *LoggingConfig) {
	if overlay.Level != "" {
		c.Level = overlay.Level
	}
	if overlay.Format != "" {
		c.Format = overlay.Format
	}
}

func (c *LoggingConfig) loadDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = LogFormatText
	}
}

func (c *LoggingConfig) loadEnv() {
	envString(EnvLoggingLevel, &c.Level)
	envString(EnvLoggingFormat, &c.Format)
	c.Format = strings.ToLower(c.Format)
}

func (c *LoggingConfig) validate() error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.Format != LogFormatText && c.Format != LogFormatJSON {
		return fmt.Errorf("invalid format %q", c.Format)
	}
	return nil
}
