package config

import "dbtforge/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string          `yaml:"format" validate:"omitempty,oneof=json console"`
	File       string          `yaml:"file"`
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = errors only
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// Options converts the YAML shape into logging.Options.
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
	}
}
