package config

import "github.com/NicabarNimble/patina-sub001/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`                     // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`                   // json, console
	File       string          `yaml:"file,omitempty" json:"file,omitempty"`             // optional log file; stderr when empty
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"`           // Master toggle - false = no logging
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false.
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// LoggerConfig converts to the logging package's configuration.
func (c *LoggingConfig) LoggerConfig() logging.Config {
	out := logging.Config{
		DebugMode:  c.DebugMode,
		Level:      c.Level,
		Format:     c.Format,
		Categories: c.Categories,
	}
	if c.File != "" {
		out.OutputPaths = []string{c.File}
	}
	return out
}
