package logger

import "fmt"

// Config represents logging configuration
type Config struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // console or json on stdout
	File       string `mapstructure:"file"`        // rotated JSON log, empty disables it
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns console logging at info level
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "console",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

// SetDefaults returns a copy with unset fields filled in
func (cfg *Config) SetDefaults() *Config {
	out := *cfg
	def := DefaultConfig()
	if out.Level == "" {
		out.Level = def.Level
	}
	if out.Format == "" {
		out.Format = def.Format
	}
	if out.MaxSize == 0 {
		out.MaxSize = def.MaxSize
	}
	if out.MaxBackups == 0 {
		out.MaxBackups = def.MaxBackups
	}
	if out.MaxAge == 0 {
		out.MaxAge = def.MaxAge
	}
	return &out
}

// Validate validates logging configuration
func (cfg *Config) Validate() error {
	if cfg.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive")
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	switch cfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	return nil
}
