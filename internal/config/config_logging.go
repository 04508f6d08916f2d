package config

import "github.com/agentkit/runtime/internal/observability"

// LoggingConfig controls the structured logger every component logs
// through (AMBIENT STACK: Logging).
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// EffectiveLogConfig converts LoggingConfig into observability.LogConfig.
func EffectiveLogConfig(cfg LoggingConfig) observability.LogConfig {
	return observability.LogConfig{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.RedactPatterns,
	}
}
