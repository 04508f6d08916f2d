// Package config loads and validates the runtime's configuration file: the
// sections the Agent Execution Core actually drives (LLM, Tools, MCP,
// Session/Budget, Logging, Subagent), trimmed from the teacher's far larger
// config.Config down to this module's scope.
package config

import (
	"fmt"

	"github.com/agentkit/runtime/internal/clock"
	"github.com/agentkit/runtime/internal/mcp"
)

// Config is the root configuration structure for the agent runtime.
type Config struct {
	Version int `yaml:"version"`

	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	MCP      mcp.Config     `yaml:"mcp"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Subagent SubagentConfig `yaml:"subagent"`
	Policy   PolicyConfig   `yaml:"policy"`
}

// Load reads, resolves $include directives in, and decodes a configuration
// file at path, expanding ${VAR} environment references first (matching the
// teacher's loader behavior) and rejecting unknown fields.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs version validation, any registered plugin validator, and a
// handful of structural sanity checks.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	if c.Tools.Execution.MaxIterations < 0 {
		return fmt.Errorf("config: tools.execution.max_iterations must be >= 0")
	}
	if c.Session.Budget.Preset != "" {
		switch c.Session.Budget.Preset {
		case clock.PresetQuick, clock.PresetStandard, clock.PresetSubagent, clock.PresetLarge, clock.PresetUnlimited:
		default:
			return fmt.Errorf("config: session.budget.preset %q is not a recognized preset", c.Session.Budget.Preset)
		}
	}
	if c.Policy.DefaultProfile != "" {
		if _, ok := c.Policy.Profiles[c.Policy.DefaultProfile]; !ok {
			return fmt.Errorf("config: policy.default_profile %q has no matching profile", c.Policy.DefaultProfile)
		}
	}

	if issues := pluginValidationIssues(c); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}

	return nil
}

// ValidationError aggregates structural issues found by plugin validators.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config: validation failed"
	}
	msg := "config: validation failed:"
	for _, issue := range e.Issues {
		msg += "\n  - " + issue
	}
	return msg
}
