package config

// SubagentConfig controls internal/subagent.Manager's concurrency cap
// (spec.md §5 Design Notes, AgentRegistry).
type SubagentConfig struct {
	// MaxActive caps concurrent in-flight child runs. <= 0 defaults to 5,
	// matching internal/subagent.New's own default.
	MaxActive int `yaml:"max_active"`
}
