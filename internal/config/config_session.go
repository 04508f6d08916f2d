package config

import "time"

// SessionConfig controls Thread persistence and the Clock & Budget defaults
// a new session starts with (spec.md §4.A/§4.I).
type SessionConfig struct {
	// MaxCheckpoints bounds how many checkpoints internal/thread.Manager
	// retains per session before evicting the oldest.
	MaxCheckpoints int `yaml:"max_checkpoints"`

	Budget         BudgetConfig         `yaml:"budget"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
	CheckpointGC   CheckpointGCConfig   `yaml:"checkpoint_gc"`
	Persistence    PersistenceConfig    `yaml:"persistence"`
}

// PersistenceConfig selects the internal/thread.CheckpointStore backend
// that durably records checkpoints alongside the Manager's in-memory
// retention (spec.md §6). Empty Driver disables persistence.
type PersistenceConfig struct {
	// Driver is "sqlite" or "postgres". Empty means no durable store.
	Driver string `yaml:"driver"`
	// DSN is the SQLite file path or the Postgres connection string,
	// depending on Driver.
	DSN string `yaml:"dsn"`
}

// CheckpointGCConfig configures internal/thread.GC's periodic sweep.
type CheckpointGCConfig struct {
	// Schedule is a standard 5-field cron expression (or "@every 1h"-style
	// descriptor). Empty disables the sweep.
	Schedule string `yaml:"schedule"`
	// MaxAge is how long a non-latest checkpoint survives before a sweep
	// prunes it.
	MaxAge time.Duration `yaml:"max_age"`
}

// BudgetConfig selects a named clock.Preset and optionally overrides
// individual limit dimensions (spec.md §6 "Budget presets").
type BudgetConfig struct {
	// Preset names one of clock's five presets: quick, standard, subagent,
	// large, unlimited. Defaults to "standard" when empty.
	Preset string `yaml:"preset"`

	TokensSoft     *float64       `yaml:"tokens_soft"`
	TokensHard     *float64       `yaml:"tokens_hard"`
	CostSoft       *float64       `yaml:"cost_soft"`
	CostHard       *float64       `yaml:"cost_hard"`
	DurationSoft   *time.Duration `yaml:"duration_soft"`
	DurationHard   *time.Duration `yaml:"duration_hard"`
	IterationsSoft *float64       `yaml:"iterations_soft"`
	IterationsHard *float64       `yaml:"iterations_hard"`

	// TargetIterations is the advisory iteration count used by progress
	// nudging (spec.md §4.A).
	TargetIterations *int `yaml:"target_iterations"`

	// ExtensionFactor scales the budget when a request_extension verdict is
	// granted. Defaults to 1.5.
	ExtensionFactor *float64 `yaml:"extension_factor"`
}

// ContextPruningConfig controls in-memory tool result pruning for sessions.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
