package config

import "time"

// ToolsConfig controls tool policy and execution behavior (spec.md §4.C/§4.D).
type ToolsConfig struct {
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls runtime tool execution behavior (spec.md
// §4.F/§4.H: max iterations, tool-call cap, and the Approval Gate's risk
// policy).
type ToolExecutionConfig struct {
	MaxIterations   int            `yaml:"max_iterations"`
	Parallelism     int            `yaml:"parallelism"`
	Timeout         time.Duration  `yaml:"timeout"`
	MaxAttempts     int            `yaml:"max_attempts"`
	RetryBackoff    time.Duration  `yaml:"retry_backoff"`
	MaxToolCalls    int            `yaml:"max_tool_calls"`
	RequireApproval []string       `yaml:"require_approval"`
	Approval        ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig controls the Approval Gate's risk policy (spec.md §4.D).
type ApprovalConfig struct {
	// AlwaysApprove patterns resolve to the lowest risk tier, taking
	// priority over the dangerous-name/arg heuristics below.
	AlwaysApprove []string `yaml:"always_approve"`

	// NeverApprove patterns resolve to the lowest risk tier.
	NeverApprove []string `yaml:"never_approve"`

	// DangerousNamePatterns mark a tool name as high risk (default:
	// delete, remove, drop).
	DangerousNamePatterns []string `yaml:"dangerous_name_patterns"`

	// DangerousArgPatterns mark an argument value as elevated risk
	// (default: --force, -rf, --no-verify).
	DangerousArgPatterns []string `yaml:"dangerous_arg_patterns"`

	// RiskThreshold is the minimum risk level ("low", "moderate", "high",
	// "critical") that the gate requires approval for.
	RiskThreshold string `yaml:"risk_threshold"`

	// RequestTTL is how long a pending approval request remains valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}
