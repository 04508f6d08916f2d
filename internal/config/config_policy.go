package config

import "github.com/agentkit/runtime/internal/policy"

// PolicyConfig configures the Policy Engine's named profiles (spec.md §4.C
// "Profile model").
type PolicyConfig struct {
	DefaultProfile string                    `yaml:"default_profile"`
	Profiles       map[string]ProfileConfig `yaml:"profiles"`
}

// ProfileConfig is the yaml-decodable mirror of policy.Profile. ToolRule
// argument conditions aren't expressible in yaml; only the per-tool default
// decision is configurable here.
type ProfileConfig struct {
	ToolAccessMode         string                `yaml:"tool_access_mode"`
	AllowedTools           []string              `yaml:"allowed_tools"`
	DeniedTools            []string              `yaml:"denied_tools"`
	ToolDefaults           map[string]string     `yaml:"tool_defaults"`
	BashMode               string                `yaml:"bash_mode"`
	BashWriteProtection    string                `yaml:"bash_write_protection"`
	BlockedCommandPatterns []string              `yaml:"blocked_command_patterns"`
	AllowlistPrefixes      []string              `yaml:"allowlist_prefixes"`
	AllowedPaths           []string              `yaml:"allowed_paths"`
	Approval               ApprovalScopeConfig   `yaml:"approval"`
}

// ApprovalScopeConfig mirrors policy.ApprovalSettings.
type ApprovalScopeConfig struct {
	AutoApprove     []string `yaml:"auto_approve"`
	ScopedApprove   []string `yaml:"scoped_approve"`
	RequireApproval []string `yaml:"require_approval"`
}

// EffectiveProfiles converts PolicyConfig into the map internal/policy.Engine
// expects, keyed by profile name.
func EffectiveProfiles(cfg PolicyConfig) map[string]*policy.Profile {
	out := make(map[string]*policy.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		out[name] = effectiveProfile(name, p)
	}
	return out
}

func effectiveProfile(name string, p ProfileConfig) *policy.Profile {
	rules := make(map[string]policy.ToolRule, len(p.ToolDefaults))
	for tool, decision := range p.ToolDefaults {
		rules[tool] = policy.ToolRule{Tool: tool, Default: policy.Decision(decision)}
	}

	return &policy.Profile{
		Name:                   name,
		ToolAccessMode:         policy.ToolAccessMode(p.ToolAccessMode),
		AllowedTools:           p.AllowedTools,
		DeniedTools:            p.DeniedTools,
		ToolRules:              rules,
		BashMode:               policy.BashMode(p.BashMode),
		BashWriteProtection:    policy.BashWriteProtection(p.BashWriteProtection),
		BlockedCommandPatterns: p.BlockedCommandPatterns,
		AllowlistPrefixes:      p.AllowlistPrefixes,
		AllowedPaths:           p.AllowedPaths,
		Approval: policy.ApprovalSettings{
			AutoApprove:     p.Approval.AutoApprove,
			ScopedApprove:   p.Approval.ScopedApprove,
			RequireApproval: p.Approval.RequireApproval,
		},
	}
}
