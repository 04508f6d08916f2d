package config

import "github.com/agentkit/runtime/internal/approval"

// EffectiveRiskPolicy converts ApprovalConfig into the RiskPolicy the
// Approval Gate consults, falling back to approval.DefaultRiskPolicy for any
// zero-valued field (spec.md §4.D).
func EffectiveRiskPolicy(cfg ApprovalConfig) approval.RiskPolicy {
	policy := approval.DefaultRiskPolicy()

	if len(cfg.AlwaysApprove) > 0 {
		policy.AlwaysApprovePatterns = cfg.AlwaysApprove
	}
	if len(cfg.NeverApprove) > 0 {
		policy.NeverApprovePatterns = cfg.NeverApprove
	}
	if len(cfg.DangerousNamePatterns) > 0 {
		policy.DangerousNamePatterns = cfg.DangerousNamePatterns
	}
	if len(cfg.DangerousArgPatterns) > 0 {
		policy.DangerousArgPatterns = cfg.DangerousArgPatterns
	}
	if cfg.RiskThreshold != "" {
		policy.RiskThreshold = approval.Risk(cfg.RiskThreshold)
	}

	return policy
}
