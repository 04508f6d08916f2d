package config

import (
	"github.com/agentkit/runtime/internal/clock"
)

// EffectiveBudgetConfig resolves a BudgetConfig into a clock.Config, starting
// from the named preset and applying any explicit overrides, mirroring
// EffectiveContextPruningSettings' preset-plus-overrides shape.
func EffectiveBudgetConfig(cfg BudgetConfig) clock.Config {
	preset := cfg.Preset
	if preset == "" {
		preset = clock.PresetStandard
	}
	c := clock.Preset(preset)

	if cfg.TokensSoft != nil {
		c.Tokens.Soft = *cfg.TokensSoft
	}
	if cfg.TokensHard != nil {
		c.Tokens.Hard = *cfg.TokensHard
	}
	if cfg.CostSoft != nil {
		c.Cost.Soft = *cfg.CostSoft
	}
	if cfg.CostHard != nil {
		c.Cost.Hard = *cfg.CostHard
	}
	if cfg.DurationSoft != nil {
		c.Duration.Soft = float64(*cfg.DurationSoft)
	}
	if cfg.DurationHard != nil {
		c.Duration.Hard = float64(*cfg.DurationHard)
	}
	if cfg.IterationsSoft != nil {
		c.Iterations.Soft = *cfg.IterationsSoft
	}
	if cfg.IterationsHard != nil {
		c.Iterations.Hard = *cfg.IterationsHard
	}
	if cfg.TargetIterations != nil {
		c.TargetIterations = *cfg.TargetIterations
	}
	if cfg.ExtensionFactor != nil {
		c.ExtensionFactor = *cfg.ExtensionFactor
	}

	return c
}
