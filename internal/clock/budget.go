// Package clock implements the Clock & Budget component: monotonic time
// accounting, pausable duration, and the token/cost/iteration counters the
// Iteration Scheduler consults before every turn.
//
// Grounded on the teacher's internal/usage package's Usage/Cost counter
// model (now inlined into pricing.go's Cost type rather than kept as a
// separate dependency), generalized with the hard/soft limit pairs and
// Verdict algorithm the scheduler needs.
package clock

import (
	"sync"
	"time"
)

// SuggestedAction is the scheduler-facing recommendation a Verdict carries.
type SuggestedAction string

const (
	ActionContinue         SuggestedAction = "continue"
	ActionWarn             SuggestedAction = "warn"
	ActionRequestExtension SuggestedAction = "request_extension"
	ActionStop             SuggestedAction = "stop"
)

// BudgetType names which dimension triggered a Verdict, for UI/log display.
type BudgetType string

const (
	BudgetTokens     BudgetType = "tokens"
	BudgetCost       BudgetType = "cost"
	BudgetDuration   BudgetType = "duration"
	BudgetIterations BudgetType = "iterations"
)

// Limit is a two-tier limit pair for one budget dimension. Invariant:
// Soft <= Hard whenever both are set (0 means "no limit" for that tier).
type Limit struct {
	Soft float64
	Hard float64
}

func (l Limit) hardExceeded(value float64) bool {
	return l.Hard > 0 && value >= l.Hard
}

func (l Limit) softExceeded(value float64) bool {
	return l.Soft > 0 && value >= l.Soft
}

func (l Limit) percentOfHard(value float64) float64 {
	if l.Hard <= 0 {
		return 0
	}
	return value / l.Hard * 100
}

// Config bundles every limit dimension plus the advisory iteration target.
type Config struct {
	Tokens          Limit
	Cost            Limit
	Duration        Limit // nanoseconds, stored as float64 for Limit reuse
	Iterations      Limit
	TargetIterations int
	ExtensionFactor float64 // default 1.5
}

// Preset names, per spec.md §6 "Budget presets".
const (
	PresetQuick    = "quick"
	PresetStandard = "standard"
	PresetSubagent = "subagent"
	PresetLarge    = "large"
	PresetUnlimited = "unlimited"
)

// Preset returns one of the five named budget presets from spec.md §6.
func Preset(name string) Config {
	switch name {
	case PresetQuick:
		return Config{
			Tokens:          Limit{Hard: 50_000},
			Cost:            Limit{Hard: 0.10},
			Duration:        Limit{Hard: float64(60 * time.Second)},
			ExtensionFactor: 1.5,
		}
	case PresetStandard:
		return Config{
			Tokens:          Limit{Hard: 200_000},
			Cost:            Limit{Hard: 0.50},
			Duration:        Limit{Hard: float64(10 * time.Minute)},
			ExtensionFactor: 1.5,
		}
	case PresetSubagent:
		return Config{
			Tokens:          Limit{Soft: 100_000, Hard: 150_000},
			Cost:            Limit{Hard: 0.50},
			Duration:        Limit{Soft: float64(5 * time.Minute), Hard: float64(6 * time.Minute)},
			ExtensionFactor: 1.5,
		}
	case PresetLarge:
		return Config{
			Tokens:          Limit{Hard: 500_000},
			Cost:            Limit{Hard: 2.00},
			Duration:        Limit{Hard: float64(15 * time.Minute)},
			ExtensionFactor: 1.5,
		}
	case PresetUnlimited:
		return Config{ExtensionFactor: 1.5}
	default:
		return Preset(PresetStandard)
	}
}

// Verdict is the structured output of a budget check, consumed by the
// scheduler (spec.md §4.A).
type Verdict struct {
	CanContinue     bool
	IsHardLimit     bool
	IsSoftLimit     bool
	PercentUsed     float64
	SuggestedAction SuggestedAction
	ForceTextOnly   bool
	InjectedPrompt  string
	BudgetType      BudgetType
	Reason          string
}

// ExtensionRequester is the host-supplied handler invoked by RequestExtension.
type ExtensionRequester func(reason string) (granted bool)

// ProgressSignal is the minimal view of progress state the Verdict
// algorithm needs from the Progress Detector (internal/progress), kept as
// an interface so clock has no import-cycle dependency on that package.
type ProgressSignal struct {
	DoomLoopDetected      bool
	DoomLoopTool          string
	DoomLoopCount         int
	ExplorationSaturated  bool
	UniqueFilesRead       int
	IterationsInPhase     int
	StuckCount            int
}

// Budget tracks usage counters and evaluates the Verdict algorithm.
// Safe for concurrent use.
type Budget struct {
	mu sync.Mutex

	cfg Config

	inputTokens  int64
	outputTokens int64
	cost         float64
	iterations   int64
	toolCalls    int64
	llmCalls     int64

	startedAt    time.Time
	pausedAt     time.Time
	paused       bool
	pausedTotal  time.Duration

	pricing PricingTable

	requester ExtensionRequester
}

// New creates a Budget from the given Config and PricingTable. A nil
// PricingTable falls back to DefaultPricingTable().
func New(cfg Config, pricing PricingTable) *Budget {
	if pricing == nil {
		pricing = DefaultPricingTable()
	}
	return &Budget{
		cfg:       cfg,
		startedAt: time.Now(),
		pricing:   pricing,
	}
}

// SetExtensionRequester installs the host handler consulted by
// RequestExtension.
func (b *Budget) SetExtensionRequester(fn ExtensionRequester) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requester = fn
}

// Reset zeroes all counters and restarts the clock. Called at the top of
// every Scheduler.Run unless the caller explicitly asked for continuation
// mode (see DESIGN.md Open Questions).
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputTokens = 0
	b.outputTokens = 0
	b.cost = 0
	b.iterations = 0
	b.toolCalls = 0
	b.llmCalls = 0
	b.startedAt = time.Now()
	b.paused = false
	b.pausedTotal = 0
}

// RecordLLMUsage adds to the token/cost counters. If the adapter supplied a
// cost, it is authoritative and additive; otherwise cost is computed from
// the pricing table for model, falling back to zero-cost (never erroring)
// for an unknown model.
func (b *Budget) RecordLLMUsage(inTok, outTok int64, model string, actualCost *float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputTokens += inTok
	b.outputTokens += outTok
	b.llmCalls++

	if actualCost != nil {
		b.cost += *actualCost
		return
	}
	price, ok := b.pricing.Lookup(model)
	if !ok {
		return
	}
	b.cost += price.Estimate(inTok, outTok)
}

// StableArgs is a canonical, sorted-key JSON encoding of a tool call's
// arguments, used both here (for the recent-calls ring buffer key a caller
// may maintain) and by internal/progress for doom-loop comparison.
type StableArgs = string

// RecordToolCall increments toolCalls/iterations. The ring buffer and
// phase/doom-loop bookkeeping themselves live in internal/progress; Budget
// only owns the counters.
func (b *Budget) RecordToolCall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolCalls++
	b.iterations++
}

// PauseDuration stack-safely pauses wall-clock accounting, used while a
// subagent runs so the parent's duration budget counts only its own work.
func (b *Budget) PauseDuration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return
	}
	b.paused = true
	b.pausedAt = time.Now()
}

// ResumeDuration resumes wall-clock accounting paused by PauseDuration.
func (b *Budget) ResumeDuration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		return
	}
	b.paused = false
	b.pausedTotal += time.Since(b.pausedAt)
}

// effectiveDuration returns elapsed wall-clock time excluding paused spans.
// Must be called with b.mu held.
func (b *Budget) effectiveDuration() time.Duration {
	elapsed := time.Since(b.startedAt) - b.pausedTotal
	if b.paused {
		elapsed -= time.Since(b.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

// Snapshot is a read-only copy of the running counters.
type Snapshot struct {
	InputTokens  int64
	OutputTokens int64
	Tokens       int64
	Cost         float64
	Duration     time.Duration
	Iterations   int64
	ToolCalls    int64
	LLMCalls     int64
}

// Usage returns the current running totals (P1: every field here is
// non-decreasing across calls except Duration, which resets only on Reset).
func (b *Budget) Usage() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		InputTokens:  b.inputTokens,
		OutputTokens: b.outputTokens,
		Tokens:       b.inputTokens + b.outputTokens,
		Cost:         b.cost,
		Duration:     b.effectiveDuration(),
		Iterations:   b.iterations,
		ToolCalls:    b.toolCalls,
		LLMCalls:     b.llmCalls,
	}
}

// CheckBudget runs the Verdict algorithm (spec.md §4.A, priority order).
// progress is the latest signal observed by internal/progress; a caller
// with no Progress Detector wired may pass a zero-value ProgressSignal and
// steps 3/4/6 simply never trigger.
func (b *Budget) CheckBudget(progress ProgressSignal) Verdict {
	b.mu.Lock()
	snap := Snapshot{
		InputTokens:  b.inputTokens,
		OutputTokens: b.outputTokens,
		Tokens:       b.inputTokens + b.outputTokens,
		Cost:         b.cost,
		Duration:     b.effectiveDuration(),
		Iterations:   b.iterations,
	}
	cfg := b.cfg
	b.mu.Unlock()

	// 1. Any hard limit exceeded.
	if cfg.Tokens.hardExceeded(float64(snap.Tokens)) {
		return Verdict{SuggestedAction: ActionStop, BudgetType: BudgetTokens, Reason: "Token budget exceeded", PercentUsed: cfg.Tokens.percentOfHard(float64(snap.Tokens)), IsHardLimit: true}
	}
	if cfg.Cost.hardExceeded(snap.Cost) {
		return Verdict{SuggestedAction: ActionStop, BudgetType: BudgetCost, Reason: "Cost budget exceeded", PercentUsed: cfg.Cost.percentOfHard(snap.Cost), IsHardLimit: true}
	}
	if cfg.Duration.hardExceeded(float64(snap.Duration)) {
		return Verdict{SuggestedAction: ActionStop, BudgetType: BudgetDuration, Reason: "Duration budget exceeded", PercentUsed: cfg.Duration.percentOfHard(float64(snap.Duration)), IsHardLimit: true}
	}

	// 2. Max iterations: one more turn, forced text-only.
	if cfg.Iterations.Hard > 0 && float64(snap.Iterations) >= cfg.Iterations.Hard {
		return Verdict{
			CanContinue:     true,
			ForceTextOnly:   true,
			SuggestedAction: ActionStop,
			BudgetType:      BudgetIterations,
			InjectedPrompt:  MaxStepsPrompt,
			Reason:          "max_iterations",
		}
	}

	// 3. Doom loop.
	if progress.DoomLoopDetected {
		return Verdict{
			CanContinue:     true,
			SuggestedAction: ActionWarn,
			InjectedPrompt:  DoomLoopPrompt(progress.DoomLoopTool, progress.DoomLoopCount),
			Reason:          "doom_loop",
		}
	}

	// 4. Exploration saturation.
	if progress.ExplorationSaturated {
		return Verdict{
			CanContinue:     true,
			SuggestedAction: ActionWarn,
			InjectedPrompt:  ExplorationNudgePrompt(progress.UniqueFilesRead, progress.IterationsInPhase),
			Reason:          "exploration_saturation",
		}
	}

	// 5. Soft token/cost limits.
	if cfg.Tokens.softExceeded(float64(snap.Tokens)) {
		pct := cfg.Tokens.percentOfHard(float64(snap.Tokens))
		return Verdict{
			CanContinue:     true,
			IsSoftLimit:     true,
			PercentUsed:     pct,
			SuggestedAction: ActionRequestExtension,
			BudgetType:      BudgetTokens,
			InjectedPrompt:  WrapUpPrompt(BudgetTokens, pct),
			Reason:          "soft_token_limit",
		}
	}
	if cfg.Cost.softExceeded(snap.Cost) {
		pct := cfg.Cost.percentOfHard(snap.Cost)
		return Verdict{
			CanContinue:     true,
			IsSoftLimit:     true,
			PercentUsed:     pct,
			SuggestedAction: ActionRequestExtension,
			BudgetType:      BudgetCost,
			InjectedPrompt:  WrapUpPrompt(BudgetCost, pct),
			Reason:          "soft_cost_limit",
		}
	}

	// 6. Stuck.
	if progress.StuckCount >= 3 {
		return Verdict{
			CanContinue:     true,
			SuggestedAction: ActionRequestExtension,
			Reason:          "no progress",
		}
	}

	// 7. Otherwise continue.
	return Verdict{CanContinue: true, SuggestedAction: ActionContinue}
}

// RequestExtension calls the host-supplied handler; on grant, raises hard
// and soft limits by cfg.ExtensionFactor (default 1.5x).
func (b *Budget) RequestExtension(reason string) bool {
	b.mu.Lock()
	requester := b.requester
	factor := b.cfg.ExtensionFactor
	b.mu.Unlock()
	if factor <= 0 {
		factor = 1.5
	}
	if requester == nil {
		return false
	}
	granted := requester(reason)
	if !granted {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Tokens.Hard *= factor
	b.cfg.Tokens.Soft *= factor
	b.cfg.Cost.Hard *= factor
	b.cfg.Cost.Soft *= factor
	b.cfg.Duration.Hard *= factor
	b.cfg.Duration.Soft *= factor
	return true
}
