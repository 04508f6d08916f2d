package models

import "time"

// Checkpoint is an immutable snapshot of a Thread's state, enabling
// rollback. Snapshots are deep copies: mutating the live thread after a
// checkpoint is taken must never alter the checkpoint's Messages/Usage.
type Checkpoint struct {
	ID        string         `json:"id"`
	SessionID string          `json:"session_id"`
	Label     string          `json:"label,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []*Message      `json:"messages"`
	Plan      *Plan           `json:"plan,omitempty"`
	Usage     UsageSnapshot   `json:"usage"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// UsageSnapshot is a point-in-time copy of budget usage counters, stored
// inside a Checkpoint so restoring a checkpoint also restores the usage
// the thread had observed at that point.
type UsageSnapshot struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Tokens       int64   `json:"tokens"`
	Cost         float64 `json:"cost"`
	Iterations   int64   `json:"iterations"`
	ToolCalls    int64   `json:"tool_calls"`
	LLMCalls     int64   `json:"llm_calls"`
}

// PlanStepStatus is the lifecycle state of one Plan step.
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "in_progress"
	PlanStepDone       PlanStepStatus = "done"
	PlanStepSkipped    PlanStepStatus = "skipped"
)

// PlanStep is one step of an (optional) Plan attached to a thread.
type PlanStep struct {
	ID              string         `json:"id"`
	Number          int            `json:"number"`
	Description     string         `json:"description"`
	Status          PlanStepStatus `json:"status"`
	Deps            []string       `json:"deps,omitempty"`
	DecisionOptions []string       `json:"decision_options,omitempty"`
}

// PlanStatus is the lifecycle state of an entire Plan.
type PlanStatus string

const (
	PlanDraft      PlanStatus = "draft"
	PlanDiscussing PlanStatus = "discussing"
	PlanApproved   PlanStatus = "approved"
	PlanExecuting  PlanStatus = "executing"
	PlanPaused     PlanStatus = "paused"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
	PlanCancelled  PlanStatus = "cancelled"
)

// Plan is the optional structured plan a thread may track alongside its
// message log.
type Plan struct {
	Goal             string     `json:"goal"`
	Steps            []PlanStep `json:"steps"`
	CurrentStepIndex int        `json:"current_step_index"`
	Status           PlanStatus `json:"status"`
}

// Renumber reassigns Number to each step in slice order while leaving IDs
// untouched, matching the invariant that step IDs stay stable across
// renumbering (spec.md §3).
func (p *Plan) Renumber() {
	if p == nil {
		return
	}
	for i := range p.Steps {
		p.Steps[i].Number = i + 1
	}
}

// LogEntryType categorizes one persisted Thread log entry.
type LogEntryType string

const (
	LogEntryMessage    LogEntryType = "message"
	LogEntryToolCall   LogEntryType = "tool_call"
	LogEntryToolResult LogEntryType = "tool_result"
	LogEntryCheckpoint LogEntryType = "checkpoint"
)

// LogEntry is one element of a Thread's persisted, ordered log (spec.md
// §6 "Persistence contract"). The core does not prescribe a storage
// engine; LogEntry is the shape any storage adapter must be able to append.
type LogEntry struct {
	Type      LogEntryType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Data      any          `json:"data"`
}
