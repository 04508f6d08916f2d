// Package scheduler implements the Iteration Scheduler component (spec.md
// §4.H): the main loop that calls the LLM, dispatches tool calls through
// Policy/Approval/Registry, applies the Budget/Progress governor's
// verdicts, and emits the scheduler's event stream.
//
// Grounded on internal/agent/loop.go's AgenticLoop phase structure (call
// LLM, append response, dispatch tool calls, append results) and
// internal/jobs/store.go's async-job bookkeeping idea for the completion-
// retry loop, generalized to wire internal/clock.Budget,
// internal/progress.Detector, internal/policy.Engine,
// internal/approval.Gate, internal/registry.Registry,
// internal/contextstore.Store, and internal/thread.Manager together behind
// one orchestrator, per spec.md §2's control-flow description.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentkit/runtime/internal/approval"
	"github.com/agentkit/runtime/internal/clock"
	"github.com/agentkit/runtime/internal/contextstore"
	"github.com/agentkit/runtime/internal/events"
	"github.com/agentkit/runtime/internal/observability"
	"github.com/agentkit/runtime/internal/policy"
	"github.com/agentkit/runtime/internal/process"
	"github.com/agentkit/runtime/internal/progress"
	"github.com/agentkit/runtime/internal/registry"
	"github.com/agentkit/runtime/pkg/models"
)

// CompletionReason enumerates every terminal reason the scheduler may stop
// with (spec.md §4.H "Completion reasons").
type CompletionReason string

const (
	ReasonCompleted       CompletionReason = "completed"
	ReasonResourceLimit   CompletionReason = "resource_limit"
	ReasonBudgetLimit     CompletionReason = "budget_limit"
	ReasonMaxIterations   CompletionReason = "max_iterations"
	ReasonHardContextLimit CompletionReason = "hard_context_limit"
	ReasonIncompleteAction CompletionReason = "incomplete_action"
	ReasonOpenTasks       CompletionReason = "open_tasks"
	ReasonFutureIntent    CompletionReason = "future_intent"
	ReasonSwarmFailure    CompletionReason = "swarm_failure"
	ReasonError           CompletionReason = "error"
	ReasonCancelled       CompletionReason = "cancelled"
)

// Recovery records how the scheduler arrived at its terminal state
// (spec.md §7 "User-visible failure").
type Recovery struct {
	IntraRunRetries int
	AutoLoopRuns    int
	Terminal        bool
	ReasonChain     []string
}

// CompletionStatus is the scheduler's terminal output (spec.md §7).
type CompletionStatus struct {
	Success             bool
	Reason              CompletionReason
	Details             string
	OpenTasks           []string
	FutureIntentDetected bool
	Recovery            Recovery
}

// LLMOptions carries the per-call options the LLM interface recognizes
// (spec.md §6).
type LLMOptions struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	StopSequences []string
	Tools         []registry.ToolDescription
	ToolChoice    string // "auto" | "required" | "none" | "function:<name>"
}

// LLMUsage is the usage block an LLM response carries (spec.md §6).
type LLMUsage struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	Cost         *float64 // authoritative if non-nil
}

// LLMResponse is what the LLM interface returns for one call (spec.md §6).
type LLMResponse struct {
	Content    string
	ToolCalls  []models.ToolCall
	Usage      LLMUsage
	StopReason string
	Thinking   string
}

// LLMProvider is the consumed LLM interface (spec.md §6). Retries, backoff,
// and auth are the adapter's responsibility; the scheduler consumes the
// result opaquely.
type LLMProvider interface {
	Chat(ctx context.Context, messages []*models.Message, opts LLMOptions) (*LLMResponse, error)
}

// CompletionCriteria validates a candidate completion (spec.md §4.H step g:
// "Validate against optional completion criteria"). A nil CompletionCriteria
// always accepts.
type CompletionCriteria func(messages []*models.Message) (ok bool, recoveryPrompt string)

// Config bundles every collaborator the scheduler wires together. All
// fields except Provider, Budget, Context, and Registry are optional; a nil
// collaborator degrades gracefully (no policy enforcement, no approval
// gate, no progress governance) rather than panicking, matching spec.md
// §4.A's "budget failures are never fatal" philosophy generalized to every
// governor input.
type Config struct {
	Provider   LLMProvider
	Budget     *clock.Budget
	Progress   *progress.Detector
	Policy     *policy.Engine
	Profile    policy.SelectionContext
	Approval   *approval.Gate
	Registry   *registry.Registry
	Context    *contextstore.Store
	Events     *events.Bus
	Criteria   CompletionCriteria

	// Metrics, when set, records run/tool/LLM Prometheus metrics alongside
	// the Events bus. Optional collaborator: nil disables metrics recording
	// entirely rather than panicking.
	Metrics *observability.Metrics

	// Queue serializes tool-call dispatch through the lane the batch
	// decision picks (see dispatchToolCalls). Defaults to a fresh
	// process.NewCommandQueue() when nil; callers share one queue across
	// schedulers when they want lane concurrency enforced tree-wide
	// (e.g. one LaneMain shared by a supervisor and its subagents).
	Queue *process.CommandQueue
	// DispatchLane is the CommandLane tool-call batches are enqueued
	// into. Defaults to process.LaneMain.
	DispatchLane process.CommandLane

	// ProviderName labels Metrics' provider dimension (e.g. "anthropic").
	// Purely cosmetic: the scheduler never branches on it.
	ProviderName    string
	Model           string
	MaxToolRetries  int           // bounded recovery-prompt retries per spec.md §4.H step g
	ToolTimeout     time.Duration // per-tool-execution timeout (spec.md §5)
	CancelGrace     time.Duration // in-flight tool grace window on cancel (default 5s)
	AllowedPaths    []string      // for tool-arg path confinement
}

// Scheduler is the Iteration Scheduler (component H).
type Scheduler struct {
	cfg       Config
	cancelled atomic.Bool
}

// New creates a Scheduler from cfg. Provider, Budget, Context, and Registry
// must be non-nil.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Provider == nil {
		return nil, errors.New("scheduler: Provider is required")
	}
	if cfg.Budget == nil {
		return nil, errors.New("scheduler: Budget is required")
	}
	if cfg.Context == nil {
		return nil, errors.New("scheduler: Context is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: Registry is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.New()
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	if cfg.MaxToolRetries <= 0 {
		cfg.MaxToolRetries = 2
	}
	if cfg.Queue == nil {
		cfg.Queue = process.NewCommandQueue()
	}
	if cfg.DispatchLane == "" {
		cfg.DispatchLane = process.LaneMain
	}
	return &Scheduler{cfg: cfg}, nil
}

// Events returns the scheduler's event bus for subscribers.
func (s *Scheduler) Events() *events.Bus { return s.cfg.Events }

// Cancel sets the cooperative cancellation flag (spec.md §4.H
// "Cancellation", §5, P11). reason is carried into the terminal
// CompletionStatus.Details.
func (s *Scheduler) Cancel(reason string) {
	s.cfg.Events.Emit("cancellation.requested", reason)
	s.cancelled.Store(true)
}

func (s *Scheduler) isCancelled() bool { return s.cancelled.Load() }

// providerName returns Config.ProviderName, falling back to "unknown" so
// Metrics labels never go empty.
func (s *Scheduler) providerName() string {
	if s.cfg.ProviderName == "" {
		return "unknown"
	}
	return s.cfg.ProviderName
}

// Run drives one full iteration loop for task, per spec.md §4.H. It always
// resets Budget/Progress state at the top unless the caller uses
// RunContinuation (see DESIGN.md Open Questions: "reset() is always called
// at the top of run() unless the caller explicitly requests continuation
// mode").
func (s *Scheduler) Run(ctx context.Context, task string) (*CompletionStatus, error) {
	s.cfg.Budget.Reset()
	return s.runMetered(ctx, task)
}

// RunContinuation drives the loop without resetting Budget/Progress,
// continuing accumulation across a prior Run/RunContinuation call.
func (s *Scheduler) RunContinuation(ctx context.Context, task string) (*CompletionStatus, error) {
	return s.runMetered(ctx, task)
}

// runMetered wraps run with the optional Metrics collaborator's active-runs
// gauge and run-duration histogram, then records the terminal reason as a
// run attempt (success|retry|failed) for intra-run retry tracking.
func (s *Scheduler) runMetered(ctx context.Context, task string) (*CompletionStatus, error) {
	if s.cfg.Metrics == nil {
		return s.run(ctx, task)
	}

	s.cfg.Metrics.RunStarted()
	start := time.Now()
	status, err := s.run(ctx, task)
	if status != nil {
		s.cfg.Metrics.RunEnded(string(status.Reason), time.Since(start).Seconds())
		switch {
		case status.Success:
			s.cfg.Metrics.RecordRunAttempt("success")
		case status.Recovery.IntraRunRetries > 0:
			s.cfg.Metrics.RecordRunAttempt("retry")
		default:
			s.cfg.Metrics.RecordRunAttempt("failed")
		}
	} else {
		s.cfg.Metrics.RunEnded("error", time.Since(start).Seconds())
	}
	return status, err
}

func (s *Scheduler) run(ctx context.Context, task string) (*CompletionStatus, error) {
	ev := s.cfg.Events
	ev.Emit("run.before", task)

	if task != "" {
		if err := s.cfg.Context.Append(&models.Message{Role: models.RoleUser, Content: task}); err != nil {
			return nil, fmt.Errorf("scheduler: append task: %w", err)
		}
	}

	recovery := Recovery{}
	recoveryRetries := 0

	for {
		if s.isCancelled() {
			status := s.terminal(false, ReasonCancelled, "cancelled before next iteration", recovery)
			ev.Emit("cancellation.completed", nil)
			return status, nil
		}

		signal := clock.ProgressSignal{}
		if s.cfg.Progress != nil {
			signal = s.cfg.Progress.Signal()
		}
		verdict := s.cfg.Budget.CheckBudget(signal)
		ev.Emit("iteration.before", verdict)

		if verdict.InjectedPrompt != "" {
			_ = s.cfg.Context.Append(&models.Message{Role: models.RoleSystem, Content: verdict.InjectedPrompt})
		}

		tools := s.cfg.Registry.GetDescriptions()
		ev.Emit("llm.start", nil)

		llmStart := time.Now()
		resp, err := s.cfg.Provider.Chat(ctx, s.cfg.Context.Messages(), LLMOptions{
			Model: s.cfg.Model,
			Tools: tools,
		})
		if err != nil {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordLLMRequest(s.providerName(), s.cfg.Model, "error", time.Since(llmStart).Seconds(), 0, 0)
				s.cfg.Metrics.RecordError("provider", "chat_failed")
			}
			recovery.ReasonChain = append(recovery.ReasonChain, err.Error())
			return s.terminal(false, ReasonError, err.Error(), recovery), nil
		}
		ev.Emit("llm.complete", resp)

		var cost *float64
		if resp.Usage.Cost != nil {
			cost = resp.Usage.Cost
		}
		s.cfg.Budget.RecordLLMUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, s.cfg.Model, cost)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordLLMRequest(s.providerName(), s.cfg.Model, "success", time.Since(llmStart).Seconds(), int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
			s.cfg.Metrics.RecordContextWindow(s.providerName(), s.cfg.Model, int(resp.Usage.InputTokens))
			if cost != nil {
				s.cfg.Metrics.RecordLLMCost(s.providerName(), s.cfg.Model, *cost)
			}
		}

		assistantMsg := &models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := s.cfg.Context.Append(assistantMsg); err != nil {
			return s.terminal(false, ReasonError, err.Error(), recovery), nil
		}

		if verdict.ForceTextOnly {
			return s.terminal(false, ReasonMaxIterations, "forced final turn at max iterations", recovery), nil
		}

		if s.isCancelled() {
			status := s.terminal(false, ReasonCancelled, "cancelled after llm call, before tool dispatch", recovery)
			ev.Emit("cancellation.completed", nil)
			return status, nil
		}

		if len(resp.ToolCalls) > 0 {
			s.dispatchToolCalls(ctx, resp.ToolCalls)
		} else if resp.Content != "" {
			ok, recoveryPrompt := true, ""
			if s.cfg.Criteria != nil {
				ok, recoveryPrompt = s.cfg.Criteria(s.cfg.Context.Messages())
			}
			if ok {
				return s.terminal(true, ReasonCompleted, "", recovery), nil
			}
			if recoveryRetries >= s.cfg.MaxToolRetries {
				return s.terminal(false, ReasonIncompleteAction, "exhausted completion recovery retries", recovery), nil
			}
			recoveryRetries++
			recovery.IntraRunRetries = recoveryRetries
			if recoveryPrompt != "" {
				_ = s.cfg.Context.Append(&models.Message{Role: models.RoleSystem, Content: recoveryPrompt})
			}
		}

		if verdict.SuggestedAction == clock.ActionStop {
			return s.terminal(false, reasonForBudgetType(verdict), verdict.Reason, recovery), nil
		}
	}
}

// dispatchToolCalls implements spec.md §4.H step f: policy -> approval ->
// dispatch. The batch's parallel-safety decides the dispatch lane's
// concurrency: a safe batch opens the lane to len(calls) concurrent slots,
// an unsafe one pins it to 1 so the CommandQueue itself serializes the
// calls in enqueue order, rather than the caller looping by hand.
//
// Grounded on internal/process/command_queue.go's CommandQueue/CommandLane,
// generalized from its original per-lane request-serialization role into
// this batch's sequential-vs-parallel dispatch decision.
func (s *Scheduler) dispatchToolCalls(ctx context.Context, calls []models.ToolCall) {
	lane := s.cfg.DispatchLane
	if s.safeToParallelize(calls) {
		s.cfg.Queue.SetLaneConcurrency(lane, len(calls))
	} else {
		s.cfg.Queue.SetLaneConcurrency(lane, 1)
	}

	msgs := make([]*models.Message, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		if s.isCancelled() {
			break
		}
		i, tc := i, tc
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := process.EnqueueInLane(s.cfg.Queue, lane, func(taskCtx context.Context) (*models.Message, error) {
				return s.evaluateAndExecute(taskCtx, tc), nil
			}, nil)
			if err == nil {
				msgs[i] = msg
			}
		}()
	}
	wg.Wait()

	for _, msg := range msgs {
		if msg != nil {
			_ = s.cfg.Context.Append(msg)
		}
	}
}

// safeToParallelize implements the conservative rule from spec.md §4.H
// "Ordering guarantees": a batch may run in parallel only when no call's
// policy resolves to prompt and no write-class/dangerous tool is present.
func (s *Scheduler) safeToParallelize(calls []models.ToolCall) bool {
	if len(calls) < 2 || s.cfg.Policy == nil {
		return false
	}
	profile, err := s.cfg.Policy.ResolveProfile(s.cfg.Profile)
	if err != nil {
		return false
	}
	for _, tc := range calls {
		tc.DecodeArguments()
		decision := s.cfg.Policy.EvaluateTool(profile, tc.Name, tc.Arguments)
		if decision.Decision != policy.DecisionAllow {
			return false
		}
		if def, ok := s.cfg.Registry.Resolve(tc.Name); ok && def.Danger != registry.DangerSafe {
			return false
		}
	}
	return true
}

// evaluateAndExecute runs the full policy -> approval -> dispatch pipeline
// for one call, returning the tool-role message to append (spec.md §4.H
// step f.i-iii).
func (s *Scheduler) evaluateAndExecute(ctx context.Context, tc models.ToolCall) *models.Message {
	ev := s.cfg.Events
	tc.DecodeArguments()

	if s.cfg.Policy != nil {
		profile, err := s.cfg.Policy.ResolveProfile(s.cfg.Profile)
		if err == nil {
			decision := s.cfg.Policy.EvaluateTool(profile, tc.Name, tc.Arguments)
			if decision.Decision == policy.DecisionForbidden {
				ev.Emit("policy.tool.blocked", decision)
				return s.blockedMessage(tc, "blocked by policy: "+decision.Reason)
			}
			if cmd, isBash := tc.Arguments["command"].(string); isBash && tc.Name == "bash" {
				cmdDecision := s.cfg.Policy.EvaluateCommand(profile, cmd)
				if cmdDecision.Decision == policy.DecisionForbidden {
					ev.Emit("policy.bash.blocked", cmdDecision)
					return s.blockedMessage(tc, "blocked by policy: "+cmdDecision.Reason)
				}
			}
			if path, ok := tc.Arguments["path"].(string); ok && path != "" && len(s.cfg.AllowedPaths) > 0 {
				if _, err := policy.ConfinePath(path, s.cfg.AllowedPaths); err != nil {
					ev.Emit("policy.tool.blocked", err.Error())
					return s.blockedMessage(tc, "path not allowed: "+err.Error())
				}
			}
			if decision.Decision == policy.DecisionPrompt && s.cfg.Approval != nil {
				ev.Emit("approval.required", tc)
				dec, err := s.cfg.Approval.RequestApproval(ctx, approval.Call{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
				ev.Emit("approval.received", dec)
				if err != nil || !dec.Approved {
					ev.Emit("tool.blocked", tc)
					reason := dec.Reason
					if reason == "" && err != nil {
						reason = err.Error()
					}
					return s.blockedMessage(tc, "approval denied: "+reason)
				}
				if dec.ModifiedArgs != nil {
					tc.Arguments = dec.ModifiedArgs
				}
			}
		}
	}

	return s.executeTool(ctx, tc)
}

func (s *Scheduler) blockedMessage(tc models.ToolCall, reason string) *models.Message {
	if s.cfg.Progress != nil {
		s.cfg.Progress.Observe(progress.ToolObservation{Tool: tc.Name, Args: tc.Arguments})
	}
	s.cfg.Budget.RecordToolCall()
	return &models.Message{
		Role:       models.RoleTool,
		Content:    reason,
		ToolCallID: tc.ID,
		ToolResults: []models.ToolResult{{ToolCallID: tc.ID, Content: reason, IsError: true}},
	}
}

// executeTool dispatches through the Registry under a per-tool timeout,
// records the call with Budget and Progress regardless of outcome (spec.md
// §4.H step f.iii), and returns the tool-role reply.
func (s *Scheduler) executeTool(ctx context.Context, tc models.ToolCall) *models.Message {
	ev := s.cfg.Events
	ev.Emit("tool.start", tc)

	callCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ToolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ToolTimeout)
		defer cancel()
	}

	callStart := time.Now()
	res := s.cfg.Registry.Execute(callCtx, tc.Name, tc.Arguments)

	if s.cfg.Progress != nil {
		s.cfg.Progress.Observe(toolObservation(tc))
	}
	s.cfg.Budget.RecordToolCall()

	content := fmt.Sprintf("%v", res.Output)
	isError := !res.Success
	if isError && res.Err != nil {
		content = res.Err.Error()
	}
	if s.cfg.Metrics != nil {
		status := "success"
		if isError {
			status = "error"
			s.cfg.Metrics.RecordError("scheduler", "tool_execution_failed")
		}
		s.cfg.Metrics.RecordToolExecution(tc.Name, status, time.Since(callStart).Seconds())
	}
	ev.Emit("tool.complete", res)

	return &models.Message{
		Role:        models.RoleTool,
		Content:     content,
		ToolCallID:  tc.ID,
		ToolResults: []models.ToolResult{{ToolCallID: tc.ID, Content: content, IsError: isError}},
	}
}

// toolObservation derives a progress.ToolObservation from a decoded
// ToolCall using conventional argument names ("path", "command").
func toolObservation(tc models.ToolCall) progress.ToolObservation {
	obs := progress.ToolObservation{Tool: tc.Name, Args: tc.Arguments}
	if path, ok := tc.Arguments["path"].(string); ok {
		obs.Path = path
	}
	if cmd, ok := tc.Arguments["command"].(string); ok {
		obs.Command = cmd
	}
	switch tc.Name {
	case "write_file", "edit_file":
		obs.IsWrite = true
	case "read_file":
		obs.IsRead = true
	}
	return obs
}

func reasonForBudgetType(v clock.Verdict) CompletionReason {
	switch v.BudgetType {
	case clock.BudgetTokens, clock.BudgetCost:
		return ReasonBudgetLimit
	case clock.BudgetDuration:
		return ReasonResourceLimit
	default:
		return ReasonBudgetLimit
	}
}

func (s *Scheduler) terminal(success bool, reason CompletionReason, details string, recovery Recovery) *CompletionStatus {
	recovery.Terminal = true
	s.cfg.Events.Emit("run.after", reason)
	return &CompletionStatus{
		Success:  success,
		Reason:   reason,
		Details:  details,
		Recovery: recovery,
	}
}
