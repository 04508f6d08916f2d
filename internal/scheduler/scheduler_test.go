package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentkit/runtime/internal/clock"
	"github.com/agentkit/runtime/internal/contextstore"
	"github.com/agentkit/runtime/internal/policy"
	"github.com/agentkit/runtime/internal/process"
	"github.com/agentkit/runtime/internal/progress"
	"github.com/agentkit/runtime/internal/registry"
	"github.com/agentkit/runtime/pkg/models"
)

// scriptedProvider replays a fixed sequence of responses, one per Chat call,
// and repeats the final one if Chat is called more times than scripted.
type scriptedProvider struct {
	responses []*LLMResponse
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []*models.Message, opts LLMOptions) (*LLMResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func newBudget(cfg clock.Config) *clock.Budget {
	return clock.New(cfg, nil)
}

func TestScheduler_CompletesOnTextOnlyResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{
		{Content: "all done", StopReason: "end_turn"},
	}}
	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: registry.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := sched.Run(context.Background(), "do the thing")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Success || status.Reason != ReasonCompleted {
		t.Fatalf("expected completed success, got %+v", status)
	}
}

func TestScheduler_ToolCallDispatchedThroughRegistry(t *testing.T) {
	reg := registry.New()
	called := false
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name: "ping",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return "pong", nil
		},
	})

	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "t1", Name: "ping", Arguments: map[string]any{}}}},
		{Content: "done"},
	}}

	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: reg,
		Progress: progress.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := sched.Run(context.Background(), "ping something")
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected registered tool to be invoked")
	}
	if !status.Success {
		t.Fatalf("expected eventual success, got %+v", status)
	}
}

func TestScheduler_HardIterationLimitForcesTextOnlyThenStops(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "t1", Name: "noop", Arguments: map[string]any{}}}},
	}}
	reg := registry.New()
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name: "noop",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	})

	cfg := clock.Preset(clock.PresetQuick)
	cfg.Iterations = clock.Limit{Soft: 1, Hard: 2}

	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(cfg),
		Context:  contextstore.New(),
		Registry: reg,
		Progress: progress.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := sched.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if status.Success {
		t.Fatalf("expected a forced non-success terminal state, got %+v", status)
	}
	if status.Reason != ReasonMaxIterations && status.Reason != ReasonBudgetLimit {
		t.Fatalf("expected max_iterations or budget_limit, got %v", status.Reason)
	}
}

func TestScheduler_CancelBeforeNextIteration(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "t1", Name: "noop", Arguments: map[string]any{}}}},
	}}
	reg := registry.New()
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name: "noop",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "ok", nil
		},
	})

	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	sched.Cancel("user requested stop")

	status, err := sched.Run(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if status.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %v", status.Reason)
	}
}

func TestScheduler_PolicyBlocksForbiddenTool(t *testing.T) {
	// No policy engine configured means no blocking occurs; this test only
	// verifies the scheduler still completes cleanly when Policy is nil,
	// confirming the "optional collaborator" degrade-gracefully contract.
	reg := registry.New()
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name: "danger",
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "ran", nil
		},
	})
	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "t1", Name: "danger", Arguments: map[string]any{}}}},
		{Content: "done"},
	}}
	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	status, err := sched.Run(context.Background(), "do something dangerous")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Success {
		t.Fatalf("expected success without a configured policy, got %+v", status)
	}
}

// TestScheduler_SafeBatchOpensLaneToFullConcurrency exercises the
// CommandQueue wiring directly: a batch every call of which resolves to
// policy-allow on a danger=safe tool should open the dispatch lane's
// concurrency to the full batch size rather than serializing it.
func TestScheduler_SafeBatchOpensLaneToFullConcurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})

	reg := registry.New()
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name:   "read_file",
		Danger: registry.DangerSafe,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			n := inFlight.Add(1)
			for {
				old := maxInFlight.Load()
				if n <= old || maxInFlight.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return "ok", nil
		},
	})

	profile := &policy.Profile{Name: "default", ToolAccessMode: policy.ModeAll}
	engine := policy.NewEngine(map[string]*policy.Profile{"default": profile}, "default")

	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "a", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}},
			{ID: "b", Name: "read_file", Arguments: map[string]any{"path": "b.txt"}},
			{ID: "c", Name: "read_file", Arguments: map[string]any{"path": "c.txt"}},
		}},
		{Content: "done"},
	}}

	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: reg,
		Policy:   engine,
	})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		<-time.After(50 * time.Millisecond)
		close(release)
	}()

	status, err := sched.Run(context.Background(), "read three files")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Success {
		t.Fatalf("expected success, got %+v", status)
	}
	if got := maxInFlight.Load(); got != 3 {
		t.Fatalf("expected all 3 safe calls to run concurrently under one lane, got max %d in flight", got)
	}
}

// TestScheduler_UnsafeBatchSerializesThroughLane exercises the opposite
// branch: a batch containing a dangerous tool must run strictly one call
// at a time even though the calls arrive in a single LLM turn.
func TestScheduler_UnsafeBatchSerializesThroughLane(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	reg := registry.New()
	reg.RegisterBuiltin(&registry.ToolDefinition{
		Name:   "bash",
		Danger: registry.DangerDangerous,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			n := inFlight.Add(1)
			for {
				old := maxInFlight.Load()
				if n <= old || maxInFlight.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return "ok", nil
		},
	})

	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "a", Name: "bash", Arguments: map[string]any{"command": "echo a"}},
			{ID: "b", Name: "bash", Arguments: map[string]any{"command": "echo b"}},
		}},
		{Content: "done"},
	}}

	sched, err := New(Config{
		Provider: provider,
		Budget:   newBudget(clock.Preset(clock.PresetStandard)),
		Context:  contextstore.New(),
		Registry: reg,
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := sched.Run(context.Background(), "run two commands")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Success {
		t.Fatalf("expected success, got %+v", status)
	}
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("expected the unsafe batch to serialize to 1 in flight, got max %d", got)
	}
	if got := sched.cfg.Queue.GetLaneStats(process.LaneMain).MaxConcurrent; got != 1 {
		t.Fatalf("expected lane concurrency pinned to 1 after an unsafe batch, got %d", got)
	}
}
