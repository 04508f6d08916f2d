// Package subagent implements subagent spawning: a child Thread/Scheduler
// pair that runs under its own budget while the parent's wall-clock
// duration is paused for the span of the spawn, per spec.md §5's
// "AgentRegistry owning agentId -> ChildHandle".
//
// Grounded on the teacher's tools/subagent spawn.go Manager/SubAgent
// lifecycle shape (concurrency cap, background run, status tracking) and
// its multiagent/subagent_registry.go run-record bookkeeping (RunID,
// outcome, completion callback), composed with internal/thread.Manager.Fork
// for child-session isolation and internal/clock.Budget.PauseDuration/
// ResumeDuration for the parent's duration-budget pause while a child run
// is in flight. Batch fan-out ordering (dependencyStages) is a from-scratch
// Kahn topological sort, grounded on the shape of the teacher's
// multiagent.BuildDependencyGraph.
package subagent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentkit/runtime/internal/clock"
	"github.com/agentkit/runtime/internal/thread"
)

// Status mirrors internal/tools/subagent/spawn.go's string status values,
// made a named type for clarity.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Handle is the spawn record the parent holds for a child run (spec.md §5
// ChildHandle).
type Handle struct {
	ID          string
	ParentID    string
	SessionID   string
	Name        string
	Task        string
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string

	cancel context.CancelFunc
	done   chan struct{}
}

// Wait blocks until the child run finishes.
func (h *Handle) Wait() {
	<-h.done
}

// Cancel requests the child run stop cooperatively.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Runner executes one child run to completion. The Manager supplies it
// with an isolated Thread (via thread.Manager.Fork) and expects a result
// string or an error; it owns nothing about how the child actually drives
// its own iteration loop (that's internal/scheduler.Scheduler's job — the
// caller wires one per child Thread in the Runner closure).
type Runner func(ctx context.Context, child *thread.Thread, task string) (string, error)

// Manager spawns and tracks child runs under a parent duration budget.
//
// Safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	handles     map[string]*Handle
	threads     *thread.Manager
	budget      *clock.Budget // parent's budget; paused for the span of each spawn
	maxActive   int
	activeCount int64
	runner      Runner
}

// New creates a Manager. maxActive <= 0 defaults to 5, matching the
// teacher's default concurrency cap.
func New(threads *thread.Manager, budget *clock.Budget, runner Runner, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	return &Manager{
		handles:   make(map[string]*Handle),
		threads:   threads,
		budget:    budget,
		runner:    runner,
		maxActive: maxActive,
	}
}

// Spawn forks a child Thread from parentSessionID and starts the Runner in
// the background, pausing the parent's duration budget for the span of the
// run (spec.md §4.A "pausable wall-clock duration for subagent spans").
func (m *Manager) Spawn(ctx context.Context, parentSessionID, name, task string) (*Handle, error) {
	if atomic.LoadInt64(&m.activeCount) >= int64(m.maxActive) {
		return nil, fmt.Errorf("subagent: max active runs reached (%d)", m.maxActive)
	}

	childID := parentSessionID + "-" + uuid.NewString()[:8]
	child, err := m.threads.Fork(parentSessionID, childID, name)
	if err != nil {
		return nil, fmt.Errorf("subagent: fork child thread: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:        uuid.NewString(),
		ParentID:  parentSessionID,
		SessionID: childID,
		Name:      name,
		Task:      task,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	atomic.AddInt64(&m.activeCount, 1)

	if m.budget != nil {
		m.budget.PauseDuration()
	}

	go m.run(runCtx, h, child, task)

	return h, nil
}

func (m *Manager) run(ctx context.Context, h *Handle, child *thread.Thread, task string) {
	defer func() {
		atomic.AddInt64(&m.activeCount, -1)
		if m.budget != nil {
			m.budget.ResumeDuration()
		}
		close(h.done)
	}()

	result, err := m.runner(ctx, child, task)

	m.mu.Lock()
	defer m.mu.Unlock()
	h.CompletedAt = time.Now()
	if err != nil {
		if ctx.Err() != nil {
			h.Status = StatusCancelled
			h.Error = ctx.Err().Error()
		} else {
			h.Status = StatusFailed
			h.Error = err.Error()
		}
		return
	}
	h.Status = StatusCompleted
	h.Result = result
}

// SpawnSpec describes one child in a SpawnBatch call. DependsOn names other
// specs in the same batch (by Name) that must complete before this one
// starts; an empty DependsOn runs in the first stage.
type SpawnSpec struct {
	Name      string
	Task      string
	DependsOn []string
}

// SpawnBatch spawns several children at once, ordering them into
// dependency-respecting stages (spec.md §5 Design Notes: fan-out ordering
// when a caller spawns more than one child at once). Every spec within a
// stage is spawned concurrently; a stage only starts once every Handle in
// the previous stage has finished via Wait. Returns handles in the order
// specs were given, not stage order.
func (m *Manager) SpawnBatch(ctx context.Context, parentSessionID string, specs []SpawnSpec) ([]*Handle, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	stages, err := dependencyStages(specs)
	if err != nil {
		return nil, fmt.Errorf("subagent: spawn batch dependency graph: %w", err)
	}

	byName := make(map[string]SpawnSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	handles := make(map[string]*Handle, len(specs))

	for _, stage := range stages {
		stageHandles := make([]*Handle, 0, len(stage))
		for _, name := range stage {
			spec := byName[name]
			h, err := m.Spawn(ctx, parentSessionID, spec.Name, spec.Task)
			if err != nil {
				return nil, fmt.Errorf("subagent: spawn batch: spawning %q: %w", spec.Name, err)
			}
			handles[name] = h
			stageHandles = append(stageHandles, h)
		}
		for _, h := range stageHandles {
			h.Wait()
		}
	}

	out := make([]*Handle, 0, len(specs))
	for _, s := range specs {
		out = append(out, handles[s.Name])
	}
	return out, nil
}

// Get returns a tracked Handle by ID.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[id]
	return h, ok
}

// Active returns the current in-flight run count.
func (m *Manager) Active() int64 {
	return atomic.LoadInt64(&m.activeCount)
}

// All returns every tracked Handle, regardless of status.
func (m *Manager) All() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	return out
}

// dependencyStages performs a Kahn topological sort over SpawnBatch specs,
// grouping independent specs into the same stage so SpawnBatch can run each
// stage concurrently. Each stage is sorted by name for deterministic spawn
// order across runs.
func dependencyStages(specs []SpawnSpec) ([][]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(specs))
	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))

	for _, s := range specs {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("spawn spec name cannot be empty")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate spawn spec name %q", name)
		}
		seen[name] = true
		indegree[name] = 0
	}

	for _, s := range specs {
		name := strings.TrimSpace(s.Name)
		for _, depRaw := range s.DependsOn {
			dep := strings.TrimSpace(depRaw)
			if dep == "" {
				continue
			}
			if !seen[dep] {
				return nil, fmt.Errorf("spec %q depends on unknown spec %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0)
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var stages [][]string
	processed := 0
	for len(ready) > 0 {
		stage := append([]string(nil), ready...)
		stages = append(stages, stage)

		next := make([]string, 0)
		for _, name := range stage {
			processed++
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if processed != len(specs) {
		return nil, fmt.Errorf("dependency cycle detected among spawn specs")
	}

	return stages, nil
}
