// Package thread implements the Thread Manager component (spec.md §4.I):
// checkpoints, rollback, and forking on top of internal/contextstore,
// plus the parent/child session-tree retrieval the persistence contract
// (spec.md §6) requires.
//
// Grounded on internal/sessions/store.go's Store interface and
// internal/sessions/hierarchy.go's parent/child linking, adapted onto
// pkg/models.Checkpoint/Session and internal/contextstore.Store instead of
// the teacher's direct SQL-backed message log.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentkit/runtime/internal/contextstore"
	"github.com/agentkit/runtime/pkg/models"
)

// Thread owns one contextstore.Store, an optional Plan, a checkpoint stack,
// and session metadata for the persistence contract.
//
// Not safe for concurrent use from multiple goroutines; a Manager
// serializes access to the Threads it owns via its own mutex.
type Thread struct {
	Session     *models.Session
	Store       *contextstore.Store
	Plan        *models.Plan
	checkpoints []*models.Checkpoint
}

// UsageProvider supplies the current budget snapshot for checkpointing,
// kept as a narrow interface so this package never imports internal/clock
// directly.
type UsageProvider interface {
	Usage() (inputTokens, outputTokens int64, cost float64, iterations, toolCalls, llmCalls int64)
}

// Manager owns every Thread in one run, including forked siblings and
// spawned-subagent children, and enforces checkpoint retention.
//
// Safe for concurrent use.
type Manager struct {
	mu             sync.Mutex
	threads        map[string]*Thread
	children       map[string][]string // parentID -> child session IDs
	maxCheckpoints int
	idSeq          int
	persistence    CheckpointStore
}

// New creates an empty Manager. maxCheckpoints <= 0 means "keep all".
func New(maxCheckpoints int) *Manager {
	return &Manager{
		threads:        make(map[string]*Thread),
		children:       make(map[string][]string),
		maxCheckpoints: maxCheckpoints,
	}
}

// SetPersistence installs a CheckpointStore that every subsequent
// CreateCheckpoint call durably persists to, satisfying the persistence
// contract (spec.md §6) beyond the Manager's own in-memory retention. A
// persistence failure is logged-by-caller via the returned error from
// CreateCheckpoint's internal save; it never rolls back the in-memory
// checkpoint since durability is a best-effort addition on top of the
// authoritative in-memory state.
func (m *Manager) SetPersistence(store CheckpointStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistence = store
}

// CreateThread registers a new root thread for the given session.
func (m *Manager) CreateThread(session *models.Session) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Thread{Session: session, Store: contextstore.New()}
	m.threads[session.ID] = t
	if session.ParentSessionID != "" {
		m.children[session.ParentSessionID] = append(m.children[session.ParentSessionID], session.ID)
	}
	return t
}

// Get returns the Thread for a session ID.
func (m *Manager) Get(sessionID string) (*Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[sessionID]
	return t, ok
}

// GetChildSessions implements the spec.md §6 persistence contract's
// getChildSessions(id) retrieval.
func (m *Manager) GetChildSessions(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.children[id]))
	copy(out, m.children[id])
	return out
}

// SessionTree is the recursive parent/child shape getSessionTree returns.
type SessionTree struct {
	Session  *models.Session
	Children []*SessionTree
}

// GetSessionTree implements the spec.md §6 persistence contract's
// getSessionTree(id) retrieval, recursively.
func (m *Manager) GetSessionTree(id string) (*SessionTree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buildTree(id)
}

// buildTree must be called with m.mu held.
func (m *Manager) buildTree(id string) (*SessionTree, error) {
	t, ok := m.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread: unknown session %q", id)
	}
	node := &SessionTree{Session: t.Session}
	for _, childID := range m.children[id] {
		child, err := m.buildTree(childID)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (m *Manager) nextID() string {
	m.idSeq++
	return fmt.Sprintf("ckpt-%d", m.idSeq)
}

// CreateCheckpoint deep-copies the current thread state (messages, plan,
// usage snapshot) and retains it per maxCheckpoints (oldest evicted first,
// but never the most recent — spec.md §3 Lifecycle / §4.I).
func (m *Manager) CreateCheckpoint(sessionID, label string, usage models.UsageSnapshot) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[sessionID]
	if !ok {
		return nil, fmt.Errorf("thread: unknown session %q", sessionID)
	}

	ckpt := &models.Checkpoint{
		ID:        m.nextID(),
		SessionID: sessionID,
		Label:     label,
		CreatedAt: time.Now(),
		Messages:  deepCopyMessages(t.Store.Messages()),
		Plan:      deepCopyPlan(t.Plan),
		Usage:     usage,
	}
	t.checkpoints = append(t.checkpoints, ckpt)
	m.evictOldCheckpoints(t)

	if m.persistence != nil {
		if err := m.persistence.SaveCheckpoint(context.Background(), ckpt); err != nil {
			slog.Default().Warn("thread: checkpoint persistence failed", "session_id", sessionID, "checkpoint_id", ckpt.ID, "error", err)
		}
	}

	return ckpt, nil
}

// evictOldCheckpoints must be called with m.mu held. Keeps at most
// maxCheckpoints, dropping the oldest first, and never evicts the single
// most recent checkpoint even if maxCheckpoints is 0 or negative.
func (m *Manager) evictOldCheckpoints(t *Thread) {
	if m.maxCheckpoints <= 0 {
		return
	}
	keep := m.maxCheckpoints
	if keep < 1 {
		keep = 1
	}
	if len(t.checkpoints) > keep {
		excess := len(t.checkpoints) - keep
		t.checkpoints = t.checkpoints[excess:]
	}
}

// Checkpoints returns the thread's current checkpoint stack, oldest first.
func (m *Manager) Checkpoints(sessionID string) ([]*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[sessionID]
	if !ok {
		return nil, fmt.Errorf("thread: unknown session %q", sessionID)
	}
	out := make([]*models.Checkpoint, len(t.checkpoints))
	copy(out, t.checkpoints)
	return out, nil
}

// RestoreCheckpoint replaces the thread's current state with a deep copy of
// checkpoint id's snapshot and discards every checkpoint created after it
// (P10: checkpoints are immutable and re-restoring yields identical state).
func (m *Manager) RestoreCheckpoint(sessionID, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[sessionID]
	if !ok {
		return fmt.Errorf("thread: unknown session %q", sessionID)
	}

	idx := -1
	for i, c := range t.checkpoints {
		if c.ID == checkpointID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("thread: unknown checkpoint %q", checkpointID)
	}

	target := t.checkpoints[idx]
	t.Store.Replace(deepCopyMessages(target.Messages))
	t.Plan = deepCopyPlan(target.Plan)

	// Discard checkpoints created after the restored one; it remains as
	// the most recent.
	t.checkpoints = t.checkpoints[:idx+1]
	return nil
}

// Fork creates a sibling thread whose initial messages are a deep copy of
// the parent's up to the current point; the two threads evolve
// independently from then on (spec.md §3 "Fork").
func (m *Manager) Fork(parentSessionID, newSessionID, label string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.threads[parentSessionID]
	if !ok {
		return nil, fmt.Errorf("thread: unknown session %q", parentSessionID)
	}

	forked := &models.Session{
		ID:              newSessionID,
		AgentID:         parent.Session.AgentID,
		Channel:         parent.Session.Channel,
		Title:           label,
		ParentSessionID: parentSessionID,
		SessionType:     models.SessionTypeBranch,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	t := &Thread{
		Session: forked,
		Store:   contextstore.NewFromMessages(deepCopyMessages(parent.Store.Messages())),
		Plan:    deepCopyPlan(parent.Plan),
	}
	m.threads[newSessionID] = t
	m.children[parentSessionID] = append(m.children[parentSessionID], newSessionID)
	return t, nil
}

func deepCopyMessages(in []*models.Message) []*models.Message {
	out := make([]*models.Message, len(in))
	for i, m := range in {
		cp := *m
		cp.ToolCalls = append([]models.ToolCall(nil), m.ToolCalls...)
		cp.ToolResults = append([]models.ToolResult(nil), m.ToolResults...)
		cp.Blocks = append([]models.ContentBlock(nil), m.Blocks...)
		out[i] = &cp
	}
	return out
}

func deepCopyPlan(p *models.Plan) *models.Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = append([]models.PlanStep(nil), p.Steps...)
	return &cp
}
