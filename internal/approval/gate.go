// Package approval implements the Approval Gate component (spec.md §4.D):
// risk assessment for tool calls the Policy Engine routed to "prompt",
// routing to a host-supplied decision handler, and a bounded audit log.
//
// Grounded on internal/agent/approval.go's allow/deny/pending list idiom
// (generalized here into risk tiers per spec.md §4.D) and
// internal/audit/{types,logger}.go's structured-event shape for the audit
// trail, trimmed to the spec's simpler bounded-append-only-list contract
// (cap 10,000, oldest dropped on overflow, best-effort writes that never
// block the decision).
package approval

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Risk is the outcome of RiskAssessment's evaluation of a tool call.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskModerate Risk = "moderate"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// severity maps a Risk to a comparable ordinal so RiskThreshold comparisons
// are a simple integer comparison.
var severity = map[Risk]int{
	RiskLow:      0,
	RiskModerate: 1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// atLeast reports whether r is at least as severe as threshold.
func atLeast(r, threshold Risk) bool {
	return severity[r] >= severity[threshold]
}

// Call is the minimal view of a pending tool call the gate needs.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// RiskPolicy configures the pattern lists RiskAssessment consults, per
// spec.md §4.D: "A function of tool name and args yielding low|moderate|
// high|critical: alwaysApprove patterns -> high; neverApprove patterns ->
// low; tool name containing delete|remove|drop -> high; any arg value
// containing --force, -rf, or similar -> moderate; otherwise low."
type RiskPolicy struct {
	AlwaysApprovePatterns []string
	NeverApprovePatterns  []string
	DangerousNamePatterns []string // default: delete, remove, drop
	DangerousArgPatterns  []string // default: --force, -rf
	RiskThreshold         Risk     // decision levels >= this require approval
}

// DefaultRiskPolicy returns the spec's default pattern set.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		DangerousNamePatterns: []string{"delete", "remove", "drop"},
		DangerousArgPatterns:  []string{"--force", "-rf", "--no-verify"},
		RiskThreshold:         RiskHigh,
	}
}

// Assess implements the risk assessment function. alwaysApprove /
// neverApprove take priority over the name/arg heuristics, matching the
// priority spec.md §4.D lists them in.
func (p RiskPolicy) Assess(call Call) Risk {
	for _, pat := range p.AlwaysApprovePatterns {
		if matches(pat, call.Name) {
			return RiskHigh
		}
	}
	for _, pat := range p.NeverApprovePatterns {
		if matches(pat, call.Name) {
			return RiskLow
		}
	}

	nameLower := strings.ToLower(call.Name)
	dangerousNames := p.DangerousNamePatterns
	if len(dangerousNames) == 0 {
		dangerousNames = DefaultRiskPolicy().DangerousNamePatterns
	}
	for _, pat := range dangerousNames {
		if strings.Contains(nameLower, pat) {
			return RiskHigh
		}
	}

	dangerousArgs := p.DangerousArgPatterns
	if len(dangerousArgs) == 0 {
		dangerousArgs = DefaultRiskPolicy().DangerousArgPatterns
	}
	for _, v := range call.Args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, pat := range dangerousArgs {
			if strings.Contains(s, pat) {
				return RiskModerate
			}
		}
	}

	return RiskLow
}

func matches(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// Decision is the result of a RequestApproval round-trip.
type Decision struct {
	Approved     bool
	Reason       string
	ModifiedArgs map[string]any
}

// Handler is the host-supplied decision maker (interactive prompt, web UI,
// config-driven auto-approve). It must respect ctx cancellation.
type Handler func(ctx context.Context, call Call, risk Risk) (Decision, error)

// AuditEntry is one record in the bounded audit log (spec.md §4.D).
type AuditEntry struct {
	Timestamp time.Time
	Call      Call
	Decision  Decision
	Reason    string
	Risk      Risk
}

// auditCap is the bounded audit log capacity; oldest entries are dropped on
// overflow (spec.md §4.D: "bounded append-only list (cap 10,000)").
const auditCap = 10_000

// Gate evaluates risk for calls the Policy Engine routed to "prompt" and
// dispatches them to a host Handler, recording every decision in a bounded
// audit log.
//
// Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	policy  RiskPolicy
	handler Handler
	audit   []AuditEntry
}

// New creates a Gate with the given RiskPolicy and Handler. A nil handler
// denies every request with reason "no approval handler configured" —
// matching spec.md §4.D's requirement that the host must supply one, while
// never panicking if it didn't.
func New(policy RiskPolicy, handler Handler) *Gate {
	return &Gate{policy: policy, handler: handler}
}

// SetHandler replaces the host decision handler.
func (g *Gate) SetHandler(h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// SetPolicy replaces the RiskPolicy used to assess subsequent calls,
// letting a config watcher hot-reload risk thresholds without restarting
// the scheduler.
func (g *Gate) SetPolicy(policy RiskPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// RequestApproval assesses risk, and if it meets or exceeds the configured
// RiskThreshold, calls the host Handler; calls below the threshold are
// auto-approved without consulting the handler. Every outcome is recorded
// in the audit log; audit writes are best-effort and never block or fail
// the returned Decision (spec.md §4.D).
func (g *Gate) RequestApproval(ctx context.Context, call Call) (Decision, error) {
	g.mu.Lock()
	policy := g.policy
	handler := g.handler
	g.mu.Unlock()

	risk := policy.Assess(call)

	var decision Decision
	var err error

	if !atLeast(risk, policy.RiskThreshold) {
		decision = Decision{Approved: true, Reason: "below risk threshold, auto-approved"}
	} else if handler == nil {
		decision = Decision{Approved: false, Reason: "no approval handler configured"}
	} else {
		decision, err = handler(ctx, call, risk)
		if err != nil {
			decision = Decision{Approved: false, Reason: err.Error()}
		}
	}

	g.recordAudit(AuditEntry{
		Timestamp: time.Now(),
		Call:      call,
		Decision:  decision,
		Reason:    decision.Reason,
		Risk:      risk,
	})

	return decision, err
}

func (g *Gate) recordAudit(entry AuditEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.audit = append(g.audit, entry)
	if len(g.audit) > auditCap {
		overflow := len(g.audit) - auditCap
		g.audit = g.audit[overflow:]
	}
}

// Audit returns a copy of the current audit log, oldest first.
func (g *Gate) Audit() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}
