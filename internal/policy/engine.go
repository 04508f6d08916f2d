package policy

import (
	"fmt"
	"strings"
	"sync"
)

// ProfileResolvedEvent is emitted on every profile selection, naming the
// source that won (spec.md §4.C: "every resolution emits a
// policy.profile.resolved event naming the selection source").
type ProfileResolvedEvent struct {
	Profile string
	Source  string // "override" | "worker_capability" | "task_type" | "default"
}

// EventSink receives engine-emitted events. The scheduler's event emitter
// satisfies this with a single method, kept minimal here to avoid an import
// cycle on internal/scheduler.
type EventSink interface {
	Emit(name string, data any)
}

type noopSink struct{}

func (noopSink) Emit(string, any) {}

// SelectionContext carries the inputs to profile selection (spec.md §4.C:
// "explicit override > worker-capability > task-type > default").
type SelectionContext struct {
	OverrideProfile       string
	WorkerCapabilityProfile string
	TaskTypeProfile       string
}

// Engine evaluates tool calls and shell commands against a set of named
// profiles.
type Engine struct {
	mu             sync.RWMutex
	profiles       map[string]*Profile
	defaultProfile string
	sink           EventSink
}

// NewEngine creates an Engine with the given profiles keyed by name. One
// profile name must be designated default.
func NewEngine(profiles map[string]*Profile, defaultProfile string) *Engine {
	return &Engine{profiles: profiles, defaultProfile: defaultProfile, sink: noopSink{}}
}

// SetEventSink installs the sink used for policy.profile.resolved events.
func (e *Engine) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetProfiles atomically swaps the profile set and default profile name,
// letting a config watcher hot-reload policy profiles without restarting
// the scheduler.
func (e *Engine) SetProfiles(profiles map[string]*Profile, defaultProfile string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = profiles
	e.defaultProfile = defaultProfile
}

// ResolveProfile implements the selection rule and emits
// policy.profile.resolved.
func (e *Engine) ResolveProfile(ctx SelectionContext) (*Profile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	name, source := e.defaultProfile, "default"
	switch {
	case ctx.OverrideProfile != "":
		name, source = ctx.OverrideProfile, "override"
	case ctx.WorkerCapabilityProfile != "":
		name, source = ctx.WorkerCapabilityProfile, "worker_capability"
	case ctx.TaskTypeProfile != "":
		name, source = ctx.TaskTypeProfile, "task_type"
	}

	p, ok := e.profiles[name]
	if !ok {
		return nil, fmt.Errorf("policy: unknown profile %q", name)
	}
	e.sink.Emit("policy.profile.resolved", ProfileResolvedEvent{Profile: name, Source: source})
	return p, nil
}

// ToolDecision is the structured result of EvaluateTool.
type ToolDecision struct {
	Decision          Decision
	Reason            string
	Profile           string
	MatchedConditions []string
}

// EvaluateTool runs the tool decision algorithm (spec.md §4.C): (1) denied
// tools -> forbidden; (2) whitelist mode with tool absent -> forbidden;
// (3) per-tool rule / argument conditions, first match wins; (4) profile
// default.
func (e *Engine) EvaluateTool(profile *Profile, toolName string, args map[string]any) ToolDecision {
	if profile == nil {
		return ToolDecision{Decision: DecisionForbidden, Reason: "no policy configured"}
	}

	if matchesAny(profile.DeniedTools, toolName) {
		return ToolDecision{Decision: DecisionForbidden, Reason: "tool is in deniedTools", Profile: profile.Name}
	}

	if profile.ToolAccessMode == ModeWhitelist && !matchesAny(profile.AllowedTools, toolName) {
		return ToolDecision{Decision: DecisionForbidden, Reason: "tool not in allowedTools (whitelist mode)", Profile: profile.Name}
	}

	if rule, ok := profile.ToolRules[toolName]; ok {
		for _, cond := range rule.Conditions {
			if cond.Match(args) {
				return ToolDecision{
					Decision:          cond.Decision,
					Reason:            "matched condition: " + cond.Description,
					Profile:           profile.Name,
					MatchedConditions: []string{cond.Description},
				}
			}
		}
		return ToolDecision{Decision: rule.Default, Reason: "per-tool rule default", Profile: profile.Name}
	}

	switch profile.ToolAccessMode {
	case ModeDenylist:
		return ToolDecision{Decision: DecisionAllow, Reason: "allowed (denylist mode, not denied)", Profile: profile.Name}
	case ModeWhitelist:
		return ToolDecision{Decision: DecisionAllow, Reason: "allowed (in whitelist)", Profile: profile.Name}
	default:
		return ToolDecision{Decision: DecisionAllow, Reason: "profile default (mode=all)", Profile: profile.Name}
	}
}

// CommandDecision is the structured result of EvaluateCommand.
type CommandDecision struct {
	Decision Decision
	Reason   string
}

// EvaluateCommand runs the command decision algorithm (spec.md §4.C).
func (e *Engine) EvaluateCommand(profile *Profile, cmd string) CommandDecision {
	if profile == nil {
		return CommandDecision{Decision: DecisionForbidden, Reason: "no policy configured"}
	}

	blocked := append([]string{}, DefaultBlockedCommandPatterns...)
	blocked = append(blocked, profile.BlockedCommandPatterns...)
	for _, pattern := range blocked {
		if strings.Contains(cmd, pattern) {
			return CommandDecision{Decision: DecisionForbidden, Reason: "matches blocked pattern: " + pattern}
		}
	}

	switch profile.BashMode {
	case BashDisabled:
		return CommandDecision{Decision: DecisionForbidden, Reason: "bash disabled for this profile"}
	case BashReadOnly:
		for _, verb := range readOnlyWriteVerbs {
			if strings.Contains(cmd, verb) {
				return CommandDecision{Decision: DecisionForbidden, Reason: "write operation " + strings.TrimSpace(verb) + " blocked in read_only mode"}
			}
		}
	}

	if profile.BashWriteProtection == WriteProtectionBlockFileMutation {
		for _, verb := range readOnlyWriteVerbs {
			if strings.Contains(cmd, verb) {
				return CommandDecision{Decision: DecisionForbidden, Reason: "file mutation blocked by bashWriteProtection"}
			}
		}
	}

	if len(profile.AllowlistPrefixes) > 0 {
		allowed := false
		trimmed := strings.TrimSpace(cmd)
		for _, prefix := range profile.AllowlistPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return CommandDecision{Decision: DecisionForbidden, Reason: "command does not start with an allowlisted prefix"}
		}
	}

	return CommandDecision{Decision: DecisionAllow, Reason: "allowed"}
}
