// Package policy implements the Policy Engine component: tool and shell
// command authorization against a named profile, plus filesystem path
// confinement.
//
// Grounded on internal/tools/policy's Profile/Policy/Resolver model
// (deny-wins pattern matching, group expansion), generalized to the
// spec's toolAccessMode/bashMode profile shape; command danger analysis is
// grounded on internal/tools/security/shell_parser.go and
// internal/exec/safety.go.
package policy

import "strings"

// ToolAccessMode is the profile-level default for tools with no per-tool rule.
type ToolAccessMode string

const (
	ModeAll       ToolAccessMode = "all"
	ModeWhitelist ToolAccessMode = "whitelist"
	ModeDenylist  ToolAccessMode = "denylist"
)

// BashMode controls how much shell access a profile grants.
type BashMode string

const (
	BashDisabled   BashMode = "disabled"
	BashReadOnly   BashMode = "read_only"
	BashTaskScoped BashMode = "task_scoped"
	BashFull       BashMode = "full"
)

// BashWriteProtection is an additional guard layered on top of BashMode.
type BashWriteProtection string

const (
	WriteProtectionOff              BashWriteProtection = "off"
	WriteProtectionBlockFileMutation BashWriteProtection = "block_file_mutation"
)

// Decision is the outcome of a tool or command evaluation.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionPrompt    Decision = "prompt"
	DecisionForbidden Decision = "forbidden"
)

// ToolRule is a per-tool override within a profile: a base decision plus
// argument-condition rules, first matching condition wins (spec.md §4.C
// tool decision algorithm step 3).
type ToolRule struct {
	Tool       string
	Default    Decision
	Conditions []ArgCondition
}

// ArgCondition matches a tool call's arguments against a simple equality or
// substring predicate, in source order; the first match wins.
type ArgCondition struct {
	Description string
	Match       func(args map[string]any) bool
	Decision    Decision
}

// ApprovalSettings controls which decisions the Approval Gate should even
// be consulted for.
type ApprovalSettings struct {
	AutoApprove     []string // tool name patterns that skip the gate entirely
	ScopedApprove   []string // tool name patterns approved once per scope/session
	RequireApproval []string // tool name patterns that always require approval
}

// Profile is the unit of policy configuration (spec.md §4.C "Profile
// model"). Selected per-call by a deterministic rule: explicit override >
// worker-capability > task-type > default.
type Profile struct {
	Name                 string
	ToolAccessMode       ToolAccessMode
	AllowedTools         []string
	DeniedTools          []string
	ToolRules            map[string]ToolRule
	BashMode             BashMode
	BashWriteProtection  BashWriteProtection
	BlockedCommandPatterns []string
	AllowlistPrefixes    []string
	AllowedPaths         []string
	Approval             ApprovalSettings
}

// DefaultBlockedCommandPatterns are checked regardless of BashMode (spec.md
// §4.C command decision algorithm step 1).
var DefaultBlockedCommandPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"sudo ",
	":(){ :|:& };:", // fork bomb
	"mkfs",
	"dd if=/dev/zero",
	"> /dev/sda",
}

// readOnlyWriteVerbs are rejected under BashReadOnly (spec.md §4.C step 3).
var readOnlyWriteVerbs = []string{"rm ", "mv ", "chmod ", ">", ">>", "tee ", "<<"}

// matchesAny reports whether name equals pattern or pattern is a
// "prefix.*"-style wildcard matching name, mirroring
// internal/tools/policy's matchToolPattern.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchesPattern(p, name) {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
