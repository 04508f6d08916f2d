// Package contextstore implements the Context Store component: the ordered
// message log, token estimation, breakdown accounting, and compaction.
//
// Grounded on internal/agent/context/packer.go's budget-bounded message
// selection and internal/compaction/compaction.go's chunked-summarization
// algorithm, generalized to the message-log contract the scheduler needs.
package contextstore

import (
	"fmt"

	"github.com/agentkit/runtime/pkg/models"
)

// CharsPerToken is the approximate character-to-token ratio used by
// estimateTokens, matching internal/compaction.CharsPerToken.
const CharsPerToken = 4

// Breakdown is the per-section token accounting returned by Breakdown,
// consumed by the UI and by the MCP lazy loader when deciding whether to
// eject tool definitions.
type Breakdown struct {
	SystemPrompt    int
	ToolSchemas     int
	Rules           int
	Memory          int
	Conversation    int
	MCPSummaries    int
	MCPDefinitions  int
	Total           int
	Percentages     map[string]float64
}

// BreakdownOptions carries the non-message token counts Breakdown folds in;
// Store itself only owns the message log, so these are supplied by the
// caller (the scheduler, which knows the current tool schema/MCP state).
type BreakdownOptions struct {
	ToolSchemas    int
	Rules          int
	Memory         int
	MCPSummaries   int
	MCPDefinitions int
}

// ErrUnpairedToolResult is returned by Append when a tool-role message's
// ToolCallID does not match any preceding assistant tool_call.
var ErrUnpairedToolResult = fmt.Errorf("contextstore: tool-role message has no matching assistant tool_call")

// Store owns one thread's ordered, append-only message log.
//
// Not safe for concurrent use without external synchronization; the
// scheduler owns exactly one Store per running thread and serializes access
// to it by construction (one iteration at a time).
type Store struct {
	messages []*models.Message
	pending  map[string]bool // tool_call IDs awaiting a tool-role reply
}

// New creates an empty Store.
func New() *Store {
	return &Store{pending: make(map[string]bool)}
}

// NewFromMessages rehydrates a Store from a previously persisted or
// checkpointed message list. The caller is expected to hand over ownership;
// Store does not defensively copy.
func NewFromMessages(messages []*models.Message) *Store {
	s := &Store{messages: messages, pending: make(map[string]bool)}
	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				s.pending[tc.ID] = true
			}
		}
		if m.Role == models.RoleTool {
			delete(s.pending, m.ToolCallID)
		}
	}
	return s
}

// Append validates tool-call/tool-result pairing and appends msg to the log.
//
// A tool-role message must reference an assistant tool_call earlier in the
// log (spec invariant); an assistant message's tool_calls are recorded as
// pending until their matching tool-role replies arrive.
func (s *Store) Append(msg *models.Message) error {
	if msg.Role == models.RoleTool {
		if msg.ToolCallID == "" || !s.pending[msg.ToolCallID] {
			return fmt.Errorf("%w: tool_call_id=%q", ErrUnpairedToolResult, msg.ToolCallID)
		}
		delete(s.pending, msg.ToolCallID)
	}
	if msg.Role == models.RoleAssistant {
		for _, tc := range msg.ToolCalls {
			s.pending[tc.ID] = true
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns the current message log. Callers must not mutate the
// returned slice or its elements; use Append/Compact/Restore instead.
func (s *Store) Messages() []*models.Message {
	return s.messages
}

// Len returns the number of messages currently in the log.
func (s *Store) Len() int {
	return len(s.messages)
}

// Replace swaps the entire message log, used by compaction and checkpoint
// restore. The caller is responsible for the invariant that the new list is
// itself well-paired.
func (s *Store) Replace(messages []*models.Message) {
	s.messages = messages
	s.pending = make(map[string]bool)
	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				s.pending[tc.ID] = true
			}
		}
		if m.Role == models.RoleTool {
			delete(s.pending, m.ToolCallID)
		}
	}
}

// EstimateTokens returns the ceiling of (content chars + serialized
// tool_calls/tool_results bytes) / CharsPerToken for a single message.
func EstimateTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	for _, b := range msg.Blocks {
		chars += len(b.Text) + len(b.ImageURL)
	}
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return ceilDiv(chars, CharsPerToken)
}

// EstimateMessagesTokens sums EstimateTokens across messages.
func EstimateMessagesTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// EstimateTokens returns the current log's total estimated tokens.
func (s *Store) EstimateTokens() int {
	return EstimateMessagesTokens(s.messages)
}

// Breakdown reports per-section token accounting and each section's share
// of the total, for UI display and MCP lazy-load decisions.
func (s *Store) Breakdown(opts BreakdownOptions) Breakdown {
	var systemTokens, convTokens int
	for i, m := range s.messages {
		t := EstimateTokens(m)
		if i == 0 && m.Role == models.RoleSystem {
			systemTokens += t
			continue
		}
		convTokens += t
	}

	b := Breakdown{
		SystemPrompt:   systemTokens,
		ToolSchemas:    opts.ToolSchemas,
		Rules:          opts.Rules,
		Memory:         opts.Memory,
		Conversation:   convTokens,
		MCPSummaries:   opts.MCPSummaries,
		MCPDefinitions: opts.MCPDefinitions,
	}
	b.Total = b.SystemPrompt + b.ToolSchemas + b.Rules + b.Memory + b.Conversation + b.MCPSummaries + b.MCPDefinitions
	b.Percentages = map[string]float64{}
	if b.Total > 0 {
		b.Percentages["system_prompt"] = pct(b.SystemPrompt, b.Total)
		b.Percentages["tool_schemas"] = pct(b.ToolSchemas, b.Total)
		b.Percentages["rules"] = pct(b.Rules, b.Total)
		b.Percentages["memory"] = pct(b.Memory, b.Total)
		b.Percentages["conversation"] = pct(b.Conversation, b.Total)
		b.Percentages["mcp_summaries"] = pct(b.MCPSummaries, b.Total)
		b.Percentages["mcp_definitions"] = pct(b.MCPDefinitions, b.Total)
	}
	return b
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
