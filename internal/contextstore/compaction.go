package contextstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentkit/runtime/pkg/models"
)

const (
	// DefaultPreserveRecentCount is the default tail length kept verbatim
	// across a compaction (spec.md §4.B step 2).
	DefaultPreserveRecentCount = 10

	// DefaultSummaryMaxTokens bounds the summarization response.
	DefaultSummaryMaxTokens = 2000

	// truncateContentAt is the per-message content length above which the
	// rendered compact set is truncated with a marker.
	truncateContentAt = 2000
)

// Summarizer generates a prose summary of a set of rendered messages.
// Grounded on internal/compaction.Summarizer, trimmed to the single call
// Context Store needs (chunking/merging lives in this package instead).
type Summarizer interface {
	Summarize(ctx context.Context, rendered string, maxTokens int) (string, error)
}

// CompactionOptions configures Compact.
type CompactionOptions struct {
	Threshold           int
	PreserveRecentCount int
	SummaryMaxTokens    int
}

// CompactionResult reports what a compaction pass did.
type CompactionResult struct {
	Compacted       bool
	Summary         string
	DroppedMessages int
	UsedFallback    bool
}

func (o CompactionOptions) withDefaults() CompactionOptions {
	if o.PreserveRecentCount <= 0 {
		o.PreserveRecentCount = DefaultPreserveRecentCount
	}
	if o.SummaryMaxTokens <= 0 {
		o.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	return o
}

// Compact runs the Context Store compaction algorithm (spec.md §4.B) if the
// current log's estimated tokens meets or exceeds opts.Threshold. It is a
// no-op otherwise.
//
// Algorithm: extract the leading system message verbatim, split the rest
// into a tail of the last PreserveRecentCount messages and a "compact set"
// of everything before it, widen the tail leftward until no assistant
// tool_calls message is split from its tool-role reply, render the compact
// set as truncated role-tagged text, summarize it with summarizer, and
// rebuild the log as [system?, synthetic-summary, ...tail]. On summarizer
// failure, falls back to a deterministic extraction.
func (s *Store) Compact(ctx context.Context, summarizer Summarizer, opts CompactionOptions) (CompactionResult, error) {
	opts = opts.withDefaults()
	if opts.Threshold > 0 && s.EstimateTokens() < opts.Threshold {
		return CompactionResult{}, nil
	}

	messages := s.messages
	if len(messages) == 0 {
		return CompactionResult{}, nil
	}

	var systemMsg *models.Message
	rest := messages
	if messages[0].Role == models.RoleSystem {
		systemMsg = messages[0]
		rest = messages[1:]
	}

	splitIdx := len(rest) - opts.PreserveRecentCount
	if splitIdx < 0 {
		splitIdx = 0
	}
	splitIdx = widenForPairIntegrity(rest, splitIdx)

	compactSet := rest[:splitIdx]
	tail := rest[splitIdx:]

	if len(compactSet) == 0 {
		return CompactionResult{}, nil
	}

	rendered := renderCompactSet(compactSet)

	var summary string
	var usedFallback bool
	if summarizer != nil {
		out, err := summarizer.Summarize(ctx, rendered, opts.SummaryMaxTokens)
		if err != nil {
			summary = fallbackSummary(compactSet)
			usedFallback = true
		} else {
			summary = out
		}
	} else {
		summary = fallbackSummary(compactSet)
		usedFallback = true
	}

	newMessages := make([]*models.Message, 0, len(tail)+2)
	if systemMsg != nil {
		newMessages = append(newMessages, systemMsg)
	}
	newMessages = append(newMessages, &models.Message{
		Role:    models.RoleSystem,
		Content: "[Conversation Summary]\n" + summary,
	})
	newMessages = append(newMessages, tail...)

	s.Replace(newMessages)

	return CompactionResult{
		Compacted:       true,
		Summary:         summary,
		DroppedMessages: len(compactSet),
		UsedFallback:    usedFallback,
	}, nil
}

// widenForPairIntegrity shifts splitIdx leftward until the compact set never
// ends with an assistant message whose tool_calls reply lands in the tail
// (spec.md §4.B final paragraph — P6).
func widenForPairIntegrity(rest []*models.Message, splitIdx int) int {
	for splitIdx > 0 {
		last := rest[splitIdx-1]
		if last.Role != models.RoleAssistant || len(last.ToolCalls) == 0 {
			break
		}
		if allRepliesInTail(last.ToolCalls, rest[splitIdx:]) {
			break
		}
		splitIdx--
	}
	return splitIdx
}

func allRepliesInTail(calls []models.ToolCall, tail []*models.Message) bool {
	for _, tc := range calls {
		found := false
		for _, m := range tail {
			if m.Role == models.RoleTool && m.ToolCallID == tc.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func renderCompactSet(messages []*models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: %s", m.Role, truncateContent(m.Content)))
		if len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			sb.WriteString(fmt.Sprintf("\n  [Used tools: %s]", strings.Join(names, ", ")))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func truncateContent(s string) string {
	if len(s) <= truncateContentAt {
		return s
	}
	return s[:truncateContentAt] + "… [truncated]"
}

// fallbackSummary builds the deterministic extraction used when the
// summarizer is absent or fails: up to 5 user-request previews plus the
// distinct set of tool names used.
func fallbackSummary(messages []*models.Message) string {
	var previews []string
	toolSet := map[string]bool{}
	var tools []string

	for _, m := range messages {
		if m.Role == models.RoleUser && len(previews) < 5 {
			previews = append(previews, truncatePreview(m.Content, 100))
		}
		for _, tc := range m.ToolCalls {
			if !toolSet[tc.Name] {
				toolSet[tc.Name] = true
				tools = append(tools, tc.Name)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("Prior history (automatic fallback summary):\n")
	for i, p := range previews {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, p))
	}
	if len(tools) > 0 {
		sb.WriteString("Tools used: " + strings.Join(tools, ", "))
	}
	return sb.String()
}

func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
