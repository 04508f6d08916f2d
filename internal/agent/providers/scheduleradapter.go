package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentkit/runtime/internal/agent"
	"github.com/agentkit/runtime/internal/registry"
	"github.com/agentkit/runtime/internal/scheduler"
	"github.com/agentkit/runtime/pkg/models"
)

// SchedulerAdapter wraps an agent.LLMProvider's streaming Complete() method
// behind scheduler.LLMProvider's single-shot Chat() method, draining the
// chunk channel and aggregating it into one scheduler.LLMResponse. This is
// the seam cmd/agentrt uses to bind a real LLM backend (AnthropicProvider,
// OpenAIProvider, ...) to the Iteration Scheduler.
type SchedulerAdapter struct {
	Provider agent.LLMProvider
	Registry *registry.Registry
	System   string
}

// NewSchedulerAdapter wraps provider for use as a scheduler.LLMProvider. reg
// is used only to give agent.Tool.Execute a real dispatch path; normal
// operation routes tool execution through the scheduler instead.
func NewSchedulerAdapter(provider agent.LLMProvider, reg *registry.Registry, system string) *SchedulerAdapter {
	return &SchedulerAdapter{Provider: provider, Registry: reg, System: system}
}

// Chat implements scheduler.LLMProvider.
func (a *SchedulerAdapter) Chat(ctx context.Context, messages []*models.Message, opts scheduler.LLMOptions) (*scheduler.LLMResponse, error) {
	req := &agent.CompletionRequest{
		Model:     opts.Model,
		System:    a.System,
		Messages:  toCompletionMessages(messages),
		Tools:     toAgentTools(a.Registry, opts.Tools),
		MaxTokens: opts.MaxTokens,
	}

	chunks, err := a.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scheduler adapter: %w", err)
	}

	var text strings.Builder
	var thinking strings.Builder
	var toolCalls []models.ToolCall
	var inTok, outTok int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inTok = chunk.InputTokens
			outTok = chunk.OutputTokens
		}
	}

	stopReason := "end_turn"
	if len(toolCalls) > 0 {
		stopReason = "tool_use"
	}

	return &scheduler.LLMResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Thinking:   thinking.String(),
		Usage: scheduler.LLMUsage{
			InputTokens:  int64(inTok),
			OutputTokens: int64(outTok),
		},
	}, nil
}

// toCompletionMessages converts the context store's message log into the
// provider-facing shape, pulling any leading system-role messages out (they
// ride in CompletionRequest.System instead, appended to the adapter's base
// system prompt).
func toCompletionMessages(messages []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

// registryTool adapts a registry.ToolDescription to agent.Tool, dispatching
// Execute through the owning Registry. The Iteration Scheduler normally
// executes tool calls itself (policy/approval gating happens there), so
// Execute here only matters for an agent.LLMProvider that calls tools
// directly rather than returning a tool_use turn for the scheduler to
// dispatch.
type registryTool struct {
	desc registry.ToolDescription
	reg  *registry.Registry
}

func (t registryTool) Name() string           { return t.desc.Name }
func (t registryTool) Description() string    { return t.desc.Description }
func (t registryTool) Schema() json.RawMessage { return t.desc.Parameters }

func (t registryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}
	res := t.reg.Execute(ctx, t.desc.Name, args)
	if !res.Success {
		msg := "tool execution failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return &agent.ToolResult{Content: msg, IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("%v", res.Output)}, nil
}

func toAgentTools(reg *registry.Registry, descs []registry.ToolDescription) []agent.Tool {
	out := make([]agent.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, registryTool{desc: d, reg: reg})
	}
	return out
}
