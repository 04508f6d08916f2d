package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the surface a run was invoked from.
type ChannelType string

const (
	ChannelCLI       ChannelType = "cli"
	ChannelAPI       ChannelType = "api"
	ChannelScheduled ChannelType = "scheduled"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels.
//
// Messages are ordered and append-only within a run; mutation only happens
// through compaction (internal/contextstore) or checkpoint restore
// (internal/thread). ToolCallID is set on tool-role messages and must match
// the ID of an assistant ToolCall earlier in the same message log.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel"`
	ChannelID   string         `json:"channel_id"` // Platform-specific message ID
	Direction   Direction      `json:"direction"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Blocks      []ContentBlock `json:"blocks,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ContentBlockType distinguishes structured content block kinds.
type ContentBlockType string

const (
	ContentBlockText  ContentBlockType = "text"
	ContentBlockImage ContentBlockType = "image"
)

// CacheControl marks a content block eligible for provider-side prompt
// caching. Only "ephemeral" is currently meaningful to LLM adapters.
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// ContentBlock is one element of a Message's structured content, used when
// a message carries more than a single plain-text body (e.g. interleaved
// text and images, or text marked for prompt caching).
type ContentBlock struct {
	Type         ContentBlockType `json:"type"`
	Text         string           `json:"text,omitempty"`
	ImageURL     string           `json:"image_url,omitempty"`
	CacheControl *CacheControl    `json:"cache_control,omitempty"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
//
// Input is the raw wire representation of the arguments as returned by the
// LLM adapter; Arguments is the decoded form the policy engine, approval
// gate, and progress detector operate on. ParseError is set when Input could
// not be decoded into Arguments — callers must still surface the call (with
// its arguments as nil) rather than drop it, so the LLM can be told about
// the malformed call via a synthetic tool-role reply.
type ToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input"`
	Arguments  map[string]any  `json:"arguments,omitempty"`
	ParseError string          `json:"parse_error,omitempty"`
}

// DecodeArguments parses Input into Arguments, recording ParseError instead
// of returning an error so a malformed call can still flow through the
// scheduler as data.
func (tc *ToolCall) DecodeArguments() {
	if len(tc.Input) == 0 {
		tc.Arguments = map[string]any{}
		return
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Input, &args); err != nil {
		tc.ParseError = err.Error()
		tc.Arguments = nil
		return
	}
	tc.Arguments = args
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// SessionType classifies a session's position in the parent/child tree
// required by the persistence contract (spec §6): a session is either the
// root of a run, a spawned subagent, or a forked branch of another session.
type SessionType string

const (
	SessionTypeRoot     SessionType = "root"
	SessionTypeSubagent SessionType = "subagent"
	SessionTypeBranch   SessionType = "branch"
)

// Session represents a conversation thread.
type Session struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	Channel         ChannelType    `json:"channel"`
	ChannelID       string         `json:"channel_id"`
	Key             string         `json:"key"`
	Title           string         `json:"title,omitempty"`
	ParentSessionID string         `json:"parent_session_id,omitempty"`
	SessionType     SessionType    `json:"session_type,omitempty"`
	Tokens          int            `json:"tokens,omitempty"`
	Cost            float64        `json:"cost,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured AI agent.
type Agent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// APIKey represents an API key for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // First 8 chars for identification
	Scopes     []string  `json:"scopes,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
