package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// RegistrySource adapts a *Manager to internal/registry.MCPSource's narrower
// shape (FindTool returning a found bool rather than the full *MCPTool, plus
// a Describe method), so internal/registry never needs to import this
// package's richer catalog types directly.
type RegistrySource struct {
	manager *Manager
}

// NewRegistrySource wraps manager for use as an internal/registry.MCPSource.
func NewRegistrySource(manager *Manager) *RegistrySource {
	return &RegistrySource{manager: manager}
}

// FindTool reports which server owns name, if any.
func (s *RegistrySource) FindTool(name string) (serverID string, found bool) {
	serverID, tool := s.manager.FindTool(name)
	return serverID, tool != nil
}

// Describe returns the cached description and input schema for name.
func (s *RegistrySource) Describe(name string) (description string, parameters json.RawMessage, found bool) {
	_, tool := s.manager.FindTool(name)
	if tool == nil {
		return "", nil, false
	}
	return tool.Description, tool.InputSchema, true
}

// CallTool dispatches the call and flattens the MCP content blocks into a
// single string, matching internal/registry.MCPSource's string-content
// contract.
func (s *RegistrySource) CallTool(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	result, err := s.manager.CallTool(ctx, serverID, name, args)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, c := range result.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		if text == "" {
			text = "tool call failed"
		}
		return text, errors.New(text)
	}
	return text, nil
}
