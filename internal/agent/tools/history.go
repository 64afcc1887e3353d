// Package tools provides agent tools that read and curate the session the
// agent is running in.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/recall/internal/agent"
	"github.com/user/recall/internal/memory"
	"github.com/user/recall/internal/predicate"
)

const (
	defaultSearchLimit = 10
	maxSnippetRunes    = 200
)

func sessionFrom(ctx context.Context) (string, error) {
	sid, ok := agent.SessionFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no session in context")
	}
	return sid, nil
}

// SearchHistory finds earlier messages of the current session matching an
// expression.
type SearchHistory struct{ mem *memory.Manager }

func NewSearchHistory(mem *memory.Manager) *SearchHistory { return &SearchHistory{mem: mem} }

func (s *SearchHistory) Name() string { return "search_history" }
func (s *SearchHistory) Description() string {
	return "Search earlier messages of this conversation with an expression over role, content, tags, pinned and age"
}
func (s *SearchHistory) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {"type": "string", "description": "Filter such as: role == \"user\" && content contains \"deadline\""},
			"limit": {"type": "integer", "description": "Maximum messages to return (default 10)"}
		},
		"required": ["expression"]
	}`)
}

func (s *SearchHistory) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Expression string `json:"expression"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.Expression == "" {
		return "", fmt.Errorf("expression is required")
	}
	if params.Limit <= 0 {
		params.Limit = defaultSearchLimit
	}
	sid, err := sessionFrom(ctx)
	if err != nil {
		return "", err
	}
	pred, err := predicate.Parse(params.Expression)
	if err != nil {
		return "", err
	}

	matches := s.mem.GetMessages(sid, memory.Query{Filter: pred, Limit: params.Limit})
	if len(matches) == 0 {
		return "No matching messages.", nil
	}

	var sb strings.Builder
	for _, m := range matches {
		text := m.DisplayContent()
		if r := []rune(text); len(r) > maxSnippetRunes {
			text = string(r[:maxSnippetRunes]) + "..."
		}
		fmt.Fprintf(&sb, "%s [%s] %s\n", m.ID(), m.Role(), text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// PinMessage pins a message so it survives compression and history
// windows.
type PinMessage struct{ mem *memory.Manager }

func NewPinMessage(mem *memory.Manager) *PinMessage { return &PinMessage{mem: mem} }

func (p *PinMessage) Name() string { return "pin_message" }
func (p *PinMessage) Description() string {
	return "Pin a message of this conversation so it is always remembered"
}
func (p *PinMessage) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message_id": {"type": "string", "description": "ID of the message to pin, as returned by search_history"}
		},
		"required": ["message_id"]
	}`)
}

func (p *PinMessage) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	if params.MessageID == "" {
		return "", fmt.Errorf("message_id is required")
	}
	sid, err := sessionFrom(ctx)
	if err != nil {
		return "", err
	}
	rec, err := p.mem.Pin(ctx, sid, params.MessageID)
	if err != nil {
		return "", err
	}
	if rec.IsNoop() {
		return "Message already pinned: " + params.MessageID, nil
	}
	return "Pinned: " + params.MessageID, nil
}

// Register adds the history tools to r.
func Register(r *agent.Registry, mem *memory.Manager) {
	r.Register(NewSearchHistory(mem))
	r.Register(NewPinMessage(mem))
}
