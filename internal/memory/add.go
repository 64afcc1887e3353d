package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/user/recall/pkg/llm"
)

// ToolResult is the output of one executed tool call. Content that is not a
// string is stored as its JSON encoding.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    any
}

// AddMessage appends msg to the session, creating the session if needed.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, msg Message) (Message, error) {
	if _, err := m.AddMessages(ctx, sessionID, msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// AddMessages appends msgs as a single undoable operation.
func (m *Manager) AddMessages(ctx context.Context, sessionID string, msgs ...Message) (*OperationRecord, error) {
	return m.insert(ctx, sessionID, OpAdd, PositionEnd, msgs)
}

// insert adds msgs at pos as one operation, then enforces the message cap.
func (m *Manager) insert(ctx context.Context, sessionID string, kind OpKind, pos Position, msgs []Message) (*OperationRecord, error) {
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			m.observer.ObserveOperation(kind, 0, err)
			return nil, err
		}
	}
	if err := validateSessionID(sessionID); err != nil {
		m.observer.ObserveOperation(kind, 0, err)
		return nil, err
	}

	unlock := m.lockSession(sessionID)
	defer unlock()

	rec, err := m.mutateLocked(ctx, sessionID, true, func(s *session) (*OperationRecord, []Message, error) {
		at, err := pos.resolve(s.messages)
		if err != nil {
			return nil, nil, err
		}
		if err := checkNewIDs(s.messages, msgs); err != nil {
			return nil, nil, err
		}
		if m.maxMessages > 0 && !m.autoCompress && len(s.messages)+len(msgs) > m.maxMessages {
			return nil, nil, &CapacityError{SessionID: sessionID, Limit: m.maxMessages, Requested: len(s.messages) + len(msgs)}
		}
		warnUnknownToolResults(sessionID, s.messages, msgs)
		return newRecord(kind, sessionID, s.messages, insertEdits(at, msgs))
	})
	m.observer.ObserveOperation(kind, affectedOf(rec), err)
	if err != nil {
		return nil, err
	}

	if m.maxMessages > 0 && m.autoCompress {
		if n := len(m.lookup(sessionID).messages); n > m.maxMessages {
			slog.Debug("auto-compressing session", "session_id", sessionID, "messages", n, "limit", m.maxMessages)
			crec, err := m.compressLocked(ctx, sessionID, CompressPolicy{KeepLast: m.maxMessages})
			m.observer.ObserveOperation(OpCompress, affectedOf(crec), err)
			if err != nil {
				return rec, fmt.Errorf("auto-compress session %s: %w", sessionID, err)
			}
		}
	}
	return rec, nil
}

func affectedOf(rec *OperationRecord) int {
	if rec == nil {
		return 0
	}
	return rec.Affected()
}

// checkNewIDs rejects ids already present in the session or repeated within
// the batch.
func checkNewIDs(existing, added []Message) error {
	seen := make(map[string]bool, len(existing)+len(added))
	for _, msg := range existing {
		seen[msg.id] = true
	}
	for _, msg := range added {
		if seen[msg.id] {
			return invalid("message", "duplicate message id %s", msg.id)
		}
		seen[msg.id] = true
	}
	return nil
}

// warnUnknownToolResults logs tool results whose call id was never issued.
// They are still stored; BuildHistory reports the broken chain.
func warnUnknownToolResults(sessionID string, existing, added []Message) {
	issued := make(map[string]bool)
	for _, msg := range slices.Concat(existing, added) {
		for _, tc := range msg.toolCalls {
			issued[tc.ID] = true
		}
	}
	for _, msg := range added {
		if msg.role == RoleTool && !issued[msg.toolCallID] {
			slog.Warn("tool result for unknown tool call", "session_id", sessionID, "tool_call_id", msg.toolCallID)
		}
	}
}

func (m *Manager) AddUser(ctx context.Context, sessionID, content string) (Message, error) {
	return m.AddMessage(ctx, sessionID, UserMessage(content))
}

func (m *Manager) AddSystem(ctx context.Context, sessionID, content string) (Message, error) {
	return m.AddMessage(ctx, sessionID, SystemMessage(content))
}

// AddAssistant records an assistant turn, optionally issuing tool calls.
func (m *Manager) AddAssistant(ctx context.Context, sessionID, content string, calls ...ToolCall) (Message, error) {
	return m.AddMessage(ctx, sessionID, AssistantMessage(content, calls...))
}

// AddAssistantResponse records a provider response, carrying over any tool
// calls it requested.
func (m *Manager) AddAssistantResponse(ctx context.Context, sessionID string, resp *llm.Response) (Message, error) {
	if resp == nil {
		return Message{}, invalid("response", "nil response")
	}
	calls := make([]ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return m.AddAssistant(ctx, sessionID, resp.Content, calls...)
}

// AddToolResult records one tool message per result as one operation.
func (m *Manager) AddToolResult(ctx context.Context, sessionID string, results ...ToolResult) ([]Message, error) {
	msgs := make([]Message, 0, len(results))
	for _, r := range results {
		if r.ToolCallID == "" {
			return nil, invalid("tool_call_id", "tool result without tool_call_id")
		}
		content, err := toolContent(r.Content)
		if err != nil {
			return nil, invalid("content", "encode result of %s: %v", r.ToolCallID, err)
		}
		msgs = append(msgs, ToolMessage(r.ToolCallID, r.Name, content))
	}
	if _, err := m.AddMessages(ctx, sessionID, msgs...); err != nil {
		return nil, err
	}
	return msgs, nil
}

func toolContent(v any) (string, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []byte:
		return string(c), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AddWire records an OpenAI-format message.
func (m *Manager) AddWire(ctx context.Context, sessionID string, w llm.Message) (Message, error) {
	msg, err := MessageFromWire(w)
	if err != nil {
		return Message{}, err
	}
	return m.AddMessage(ctx, sessionID, msg)
}
