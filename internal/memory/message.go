package memory

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/user/recall/internal/types"
	"github.com/user/recall/pkg/llm"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four chat roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ContentPart is one element of a multimodal message body.
type ContentPart = llm.ContentPart

// ToolCall is a single function invocation issued by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCall creates a tool call with a generated "call_" id.
func NewToolCall(name, arguments string) ToolCall {
	return ToolCall{ID: types.NewToolCallID(), Name: name, Arguments: arguments}
}

// Message is one conversation turn. It is a value type: the With* methods
// return modified copies that keep the same id, and accessors never expose
// internal slices or maps.
type Message struct {
	id         string
	role       Role
	content    *string
	parts      []ContentPart
	toolCalls  []ToolCall
	toolCallID string
	name       string
	pinned     bool
	tags       []string
	metadata   map[string]any
	createdAt  time.Time
}

func newMessage(role Role, content *string) Message {
	return Message{
		id:        types.NewMessageID(),
		role:      role,
		content:   content,
		createdAt: time.Now().UTC(),
	}
}

// NewMessage creates a text message for any role. Tool messages should use
// ToolMessage so the tool_call_id is set.
func NewMessage(role Role, content string) Message {
	return newMessage(role, &content)
}

func UserMessage(content string) Message   { return NewMessage(RoleUser, content) }
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// AssistantMessage creates an assistant turn. With tool calls and empty
// content the content is null, as OpenAI returns it.
func AssistantMessage(content string, calls ...ToolCall) Message {
	var c *string
	if content != "" || len(calls) == 0 {
		c = &content
	}
	m := newMessage(RoleAssistant, c)
	if len(calls) > 0 {
		m.toolCalls = slices.Clone(calls)
	}
	return m
}

// ToolMessage creates the result message answering toolCallID.
func ToolMessage(toolCallID, name, content string) Message {
	m := newMessage(RoleTool, &content)
	m.toolCallID = toolCallID
	m.name = name
	return m
}

// MessageFromWire converts an OpenAI-format message into a new Message.
func MessageFromWire(w llm.Message) (Message, error) {
	m := newMessage(Role(w.Role), nil)
	switch {
	case len(w.Parts) > 0:
		m.parts = slices.Clone(w.Parts)
	case w.Content != "" || len(w.ToolCalls) == 0:
		content := w.Content
		m.content = &content
	}
	for _, tc := range w.ToolCalls {
		m.toolCalls = append(m.toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	m.toolCallID = w.ToolCallID
	m.name = w.Name
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) ID() string           { return m.id }
func (m Message) Role() Role           { return m.role }
func (m Message) ToolCallID() string   { return m.toolCallID }
func (m Message) Name() string         { return m.name }
func (m Message) IsPinned() bool       { return m.pinned }
func (m Message) CreatedAt() time.Time { return m.createdAt }

// HasContent reports whether content is non-null.
func (m Message) HasContent() bool { return m.content != nil || len(m.parts) > 0 }

// Content returns the text content, or "" when content is null.
func (m Message) Content() string {
	if m.content == nil {
		return ""
	}
	return *m.content
}

// Parts returns a copy of the multimodal parts.
func (m Message) Parts() []ContentPart { return slices.Clone(m.parts) }

// Text returns the textual body, joining text parts of multimodal messages.
func (m Message) Text() string {
	if len(m.parts) == 0 {
		return m.Content()
	}
	var texts []string
	for _, p := range m.parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls returns a copy of the tool calls.
func (m Message) ToolCalls() []ToolCall { return slices.Clone(m.toolCalls) }

func (m Message) HasToolCalls() bool { return len(m.toolCalls) > 0 }

// IsToolCallRequest reports an assistant message carrying tool calls.
func (m Message) IsToolCallRequest() bool { return m.role == RoleAssistant && len(m.toolCalls) > 0 }

// ToolCallIDs lists the ids of the issued tool calls in order.
func (m Message) ToolCallIDs() []string {
	ids := make([]string, len(m.toolCalls))
	for i, tc := range m.toolCalls {
		ids[i] = tc.ID
	}
	return ids
}

// ToolNames lists the names of the issued tool calls in order.
func (m Message) ToolNames() []string {
	names := make([]string, len(m.toolCalls))
	for i, tc := range m.toolCalls {
		names[i] = tc.Name
	}
	return names
}

// Tags returns a copy of the tag set in insertion order.
func (m Message) Tags() []string { return slices.Clone(m.tags) }

func (m Message) HasTag(tag string) bool { return slices.Contains(m.tags, tag) }

// HasAnyTag reports whether at least one of tags is set.
func (m Message) HasAnyTag(tags ...string) bool {
	for _, t := range tags {
		if m.HasTag(t) {
			return true
		}
	}
	return false
}

// HasAllTags reports whether every one of tags is set.
func (m Message) HasAllTags(tags ...string) bool {
	for _, t := range tags {
		if !m.HasTag(t) {
			return false
		}
	}
	return len(tags) > 0
}

// Metadata returns a shallow copy of the metadata map.
func (m Message) Metadata() map[string]any { return maps.Clone(m.metadata) }

// MetadataValue returns one metadata entry.
func (m Message) MetadataValue(key string) (any, bool) {
	v, ok := m.metadata[key]
	return v, ok
}

// DisplayContent is the content, or a short description of the tool calls
// for content-less assistant messages.
func (m Message) DisplayContent() string {
	if text := m.Text(); text != "" {
		return text
	}
	if len(m.toolCalls) > 0 {
		return "[Calling tools: " + strings.Join(m.ToolNames(), ", ") + "]"
	}
	return ""
}

func (m Message) clone() Message {
	c := m
	if m.content != nil {
		s := *m.content
		c.content = &s
	}
	c.parts = slices.Clone(m.parts)
	c.toolCalls = slices.Clone(m.toolCalls)
	c.tags = slices.Clone(m.tags)
	c.metadata = maps.Clone(m.metadata)
	return c
}

// WithContent returns a copy with text content replaced and parts dropped.
func (m Message) WithContent(content string) Message {
	c := m.clone()
	c.content = &content
	c.parts = nil
	return c
}

// WithParts returns a copy with multimodal content.
func (m Message) WithParts(parts ...ContentPart) Message {
	c := m.clone()
	c.content = nil
	c.parts = slices.Clone(parts)
	return c
}

// WithMetadata returns a copy with key set to value.
func (m Message) WithMetadata(key string, value any) Message {
	c := m.clone()
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	c.metadata[key] = value
	return c
}

// WithTags returns a copy with tags added. Existing tags are kept.
func (m Message) WithTags(tags ...string) Message {
	c := m.clone()
	for _, t := range tags {
		if t != "" && !slices.Contains(c.tags, t) {
			c.tags = append(c.tags, t)
		}
	}
	return c
}

// ReplaceTags returns a copy whose tag set is exactly tags.
func (m Message) ReplaceTags(tags ...string) Message {
	c := m.clone()
	c.tags = nil
	return c.WithTags(tags...)
}

// WithoutTags returns a copy with tags removed.
func (m Message) WithoutTags(tags ...string) Message {
	c := m.clone()
	c.tags = slices.DeleteFunc(c.tags, func(t string) bool { return slices.Contains(tags, t) })
	if len(c.tags) == 0 {
		c.tags = nil
	}
	return c
}

// WithPinned returns a copy with the pin flag set.
func (m Message) WithPinned(pinned bool) Message {
	c := m.clone()
	c.pinned = pinned
	return c
}

// Validate checks the structural rules of a single message.
func (m Message) Validate() error {
	if m.id == "" {
		return invalid("message", "empty id")
	}
	if !m.role.Valid() {
		return invalid("role", "unknown role %q", m.role)
	}
	if m.role == RoleTool && m.toolCallID == "" {
		return invalid("tool_call_id", "tool message %s has no tool_call_id", m.id)
	}
	if m.role != RoleTool && m.toolCallID != "" {
		return invalid("tool_call_id", "only tool messages carry tool_call_id (message %s is %s)", m.id, m.role)
	}
	if len(m.toolCalls) > 0 && m.role != RoleAssistant {
		return invalid("tool_calls", "only assistant messages carry tool calls (message %s is %s)", m.id, m.role)
	}
	seen := make(map[string]bool, len(m.toolCalls))
	for _, tc := range m.toolCalls {
		if tc.ID == "" {
			return invalid("tool_calls", "message %s has a tool call without id", m.id)
		}
		if tc.Name == "" {
			return invalid("tool_calls", "tool call %s has no name", tc.ID)
		}
		if seen[tc.ID] {
			return invalid("tool_calls", "duplicate tool call id %s", tc.ID)
		}
		seen[tc.ID] = true
	}
	return nil
}

// Equal compares every field, including id and timestamp.
func (m Message) Equal(o Message) bool {
	if m.id != o.id || m.role != o.role || m.toolCallID != o.toolCallID ||
		m.name != o.name || m.pinned != o.pinned || !m.createdAt.Equal(o.createdAt) {
		return false
	}
	if (m.content == nil) != (o.content == nil) || m.Content() != o.Content() {
		return false
	}
	if !slices.Equal(m.toolCalls, o.toolCalls) || !slices.Equal(m.tags, o.tags) {
		return false
	}
	if len(m.parts) != len(o.parts) || (len(m.parts) > 0 && !reflect.DeepEqual(m.parts, o.parts)) {
		return false
	}
	if len(m.metadata) != len(o.metadata) || (len(m.metadata) > 0 && !reflect.DeepEqual(m.metadata, o.metadata)) {
		return false
	}
	return true
}

// Wire converts the message to the OpenAI chat format. Memory-only fields
// (id, pin, tags, metadata, timestamp) are not sent to the model.
func (m Message) Wire() llm.Message {
	w := llm.Message{
		Role:    string(m.role),
		Content: m.Content(),
		Parts:   slices.Clone(m.parts),
	}
	for _, tc := range m.toolCalls {
		w.ToolCalls = append(w.ToolCalls, llm.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: llm.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	if m.role == RoleTool {
		w.ToolCallID = m.toolCallID
		w.Name = m.name
	}
	return w
}

func (m Message) String() string {
	preview := m.DisplayContent()
	if r := []rune(preview); len(r) > 30 {
		preview = string(r[:30]) + "..."
	}
	var extras []string
	if m.pinned {
		extras = append(extras, "pinned")
	}
	if len(m.tags) > 0 {
		extras = append(extras, "tags="+strings.Join(m.tags, ","))
	}
	s := fmt.Sprintf("%s(%s): %q", m.role, m.id, preview)
	if len(extras) > 0 {
		s += " [" + strings.Join(extras, " ") + "]"
	}
	return s
}

type messageRecord struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    *string        `json:"content"`
	Parts      []ContentPart  `json:"parts,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Pinned     bool           `json:"pinned,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MarshalJSON encodes the full stored form of the message.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageRecord{
		ID:         m.id,
		Role:       m.role,
		Content:    m.content,
		Parts:      m.parts,
		ToolCalls:  m.toolCalls,
		ToolCallID: m.toolCallID,
		Name:       m.name,
		Pinned:     m.pinned,
		Tags:       m.tags,
		Metadata:   m.metadata,
		CreatedAt:  m.createdAt,
	})
}

// UnmarshalJSON decodes and validates the stored form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var r messageRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	decoded := Message{
		id:         r.ID,
		role:       r.Role,
		content:    r.Content,
		parts:      r.Parts,
		toolCalls:  r.ToolCalls,
		toolCallID: r.ToolCallID,
		name:       r.Name,
		pinned:     r.Pinned,
		tags:       r.Tags,
		metadata:   r.Metadata,
		createdAt:  r.CreatedAt,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
