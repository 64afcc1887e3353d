// Package agent runs the model turn loop on top of the memory manager.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/recall/internal/memory"
	"github.com/user/recall/pkg/llm"
)

// DefaultMaxRounds bounds model calls per Run.
const DefaultMaxRounds = 10

// Agent records a conversation in a memory manager and drives the model,
// executing requested tools between calls.
type Agent struct {
	provider      llm.Provider
	memory        *memory.Manager
	registry      *Registry
	history       memory.HistoryOptions
	systemPrompt  string
	maxRounds     int
	maxToolResult int
}

// Option configures an Agent.
type Option func(*Agent)

// WithHistory shapes the history sent to the model.
func WithHistory(opts memory.HistoryOptions) Option {
	return func(a *Agent) { a.history = opts }
}

// WithSystemPrompt pins a system message at the start of new sessions.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithMaxRounds bounds the number of model calls per Run.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithMaxToolResult truncates stored tool results to n runes.
func WithMaxToolResult(n int) Option {
	return func(a *Agent) { a.maxToolResult = n }
}

// New creates an agent. registry may be nil when no tools are offered.
func New(provider llm.Provider, mem *memory.Manager, registry *Registry, opts ...Option) *Agent {
	if registry == nil {
		registry = NewRegistry()
	}
	a := &Agent{
		provider:  provider,
		memory:    mem,
		registry:  registry,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Derive returns an agent sharing this agent's provider, memory and tools
// with opts applied on top of its settings. Agents derived from one another
// see the same sessions.
func (a *Agent) Derive(opts ...Option) *Agent {
	d := *a
	for _, opt := range opts {
		opt(&d)
	}
	return &d
}

// Memory returns the manager the agent records into.
func (a *Agent) Memory() *memory.Manager { return a.memory }

type sessionKey struct{}

// ContextWithSession returns ctx carrying the session a tool runs in.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session id set by Run for tool execution.
func SessionFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionKey{}).(string)
	return sid, ok && sid != ""
}

// Run records input as a user message and loops until the model answers
// without tool calls. It returns the final assistant text.
func (a *Agent) Run(ctx context.Context, sessionID, input string) (string, error) {
	if err := a.ensureSystemPrompt(ctx, sessionID); err != nil {
		return "", err
	}
	if _, err := a.memory.AddUser(ctx, sessionID, input); err != nil {
		return "", fmt.Errorf("record user message: %w", err)
	}

	tools := a.registry.AsLLMTools()
	toolCtx := ContextWithSession(ctx, sessionID)
	for round := 0; round < a.maxRounds; round++ {
		payload, err := a.memory.BuildHistory(sessionID, a.history)
		if err != nil {
			return "", fmt.Errorf("build history: %w", err)
		}

		resp, err := a.provider.Complete(ctx, payload.Wire(), tools)
		if err != nil {
			return "", fmt.Errorf("LLM call: %w", err)
		}
		if _, err := a.memory.AddAssistantResponse(ctx, sessionID, resp); err != nil {
			return "", fmt.Errorf("record assistant message: %w", err)
		}
		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		results := make([]memory.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			results = append(results, memory.ToolResult{
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    a.execute(toolCtx, tc),
			})
		}
		if _, err := a.memory.AddToolResult(ctx, sessionID, results...); err != nil {
			return "", fmt.Errorf("record tool results: %w", err)
		}
	}

	slog.Warn("max tool rounds exceeded", "session_id", sessionID, "rounds", a.maxRounds)
	return "", fmt.Errorf("max tool rounds (%d) exceeded", a.maxRounds)
}

func (a *Agent) ensureSystemPrompt(ctx context.Context, sessionID string) error {
	if a.systemPrompt == "" {
		return nil
	}
	if len(a.memory.GetMessages(sessionID, memory.Query{Role: memory.RoleSystem, Limit: 1})) > 0 {
		return nil
	}
	sys := memory.SystemMessage(a.systemPrompt).WithPinned(true)
	if _, err := a.memory.Inject(ctx, sessionID, memory.PositionStart, sys); err != nil {
		return fmt.Errorf("record system prompt: %w", err)
	}
	return nil
}

// execute runs one tool call. Failures become the result text so the model
// can react to them.
func (a *Agent) execute(ctx context.Context, tc llm.ToolCall) string {
	tool, ok := a.registry.Get(tc.Function.Name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", tc.Function.Name)
	}
	args := json.RawMessage(tc.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		slog.Debug("tool failed", "tool", tc.Function.Name, "call_id", tc.ID, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	if a.maxToolResult > 0 {
		if r := []rune(result); len(r) > a.maxToolResult {
			result = string(r[:a.maxToolResult]) + "\n[truncated]"
		}
	}
	return result
}
