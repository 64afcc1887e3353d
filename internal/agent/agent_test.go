package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/user/recall/internal/memory"
	"github.com/user/recall/pkg/llm"
)

// mockProvider returns pre-configured responses and records each request.
type mockProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  [][]llm.Message
	err       error
}

func (m *mockProvider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.requests)
	m.requests = append(m.requests, messages)
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &llm.Response{Content: "fallback"}, nil
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func TestRunSimpleResponse(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{{Content: "Hello! How can I help?"}}}
	mem := memory.NewManager()
	a := New(provider, mem, nil, WithSystemPrompt("You are helpful."))

	out, err := a.Run(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello! How can I help?" {
		t.Errorf("unexpected answer %q", out)
	}

	msgs := mem.GetMessages("s1", memory.Query{})
	if len(msgs) != 3 || msgs[0].Role() != memory.RoleSystem || !msgs[0].IsPinned() {
		t.Fatalf("expected pinned system, user, assistant; got %v", msgs)
	}
	req := provider.requests[0]
	if len(req) != 2 || req[1].Content != "hi" {
		t.Errorf("unexpected request: %+v", req)
	}

	if _, err := a.Run(context.Background(), "s1", "again"); err != nil {
		t.Fatal(err)
	}
	if n := len(mem.GetMessages("s1", memory.Query{Role: memory.RoleSystem})); n != 1 {
		t.Errorf("system prompt should be added once, got %d", n)
	}
}

func TestRunWithToolCalls(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			toolCall("call_1", "echo", `{"text":"pong"}`),
			toolCall("call_2", "missing", `{}`),
		}},
		{Content: "The echo said pong."},
	}}
	mem := memory.NewManager()
	a := New(provider, mem, NewRegistry(&echoTool{}))

	out, err := a.Run(context.Background(), "s1", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if out != "The echo said pong." {
		t.Errorf("unexpected answer %q", out)
	}

	tools := mem.GetMessages("s1", memory.Query{Role: memory.RoleTool})
	if len(tools) != 2 || tools[0].Content() != "pong" || !strings.Contains(tools[1].Content(), "unknown tool") {
		t.Errorf("unexpected tool results: %v", tools)
	}
	if !mem.CheckToolChain("s1").Valid {
		t.Error("tool chain should be closed")
	}

	second := provider.requests[1]
	if len(second) != 4 || second[1].ToolCalls == nil || second[2].ToolCallID != "call_1" {
		t.Errorf("second request should carry the tool round: %+v", second)
	}
}

func TestRunMaxRounds(t *testing.T) {
	var responses []*llm.Response
	for _, id := range []string{"call_a", "call_b", "call_c"} {
		responses = append(responses, &llm.Response{ToolCalls: []llm.ToolCall{toolCall(id, "echo", `{"text":"x"}`)}})
	}
	provider := &mockProvider{responses: responses}
	a := New(provider, memory.NewManager(), NewRegistry(&echoTool{}), WithMaxRounds(3))

	_, err := a.Run(context.Background(), "s1", "loop")
	if err == nil || !strings.Contains(err.Error(), "max tool rounds (3) exceeded") {
		t.Errorf("expected max rounds error, got %v", err)
	}
}

func TestRunProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("unavailable")}
	mem := memory.NewManager()
	a := New(provider, mem, nil)
	if _, err := a.Run(context.Background(), "s1", "hi"); !errors.Is(err, provider.err) {
		t.Errorf("expected provider error, got %v", err)
	}
	if n := len(mem.GetMessages("s1", memory.Query{})); n != 1 {
		t.Errorf("user message should stay recorded, got %d messages", n)
	}
}

func TestDeriveSharesMemory(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{{Content: "one"}, {Content: "two"}}}
	mem := memory.NewManager()
	base := New(provider, mem, nil)
	windowed := base.Derive(WithHistory(memory.HistoryOptions{MaxRounds: 1}))

	if _, err := base.Run(context.Background(), "s1", "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := windowed.Run(context.Background(), "s1", "second"); err != nil {
		t.Fatal(err)
	}
	if windowed.Memory() != base.Memory() {
		t.Error("derived agent should share the manager")
	}
	if n := len(mem.GetMessages("s1", memory.Query{})); n != 4 {
		t.Errorf("expected both runs in one session, got %d", n)
	}
	if req := provider.requests[1]; len(req) != 1 || req[0].Content != "second" {
		t.Errorf("derived agent should send only the last round, got %+v", req)
	}
}

func TestMaxToolResult(t *testing.T) {
	long := &FuncTool{ToolName: "dump", Fn: func(context.Context, json.RawMessage) (string, error) {
		return strings.Repeat("x", 100), nil
	}}
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "dump", "")}},
		{Content: "done"},
	}}
	mem := memory.NewManager()
	a := New(provider, mem, NewRegistry(long), WithMaxToolResult(10))
	if _, err := a.Run(context.Background(), "s1", "go"); err != nil {
		t.Fatal(err)
	}
	res := mem.GetMessages("s1", memory.Query{Role: memory.RoleTool})[0]
	if res.Content() != strings.Repeat("x", 10)+"\n[truncated]" {
		t.Errorf("unexpected result %q", res.Content())
	}
}
