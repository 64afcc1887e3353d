package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type echoTool struct{}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
}
func (e *echoTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", err
	}
	return p.Text, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(&echoTool{})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected to find echo tool")
	}
	if tool.Name() != "echo" {
		t.Errorf("expected name 'echo', got %q", tool.Name())
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing tool not found")
	}
}

func TestRegistryAsLLMTools(t *testing.T) {
	r := NewRegistry(&echoTool{}, &FuncTool{ToolName: "add", Fn: func(context.Context, json.RawMessage) (string, error) { return "", nil }})

	tools := r.AsLLMTools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Function.Name != "add" || tools[1].Function.Name != "echo" {
		t.Errorf("expected tools sorted by name, got %s, %s", tools[0].Function.Name, tools[1].Function.Name)
	}
	if tools[0].Type != "function" || string(tools[0].Function.Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("unexpected tool: %+v", tools[0])
	}
	if NewRegistry().AsLLMTools() != nil {
		t.Error("expected no tools for empty registry")
	}
}
