package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/user/recall/internal/memory"
)

func TestObserverWithManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(reg)
	m := memory.NewManager(memory.WithObserver(obs))
	ctx := context.Background()

	if _, err := m.AddMessages(ctx, "s1", memory.UserMessage("a"), memory.UserMessage("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddUser(ctx, "s2", "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Remove(ctx, "missing", memory.ByRole(memory.RoleUser)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.AddAssistant(ctx, "s1", "", memory.ToolCall{ID: "c1", Name: "f"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.BuildHistory("s1", memory.HistoryOptions{}); err == nil {
		t.Fatal("expected tool chain error")
	}
	if _, err := m.BuildHistory("s2", memory.HistoryOptions{}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(obs.operations.WithLabelValues("add", "ok")); got != 3 {
		t.Errorf("expected 3 adds, got %v", got)
	}
	if got := testutil.ToFloat64(obs.operations.WithLabelValues("remove", "not_found")); got != 1 {
		t.Errorf("expected 1 failed remove, got %v", got)
	}
	if got := testutil.ToFloat64(obs.affected.WithLabelValues("add")); got != 4 {
		t.Errorf("expected 4 added messages, got %v", got)
	}
	if got := testutil.ToFloat64(obs.historyBuilds.WithLabelValues("tool_chain")); got != 1 {
		t.Errorf("expected 1 tool chain failure, got %v", got)
	}
	if got := testutil.ToFloat64(obs.sessions); got != 2 {
		t.Errorf("expected 2 sessions, got %v", got)
	}

	obs.ObservePruned(2)
	expected := `
# HELP recall_sessions_pruned_total Sessions removed by the janitor.
# TYPE recall_sessions_pruned_total counter
recall_sessions_pruned_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "recall_sessions_pruned_total"); err != nil {
		t.Error(err)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	New(reg)
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sawGo bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "go_") {
			sawGo = true
		}
	}
	if !sawGo {
		t.Error("expected Go runtime metrics")
	}
}
