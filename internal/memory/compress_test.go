package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestCompress_PinnedSurvives(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	msgs := conversation()
	mustAdd(t, m, "s1", msgs...)

	if _, err := m.Pin(ctx, "s1", msgs[2].ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 0}); err != nil {
		t.Fatal(err)
	}
	got := m.GetMessages("s1", Query{})
	if len(got) != 1 || got[0].ID() != msgs[2].ID() {
		t.Errorf("expected only the pinned message, got %s", contents(got))
	}
}

func TestCompress_ToEmptyKeepsChainValid(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	call := NewToolCall("weather", `{"city":"Oslo"}`)
	msgs := []Message{
		UserMessage("weather in oslo?"),
		AssistantMessage("", call),
		ToolMessage(call.ID, "weather", "cloudy"),
		AssistantMessage("It is cloudy."),
	}
	mustAdd(t, m, "s1", msgs...)
	before := m.GetMessages("s1", Query{})

	rec, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Removed()) != 4 {
		t.Errorf("expected 4 messages dropped, got %d", len(rec.Removed()))
	}
	if n := len(m.GetMessages("s1", Query{})); n != 0 {
		t.Fatalf("expected empty session, got %d messages", n)
	}
	if report := m.CheckToolChain("s1"); !report.Valid {
		t.Errorf("empty session should have a valid chain: %+v", report)
	}

	if ok, err := m.Undo(ctx, "s1"); !ok || err != nil {
		t.Fatalf("undo: %v %v", ok, err)
	}
	if got := m.GetMessages("s1", Query{}); !slices.EqualFunc(before, got, Message.Equal) {
		t.Errorf("undo did not restore the sequence: %s", contents(got))
	}
}

func TestCompress_Policies(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		pinSys bool
		policy CompressPolicy
		want   string
	}{
		{"keep last", false, CompressPolicy{KeepLast: 2}, "u3,a3"},
		{"keep rounds", false, CompressPolicy{KeepRounds: 2}, "u2,a2,u3,a3"},
		{"keep tagged", false, CompressPolicy{KeepLast: 1, KeepTagged: []string{"fact"}}, "a1,a3"},
		{"keep pinned by default", true, CompressPolicy{KeepLast: 1}, "sys,a3"},
		{"drop pinned", true, CompressPolicy{KeepLast: 1, DropPinned: true}, "a3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			msgs := conversation()
			msgs[0] = msgs[0].WithPinned(tt.pinSys)
			msgs[2] = msgs[2].WithTags("fact")
			mustAdd(t, m, "s1", msgs...)
			if _, err := m.Compress(ctx, "s1", tt.policy); err != nil {
				t.Fatal(err)
			}
			if got := sessionContents(m, "s1"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompress_EmptySession(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1", UserMessage("x"))
	if _, err := m.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	rec, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsNoop() {
		t.Error("compressing an empty session should be a no-op")
	}
	if _, err := m.Compress(ctx, "missing", CompressPolicy{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCompress_ToolGroupsStayWhole(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1",
		UserMessage("q"),
		AssistantMessage("", ToolCall{ID: "c1", Name: "f"}, ToolCall{ID: "c2", Name: "g"}),
		ToolMessage("c1", "f", "r1"),
		ToolMessage("c2", "g", "r2"),
		AssistantMessage("done"),
	)
	if _, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 2}); err != nil {
		t.Fatal(err)
	}
	if got := sessionContents(m, "s1"); got != "[Calling tools: f, g],r1,r2,done" {
		t.Errorf("got %q", got)
	}
	if !m.CheckToolChain("s1").Valid {
		t.Error("compression broke the tool chain")
	}
}

func TestCompress_Summarizer(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1", conversation()...)

	var seen []Message
	summarize := func(_ context.Context, dropped []Message) (string, error) {
		seen = dropped
		return "talked about " + contents(dropped), nil
	}
	rec, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 2, Summarizer: summarize})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 5 || len(rec.Removed()) != 5 || len(rec.Inserted()) != 1 {
		t.Errorf("summarizer saw %d, removed %d, inserted %d", len(seen), len(rec.Removed()), len(rec.Inserted()))
	}
	got := m.GetMessages("s1", Query{})
	if len(got) != 3 {
		t.Fatalf("expected summary plus 2 kept, got %s", contents(got))
	}
	summary := got[0]
	if summary.Role() != RoleSystem || !summary.HasTag(SummaryTag) ||
		summary.Content() != SummaryPrefix+"talked about sys,u1,a1,u2,a2" {
		t.Errorf("unexpected summary: %v", summary)
	}

	if _, err := m.Undo(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if got := sessionContents(m, "s1"); got != "sys,u1,a1,u2,a2,u3,a3" {
		t.Errorf("undo of summarized compression: %q", got)
	}
}

func TestCompress_SummarizerKeepsPlacement(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	msgs := conversation()
	msgs[0] = msgs[0].WithPinned(true)
	mustAdd(t, m, "s1", msgs...)

	summarize := func(context.Context, []Message) (string, error) { return "earlier", nil }
	if _, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 2, Summarizer: summarize}); err != nil {
		t.Fatal(err)
	}
	got := contents(m.GetMessages("s1", Query{}))
	if got != "sys,"+SummaryPrefix+"earlier,u3,a3" {
		t.Errorf("summary should replace the first dropped message, got %q", got)
	}
}

func TestCompress_SummarizerError(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1", conversation()...)
	before := m.GetMessages("s1", Query{})

	boom := errors.New("model unavailable")
	_, err := m.Compress(ctx, "s1", CompressPolicy{KeepLast: 1, Summarizer: func(context.Context, []Message) (string, error) {
		return "", boom
	}})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "summarize 6 messages") {
		t.Fatalf("expected wrapped summarizer error, got %v", err)
	}
	if got := m.GetMessages("s1", Query{}); !slices.EqualFunc(before, got, Message.Equal) {
		t.Error("failed compression changed the session")
	}
	if len(m.Operations("s1")) != 1 {
		t.Error("failed compression must not be recorded")
	}
}
