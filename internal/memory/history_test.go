package memory

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildHistory_Options(t *testing.T) {
	msgs := conversation()
	msgs[0] = msgs[0].WithPinned(true)
	msgs[2] = msgs[2].WithTags("fact")

	tests := []struct {
		name string
		opts HistoryOptions
		want string
	}{
		{"defaults", HistoryOptions{}, "sys,u1,a1,u2,a2,u3,a3"},
		{"max rounds", HistoryOptions{MaxRounds: 1}, "u3,a3"},
		{"max rounds keeps pinned", HistoryOptions{MaxRounds: 1, KeepPinned: true}, "sys,u3,a3"},
		{"max messages", HistoryOptions{MaxMessages: 3}, "a2,u3,a3"},
		{"max messages counts protected", HistoryOptions{MaxMessages: 3, KeepPinned: true, KeepTagged: []string{"fact"}}, "sys,a1,a3"},
		{"exclude roles", HistoryOptions{ExcludeRoles: []Role{RoleSystem}, MaxMessages: 2}, "u3,a3"},
		{"processors", HistoryOptions{MaxRounds: 1, Processors: []Processor{MapContent(strings.ToUpper)}}, "U3,A3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			mustAdd(t, m, "s1", msgs...)
			p, err := m.BuildHistory("s1", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := contents(p.Messages()); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildHistory_DoesNotModifySession(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, "s1", conversation()...)
	if _, err := m.BuildHistory("s1", HistoryOptions{MaxMessages: 1, Processors: []Processor{TruncateContent(1)}}); err != nil {
		t.Fatal(err)
	}
	if got := sessionContents(m, "s1"); got != "sys,u1,a1,u2,a2,u3,a3" {
		t.Errorf("session changed: %q", got)
	}
}

func TestBuildHistory_MissingSession(t *testing.T) {
	p, err := NewManager().BuildHistory("nope", HistoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p.MessageCount() != 0 || p.SessionID() != "nope" {
		t.Errorf("unexpected payload: %d %s", p.MessageCount(), p.SessionID())
	}
}

func TestHistoryPayload(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, "s1", conversation()...)

	p1, err := m.BuildHistory("s1", HistoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := m.BuildHistory("s1", HistoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p1.RoundCount() != 3 || p1.HasToolCalls() || !p1.ToolChainValid() {
		t.Errorf("unexpected payload stats: rounds=%d tools=%v valid=%v", p1.RoundCount(), p1.HasToolCalls(), p1.ToolChainValid())
	}
	if p1.Fingerprint() != p2.Fingerprint() || !p1.Equal(p2) {
		t.Error("identical builds should share a fingerprint")
	}
	if !p1.Verify() {
		t.Error("fresh payload should verify")
	}

	p3, _ := m.BuildHistory("s1", HistoryOptions{MaxMessages: 2})
	if p3.Fingerprint() == p1.Fingerprint() || p3.Equal(p1) {
		t.Error("different content should change the fingerprint")
	}

	out := p1.Messages()
	out[0] = UserMessage("tampered")
	if p1.Messages()[0].Content() != "sys" {
		t.Error("Messages exposed internal slice")
	}

	data, err := json.Marshal(p1)
	if err != nil {
		t.Fatal(err)
	}
	var wire []map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if len(wire) != 7 || wire[0]["role"] != "system" || wire[0]["content"] != "sys" {
		t.Errorf("unexpected JSON: %s", data)
	}
	if _, ok := wire[0]["id"]; ok {
		t.Errorf("message id leaked into payload: %s", data)
	}
}
