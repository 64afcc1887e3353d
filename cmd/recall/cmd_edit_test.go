package main

import (
	"testing"

	"github.com/user/recall/internal/memory"
)

func TestParsePosition(t *testing.T) {
	cases := map[string]memory.Position{
		"start":            memory.PositionStart,
		"END":              memory.PositionEnd,
		"":                 memory.PositionEnd,
		"before-last-user": memory.PositionBeforeLastUser,
		"2":                memory.AtIndex(2),
	}
	for in, want := range cases {
		got, err := parsePosition(in)
		if err != nil {
			t.Errorf("parsePosition(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parsePosition(%q) = %+v, want %+v", in, got, want)
		}
	}
	if _, err := parsePosition("middle"); err == nil {
		t.Error("expected error for unknown position")
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\nb\tc", 80); got != "a b c" {
		t.Errorf("got %q", got)
	}
	if got := oneLine("abcdefghij", 8); got != "abcde..." {
		t.Errorf("got %q", got)
	}
}
