// Package summarize provides memory.Summarizer implementations for
// compression.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/recall/internal/memory"
	"github.com/user/recall/pkg/llm"
)

// Prompt precedes the transcript sent to the model.
const Prompt = "Summarize this conversation concisely, preserving key facts and decisions:\n\n"

// Transcript renders msgs as "role: text" lines. Tool calls are shown by
// name and long contents are cut at maxRunes (no limit when <= 0).
func Transcript(msgs []memory.Message, maxRunes int) string {
	var sb strings.Builder
	for _, m := range msgs {
		text := m.Text()
		if maxRunes > 0 {
			if r := []rune(text); len(r) > maxRunes {
				text = string(r[:maxRunes]) + "..."
			}
		}
		role := string(m.Role())
		if m.Role() == memory.RoleTool && m.Name() != "" {
			role += "(" + m.Name() + ")"
		}
		switch {
		case m.IsToolCallRequest() && text == "":
			fmt.Fprintf(&sb, "%s: [called %s]\n", role, strings.Join(m.ToolNames(), ", "))
		case m.IsToolCallRequest():
			fmt.Fprintf(&sb, "%s: %s [called %s]\n", role, text, strings.Join(m.ToolNames(), ", "))
		default:
			fmt.Fprintf(&sb, "%s: %s\n", role, text)
		}
	}
	return sb.String()
}

// Options tune the LLM summarizer.
type Options struct {
	// MaxMessageRunes cuts each message in the transcript. Zero keeps
	// messages whole.
	MaxMessageRunes int
}

// LLM returns a summarizer that asks provider for a summary of the dropped
// messages.
func LLM(provider llm.Provider, opts Options) memory.Summarizer {
	return func(ctx context.Context, dropped []memory.Message) (string, error) {
		prompt := Prompt + Transcript(dropped, opts.MaxMessageRunes)
		resp, err := provider.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil)
		if err != nil {
			return "", fmt.Errorf("summarize conversation: %w", err)
		}
		summary := strings.TrimSpace(resp.Content)
		if summary == "" {
			return "", errors.New("summarize conversation: empty summary")
		}
		return summary, nil
	}
}

// Digest returns an offline summarizer listing the message counts, the
// tools used and the opening of each user message.
func Digest(maxRunes int) memory.Summarizer {
	return func(_ context.Context, dropped []memory.Message) (string, error) {
		var (
			counts = make(map[memory.Role]int)
			tools  []string
			asks   []string
			seen   = make(map[string]bool)
		)
		for _, m := range dropped {
			counts[m.Role()]++
			for _, name := range m.ToolNames() {
				if !seen[name] {
					seen[name] = true
					tools = append(tools, name)
				}
			}
			if m.Role() == memory.RoleUser {
				text := m.Text()
				if r := []rune(text); maxRunes > 0 && len(r) > maxRunes {
					text = string(r[:maxRunes]) + "..."
				}
				asks = append(asks, fmt.Sprintf("%q", text))
			}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d earlier messages (%d user, %d assistant, %d tool)",
			len(dropped), counts[memory.RoleUser], counts[memory.RoleAssistant], counts[memory.RoleTool])
		if len(tools) > 0 {
			sb.WriteString("; tools used: " + strings.Join(tools, ", "))
		}
		if len(asks) > 0 {
			sb.WriteString("; user asked: " + strings.Join(asks, ", "))
		}
		return sb.String(), nil
	}
}
