package memory

import (
	"fmt"
	"slices"
	"strings"
)

// Processor transforms a snapshot of messages at history-build time. A
// processor returns a new slice and never touches the stored session. It may
// produce a sequence whose tool chain no longer validates.
type Processor func([]Message) []Message

// Predicate selects messages.
type Predicate func(Message) bool

// TokenCounter returns the number of tokens in a piece of text.
type TokenCounter func(string) int

// DefaultTruncateSuffix is appended by TruncateContent.
const DefaultTruncateSuffix = "...[truncated]"

// Chain composes processors left to right. Nil entries are skipped.
func Chain(processors ...Processor) Processor {
	return func(msgs []Message) []Message {
		out := slices.Clone(msgs)
		for _, p := range processors {
			if p != nil {
				out = p(out)
			}
		}
		return out
	}
}

// Identity returns its input unchanged.
func Identity() Processor {
	return func(msgs []Message) []Message { return slices.Clone(msgs) }
}

func KeepLast(n int) Processor {
	return func(msgs []Message) []Message {
		if n <= 0 {
			return []Message{}
		}
		if len(msgs) <= n {
			return slices.Clone(msgs)
		}
		return slices.Clone(msgs[len(msgs)-n:])
	}
}

func KeepFirst(n int) Processor {
	return func(msgs []Message) []Message {
		if n <= 0 {
			return []Message{}
		}
		return slices.Clone(msgs[:min(n, len(msgs))])
	}
}

// KeepRounds keeps the last n rounds. A round starts at a user message and
// runs up to the next user message. With fewer than n rounds everything is
// kept, including any leading system messages.
func KeepRounds(n int) Processor {
	return func(msgs []Message) []Message {
		if n <= 0 {
			return []Message{}
		}
		return slices.Clone(msgs[roundStart(msgs, n):])
	}
}

// roundStart returns the index of the n-th user message counted from the
// end, or 0 when there are fewer.
func roundStart(msgs []Message, n int) int {
	seen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].role == RoleUser {
			seen++
			if seen == n {
				return i
			}
		}
	}
	return 0
}

func KeepRoles(roles ...Role) Processor {
	return FilterBy(func(m Message) bool { return slices.Contains(roles, m.role) })
}

func ExcludeRoles(roles ...Role) Processor {
	return ExcludeBy(func(m Message) bool { return slices.Contains(roles, m.role) })
}

func KeepPinned() Processor {
	return FilterBy(Message.IsPinned)
}

// KeepTagged keeps messages carrying any of tags.
func KeepTagged(tags ...string) Processor {
	return FilterBy(func(m Message) bool { return m.HasAnyTag(tags...) })
}

// KeepTaggedAll keeps messages carrying every one of tags.
func KeepTaggedAll(tags ...string) Processor {
	return FilterBy(func(m Message) bool { return m.HasAllTags(tags...) })
}

// ExcludeTagged drops messages carrying any of tags.
func ExcludeTagged(tags ...string) Processor {
	return ExcludeBy(func(m Message) bool { return m.HasAnyTag(tags...) })
}

func FilterBy(pred Predicate) Processor {
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			if pred(m) {
				out = append(out, m)
			}
		}
		return out
	}
}

func ExcludeBy(pred Predicate) Processor {
	return FilterBy(func(m Message) bool { return !pred(m) })
}

// KeepImportantAndLast keeps the last n messages plus every pinned (when
// includePinned) or tagged message, in original order.
func KeepImportantAndLast(n int, includePinned bool, tags ...string) Processor {
	return func(msgs []Message) []Message {
		start := max(0, len(msgs)-max(n, 0))
		out := make([]Message, 0, len(msgs))
		for i, m := range msgs {
			if i >= start || isProtected(m, includePinned, tags) {
				out = append(out, m)
			}
		}
		return out
	}
}

func isProtected(m Message, pinned bool, tags []string) bool {
	return (pinned && m.pinned) || (len(tags) > 0 && m.HasAnyTag(tags...))
}

// TruncateContent shortens text content longer than maxLen runes, ending it
// with DefaultTruncateSuffix.
func TruncateContent(maxLen int) Processor {
	return TruncateContentWithSuffix(maxLen, DefaultTruncateSuffix)
}

// TruncateContentWithSuffix is TruncateContent with a custom suffix. The
// result never exceeds maxLen runes; when maxLen cannot fit the suffix the
// text is cut without it.
func TruncateContentWithSuffix(maxLen int, suffix string) Processor {
	return MapContent(func(s string) string {
		runes := []rune(s)
		if len(runes) <= maxLen {
			return s
		}
		if maxLen <= 0 {
			return ""
		}
		sfx := []rune(suffix)
		if maxLen <= len(sfx) {
			return string(runes[:maxLen])
		}
		return string(runes[:maxLen-len(sfx)]) + suffix
	})
}

// MapContent rewrites the text content of every message that has any.
// Multimodal and null-content messages pass through.
func MapContent(fn func(string) string) Processor {
	return func(msgs []Message) []Message {
		out := make([]Message, len(msgs))
		for i, m := range msgs {
			if m.content != nil && len(m.parts) == 0 {
				if next := fn(*m.content); next != *m.content {
					m = m.WithContent(next)
				}
			}
			out[i] = m
		}
		return out
	}
}

// MapMessages replaces every message with fn(message).
func MapMessages(fn func(Message) Message) Processor {
	return func(msgs []Message) []Message {
		out := make([]Message, len(msgs))
		for i, m := range msgs {
			out[i] = fn(m)
		}
		return out
	}
}

// MessageTokens counts the text of m plus its tool call names and arguments.
func MessageTokens(m Message, count TokenCounter) int {
	n := count(m.Text())
	for _, tc := range m.toolCalls {
		n += count(tc.Name) + count(tc.Arguments)
	}
	return n
}

// TokenBudget drops the oldest non-pinned messages until the token count of
// what remains plus reserve fits within maxTokens. Pinned messages are never
// dropped, so the result can still exceed the budget.
func TokenBudget(maxTokens int, count TokenCounter, reserve int) Processor {
	return func(msgs []Message) []Message {
		budget := maxTokens - reserve
		tokens := make([]int, len(msgs))
		total := 0
		for i, m := range msgs {
			tokens[i] = MessageTokens(m, count)
			total += tokens[i]
		}
		drop := make([]bool, len(msgs))
		for i, m := range msgs {
			if total <= budget {
				break
			}
			if m.pinned {
				continue
			}
			drop[i] = true
			total -= tokens[i]
		}
		out := make([]Message, 0, len(msgs))
		for i, m := range msgs {
			if !drop[i] {
				out = append(out, m)
			}
		}
		return out
	}
}

// RemoveToolDetails drops tool messages and turns assistant tool calls into
// plain text like "[Called: search, calc]", so the result carries no
// function-calling fields.
func RemoveToolDetails() Processor {
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			switch {
			case m.role == RoleTool:
				continue
			case m.IsToolCallRequest():
				note := "[Called: " + strings.Join(m.ToolNames(), ", ") + "]"
				if text := m.Text(); text != "" {
					note = text + "\n" + note
				}
				out = append(out, stripToolCalls(m, note))
			default:
				out = append(out, m)
			}
		}
		return out
	}
}

// SummarizeToolCalls collapses each assistant tool-call message and the tool
// results directly following it into one assistant message whose content is
// format(calls). A nil format renders "[Used tools: a, b]".
func SummarizeToolCalls(format func([]ToolCall) string) Processor {
	if format == nil {
		format = func(calls []ToolCall) string {
			names := make([]string, len(calls))
			for i, tc := range calls {
				names[i] = tc.Name
			}
			return fmt.Sprintf("[Used tools: %s]", strings.Join(names, ", "))
		}
	}
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs))
		for i := 0; i < len(msgs); i++ {
			m := msgs[i]
			if !m.IsToolCallRequest() {
				out = append(out, m)
				continue
			}
			out = append(out, stripToolCalls(m, format(m.ToolCalls())))
			for i+1 < len(msgs) && msgs[i+1].role == RoleTool {
				i++
			}
		}
		return out
	}
}

// KeepFinalToolResult keeps only the last of the tool results directly
// following each assistant tool-call message.
func KeepFinalToolResult() Processor {
	return func(msgs []Message) []Message {
		out := make([]Message, 0, len(msgs))
		for i := 0; i < len(msgs); i++ {
			m := msgs[i]
			out = append(out, m)
			if !m.IsToolCallRequest() {
				continue
			}
			last := -1
			for i+1 < len(msgs) && msgs[i+1].role == RoleTool {
				i++
				last = i
			}
			if last >= 0 {
				out = append(out, msgs[last])
			}
		}
		return out
	}
}

func stripToolCalls(m Message, content string) Message {
	c := m.WithContent(content)
	c.toolCalls = nil
	return c
}
