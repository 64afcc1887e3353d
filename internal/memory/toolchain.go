package memory

import "fmt"

// ToolCallRef identifies one tool call inside a message sequence.
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MessageID string `json:"message_id"`
	// Index is the position of the issuing assistant message.
	Index int `json:"index"`
}

// ChainReport is the outcome of CheckToolChain.
//
// Valid means the sequence may be sent to a model. Pending means the only
// defect is a trailing set of calls still waiting for results, which is the
// normal state while tools are executing. Incomplete lists every unanswered
// call in the order it was issued.
type ChainReport struct {
	Valid      bool          `json:"valid"`
	Err        string        `json:"error,omitempty"`
	Pending    bool          `json:"pending"`
	Incomplete []ToolCallRef `json:"incomplete,omitempty"`
}

// CheckToolChain validates tool-call/tool-result pairing over msgs.
//
// Every assistant tool call opens an id; every tool message must close one
// currently open id. Results may close calls in any order, but all calls
// opened before a user message must be closed before that user message.
func CheckToolChain(msgs []Message) ChainReport {
	var (
		firstErr   string
		open       []ToolCallRef
		abandoned  []ToolCallRef
		everOpened = make(map[string]bool)
	)
	fail := func(format string, args ...any) {
		if firstErr == "" {
			firstErr = fmt.Sprintf(format, args...)
		}
	}

	for i, m := range msgs {
		switch m.role {
		case RoleAssistant:
			for _, tc := range m.toolCalls {
				if tc.ID == "" {
					fail("assistant message at index %d has a tool call without id", i)
					continue
				}
				if everOpened[tc.ID] {
					fail("duplicate tool_call_id %s at index %d", tc.ID, i)
					continue
				}
				everOpened[tc.ID] = true
				open = append(open, ToolCallRef{ID: tc.ID, Name: tc.Name, MessageID: m.id, Index: i})
			}
		case RoleTool:
			if m.toolCallID == "" {
				fail("tool message at index %d missing tool_call_id", i)
				continue
			}
			idx := indexOfRef(open, m.toolCallID)
			if idx < 0 {
				fail("orphan tool result at index %d for tool_call_id %s", i, m.toolCallID)
				continue
			}
			open = append(open[:idx], open[idx+1:]...)
		case RoleUser:
			if len(open) > 0 {
				fail("tool calls %s unanswered before user message at index %d", joinIDs(open), i)
				abandoned = append(abandoned, open...)
				open = nil
			}
		}
	}

	incomplete := append(abandoned, open...)
	report := ChainReport{Incomplete: incomplete}
	switch {
	case firstErr != "":
		report.Err = firstErr
	case len(open) > 0:
		report.Pending = true
		report.Err = "missing tool results for tool_call_ids " + joinIDs(open)
	default:
		report.Valid = true
	}
	return report
}

// PendingToolCalls returns the calls in msgs that have no result yet.
func PendingToolCalls(msgs []Message) []ToolCallRef {
	return CheckToolChain(msgs).Incomplete
}

func indexOfRef(refs []ToolCallRef, id string) int {
	for i, r := range refs {
		if r.ID == id {
			return i
		}
	}
	return -1
}
