package memory

import (
	"context"
	"fmt"
)

// SummaryPrefix starts the content of the message a summarizer produces,
// and SummaryTag is set on it.
const (
	SummaryPrefix = "[Conversation summary] "
	SummaryTag    = "summary"
)

// Summarizer condenses the messages a compression drops into text.
type Summarizer func(ctx context.Context, dropped []Message) (string, error)

// CompressPolicy selects what Compress keeps. The retained set is the
// window (last KeepRounds rounds when set, else the last KeepLast
// messages) plus pinned messages unless DropPinned, plus messages carrying
// any of KeepTagged. A tool-call message and its results are always kept or
// dropped together.
type CompressPolicy struct {
	KeepLast   int
	KeepRounds int
	DropPinned bool
	KeepTagged []string
	// Summarizer, when set, turns the dropped messages into one system
	// message placed where the first dropped message was.
	Summarizer Summarizer
}

// Compress drops messages outside policy as one undoable operation. A
// summarizer error aborts without changing the session.
func (m *Manager) Compress(ctx context.Context, sessionID string, policy CompressPolicy) (*OperationRecord, error) {
	if policy.KeepLast < 0 || policy.KeepRounds < 0 {
		return nil, invalid("policy", "negative keep_last or keep_rounds")
	}
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	unlock := m.lockSession(sessionID)
	defer unlock()

	rec, err := m.compressLocked(ctx, sessionID, policy)
	m.observer.ObserveOperation(OpCompress, affectedOf(rec), err)
	return rec, err
}

func (m *Manager) compressLocked(ctx context.Context, sessionID string, policy CompressPolicy) (*OperationRecord, error) {
	return m.mutateLocked(ctx, sessionID, false, func(s *session) (*OperationRecord, []Message, error) {
		keep := retained(s.messages, policy)
		var (
			dropIdx []int
			dropped []Message
		)
		for i, msg := range s.messages {
			if !keep[i] {
				dropIdx = append(dropIdx, i)
				dropped = append(dropped, msg)
			}
		}
		edits := deleteEdits(s.messages, dropIdx)

		if policy.Summarizer != nil && len(dropped) > 0 {
			text, err := policy.Summarizer(ctx, dropped)
			if err != nil {
				return nil, nil, fmt.Errorf("summarize %d messages: %w", len(dropped), err)
			}
			summary := SystemMessage(SummaryPrefix + text).WithTags(SummaryTag)
			at := 0
			for i := 0; i < dropIdx[0]; i++ {
				if keep[i] {
					at++
				}
			}
			edits = append(edits, Edit{Op: EditInsert, Index: at, Message: summary})
		}
		return newRecord(OpCompress, sessionID, s.messages, edits)
	})
}

// retained marks the messages policy keeps.
func retained(msgs []Message, policy CompressPolicy) []bool {
	keep := make([]bool, len(msgs))
	start := len(msgs) - min(policy.KeepLast, len(msgs))
	if policy.KeepRounds > 0 {
		start = roundStart(msgs, policy.KeepRounds)
	}
	for i, msg := range msgs {
		keep[i] = i >= start || isProtected(msg, !policy.DropPinned, policy.KeepTagged)
	}

	// Keep tool-call groups whole: if any member survives, all do.
	owner := make(map[string]int)
	for i, msg := range msgs {
		for _, tc := range msg.toolCalls {
			owner[tc.ID] = i
		}
	}
	groupKept := make(map[int]bool)
	for i, msg := range msgs {
		if !keep[i] {
			continue
		}
		if msg.IsToolCallRequest() {
			groupKept[i] = true
		} else if a, ok := owner[msg.toolCallID]; ok && msg.role == RoleTool && a < i {
			groupKept[a] = true
		}
	}
	for i, msg := range msgs {
		if groupKept[i] {
			keep[i] = true
			continue
		}
		if msg.role == RoleTool {
			if a, ok := owner[msg.toolCallID]; ok && a < i && groupKept[a] {
				keep[i] = true
			}
		}
	}
	return keep
}
