package memory

import "context"

type positionKind int

const (
	posEnd positionKind = iota
	posStart
	posBeforeLastUser
	posIndex
)

// Position is an insertion point for Inject.
type Position struct {
	kind  positionKind
	index int
}

var (
	PositionStart = Position{kind: posStart}
	PositionEnd   = Position{kind: posEnd}
	// PositionBeforeLastUser inserts directly before the newest user
	// message, or at the end when there is none.
	PositionBeforeLastUser = Position{kind: posBeforeLastUser}
)

// AtIndex inserts so the first injected message lands at index i.
func AtIndex(i int) Position { return Position{kind: posIndex, index: i} }

func (p Position) resolve(msgs []Message) (int, error) {
	switch p.kind {
	case posStart:
		return 0, nil
	case posBeforeLastUser:
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].role == RoleUser {
				return i, nil
			}
		}
		return len(msgs), nil
	case posIndex:
		if p.index < 0 || p.index > len(msgs) {
			return 0, invalid("position", "index %d out of range [0,%d]", p.index, len(msgs))
		}
		return p.index, nil
	default:
		return len(msgs), nil
	}
}

// Apply replaces every message matching pred with fn(message). fn must
// return a valid message with the same id. Matching nothing records a no-op.
func (m *Manager) Apply(ctx context.Context, sessionID string, pred Predicate, fn func(Message) Message) (*OperationRecord, error) {
	if pred == nil || fn == nil {
		return nil, invalid("predicate", "apply needs a predicate and a function")
	}
	return m.mutate(ctx, sessionID, OpApply, false, func(s *session) (*OperationRecord, []Message, error) {
		var edits []Edit
		for i, msg := range s.messages {
			if !pred(msg) {
				continue
			}
			next := fn(msg)
			if next.id != msg.id {
				return nil, nil, invalid("message", "apply changed id %s to %s", msg.id, next.id)
			}
			if err := next.Validate(); err != nil {
				return nil, nil, err
			}
			if next.Equal(msg) {
				continue
			}
			edits = append(edits, Edit{Op: EditReplace, Index: i, Message: next})
		}
		return newRecord(OpApply, sessionID, s.messages, edits)
	})
}

// Remove deletes every message matching pred.
func (m *Manager) Remove(ctx context.Context, sessionID string, pred Predicate) (*OperationRecord, error) {
	if pred == nil {
		return nil, invalid("predicate", "remove needs a predicate")
	}
	return m.removeWhere(ctx, sessionID, OpRemove, func(msgs []Message) ([]int, error) {
		var idx []int
		for i, msg := range msgs {
			if pred(msg) {
				idx = append(idx, i)
			}
		}
		return idx, nil
	})
}

// removeWhere deletes the ascending indexes chosen by pick.
func (m *Manager) removeWhere(ctx context.Context, sessionID string, kind OpKind, pick func([]Message) ([]int, error)) (*OperationRecord, error) {
	return m.mutate(ctx, sessionID, kind, false, func(s *session) (*OperationRecord, []Message, error) {
		idx, err := pick(s.messages)
		if err != nil {
			return nil, nil, err
		}
		return newRecord(kind, sessionID, s.messages, deleteEdits(s.messages, idx))
	})
}

// Inject inserts msgs as a block at pos, creating the session if needed.
func (m *Manager) Inject(ctx context.Context, sessionID string, pos Position, msgs ...Message) (*OperationRecord, error) {
	return m.insert(ctx, sessionID, OpInject, pos, msgs)
}

// InjectText injects text as a system message.
func (m *Manager) InjectText(ctx context.Context, sessionID string, pos Position, text string) (*OperationRecord, error) {
	return m.Inject(ctx, sessionID, pos, SystemMessage(text))
}

// DeleteMessage removes one message by id.
func (m *Manager) DeleteMessage(ctx context.Context, sessionID, id string) (*OperationRecord, error) {
	return m.removeWhere(ctx, sessionID, OpDelete, func(msgs []Message) ([]int, error) {
		i := indexOfID(msgs, id)
		if i < 0 {
			return nil, &NotFoundError{SessionID: sessionID, MessageID: id}
		}
		return []int{i}, nil
	})
}

// DeleteLast removes the last n messages.
func (m *Manager) DeleteLast(ctx context.Context, sessionID string, n int) (*OperationRecord, error) {
	if n < 0 {
		return nil, invalid("count", "negative count %d", n)
	}
	return m.removeWhere(ctx, sessionID, OpDelete, func(msgs []Message) ([]int, error) {
		return span(max(0, len(msgs)-n), len(msgs)), nil
	})
}

// DeleteLastRound removes the newest user message and everything after it.
// Without a user message nothing is removed.
func (m *Manager) DeleteLastRound(ctx context.Context, sessionID string) (*OperationRecord, error) {
	return m.removeWhere(ctx, sessionID, OpDelete, func(msgs []Message) ([]int, error) {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].role == RoleUser {
				return span(i, len(msgs)), nil
			}
		}
		return nil, nil
	})
}

// DeleteLastToolRound removes the newest assistant message with tool calls
// together with the tool results answering it. Other messages in between
// stay.
func (m *Manager) DeleteLastToolRound(ctx context.Context, sessionID string) (*OperationRecord, error) {
	return m.removeWhere(ctx, sessionID, OpDelete, func(msgs []Message) ([]int, error) {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].IsToolCallRequest() {
				return toolGroup(msgs, i), nil
			}
		}
		return nil, nil
	})
}

// toolGroup returns the index of the assistant message at i followed by the
// indexes of the tool results answering its calls.
func toolGroup(msgs []Message, i int) []int {
	ids := make(map[string]bool)
	for _, tc := range msgs[i].toolCalls {
		ids[tc.ID] = true
	}
	group := []int{i}
	for j := i + 1; j < len(msgs); j++ {
		if msgs[j].role == RoleTool && ids[msgs[j].toolCallID] {
			group = append(group, j)
		}
	}
	return group
}

// Clear removes every message. The session itself stays.
func (m *Manager) Clear(ctx context.Context, sessionID string) (*OperationRecord, error) {
	return m.removeWhere(ctx, sessionID, OpClear, func(msgs []Message) ([]int, error) {
		return span(0, len(msgs)), nil
	})
}

func span(from, to int) []int {
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

// Pin pins the messages with the given ids.
func (m *Manager) Pin(ctx context.Context, sessionID string, ids ...string) (*OperationRecord, error) {
	return m.applyToIDs(ctx, sessionID, ids, func(msg Message) Message { return msg.WithPinned(true) })
}

// Unpin clears the pin flag on the messages with the given ids.
func (m *Manager) Unpin(ctx context.Context, sessionID string, ids ...string) (*OperationRecord, error) {
	return m.applyToIDs(ctx, sessionID, ids, func(msg Message) Message { return msg.WithPinned(false) })
}

// Tag adds tags to the message with id.
func (m *Manager) Tag(ctx context.Context, sessionID, id string, tags ...string) (*OperationRecord, error) {
	return m.applyToIDs(ctx, sessionID, []string{id}, func(msg Message) Message { return msg.WithTags(tags...) })
}

// Untag removes tags from the message with id.
func (m *Manager) Untag(ctx context.Context, sessionID, id string, tags ...string) (*OperationRecord, error) {
	return m.applyToIDs(ctx, sessionID, []string{id}, func(msg Message) Message { return msg.WithoutTags(tags...) })
}

// PinWhere sets the pin flag on every message matching pred.
func (m *Manager) PinWhere(ctx context.Context, sessionID string, pred Predicate, pinned bool) (*OperationRecord, error) {
	return m.Apply(ctx, sessionID, pred, func(msg Message) Message { return msg.WithPinned(pinned) })
}

// TagWhere adds tags to every message matching pred.
func (m *Manager) TagWhere(ctx context.Context, sessionID string, pred Predicate, tags ...string) (*OperationRecord, error) {
	return m.Apply(ctx, sessionID, pred, func(msg Message) Message { return msg.WithTags(tags...) })
}

func (m *Manager) applyToIDs(ctx context.Context, sessionID string, ids []string, fn func(Message) Message) (*OperationRecord, error) {
	if len(ids) == 0 {
		return nil, invalid("message", "no message ids given")
	}
	for _, id := range ids {
		if _, err := m.GetMessage(sessionID, id); err != nil {
			return nil, err
		}
	}
	return m.Apply(ctx, sessionID, ByID(ids...), fn)
}
