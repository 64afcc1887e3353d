package memory

import (
	"context"
	"fmt"
	"time"
)

// OpUndo and OpRedo are reported to observers; they never appear in a log.
const (
	OpUndo OpKind = "undo"
	OpRedo OpKind = "redo"
)

// Undo reverts the newest operation of the session. It returns false when
// there is nothing to undo.
func (m *Manager) Undo(ctx context.Context, sessionID string) (bool, error) {
	return m.step(ctx, sessionID, OpUndo)
}

// Redo re-applies the newest undone operation. It returns false when there
// is nothing to redo.
func (m *Manager) Redo(ctx context.Context, sessionID string) (bool, error) {
	return m.step(ctx, sessionID, OpRedo)
}

func (m *Manager) step(ctx context.Context, sessionID string, kind OpKind) (bool, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	s := m.lookup(sessionID)
	if s == nil {
		return false, nil
	}
	from, edits := &s.undo, func(r *OperationRecord) []Edit { return r.Inverse }
	if kind == OpRedo {
		from, edits = &s.redo, func(r *OperationRecord) []Edit { return r.Forward }
	}
	if len(*from) == 0 {
		return false, nil
	}
	rec := (*from)[len(*from)-1]

	after, _, err := applyEdits(s.messages, edits(rec))
	if err != nil {
		err = fmt.Errorf("%s operation %s: %w", kind, rec.ID, err)
		m.observer.ObserveOperation(kind, 0, err)
		return false, err
	}

	snap := s.save()
	before := s.messages
	*from = (*from)[:len(*from)-1]
	if kind == OpUndo {
		m.pushRedo(s, rec)
	} else {
		m.pushUndo(s, rec)
	}
	s.messages = after
	s.lastUsed = time.Now()
	if err := m.persist(ctx, s, before, nil); err != nil {
		m.rollback(ctx, s, snap, false)
		m.observer.ObserveOperation(kind, 0, err)
		return false, err
	}
	m.observer.ObserveOperation(kind, rec.Affected(), nil)
	return true, nil
}
