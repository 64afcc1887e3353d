package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/recall/internal/types"
)

const (
	messagesPrefix = "messages:"
	oplogPrefix    = "oplog:"

	// persistConcurrency bounds backend calls issued by Save and Reload.
	persistConcurrency = 8
)

func messagesKey(sessionID string) string { return messagesPrefix + sessionID }
func oplogKey(sessionID string) string    { return oplogPrefix + sessionID }

// oplog is the stored form of a session's undo state.
type oplog struct {
	Seq  uint64             `json:"seq"`
	Undo []*OperationRecord `json:"undo,omitempty"`
	Redo []*OperationRecord `json:"redo,omitempty"`
}

// persist writes a session to the backend. When rec only appended messages
// to before and the session is not dirty, just the new messages are pushed;
// otherwise the list is rewritten. Caller must hold the session lock.
func (m *Manager) persist(ctx context.Context, s *session, before []Message, rec *OperationRecord) error {
	if m.backend == nil {
		return nil
	}
	if err := m.persistMessages(ctx, s, before, rec); err != nil {
		return fmt.Errorf("persist session %s: %w", s.id, err)
	}
	data, err := json.Marshal(oplog{Seq: s.seq, Undo: s.undo, Redo: s.redo})
	if err != nil {
		return fmt.Errorf("marshal oplog for %s: %w", s.id, err)
	}
	if err := m.backend.Set(ctx, oplogKey(s.id), data, m.sessionTTL); err != nil {
		return fmt.Errorf("persist oplog %s: %w", s.id, err)
	}
	s.dirty = false
	return nil
}

func (m *Manager) persistMessages(ctx context.Context, s *session, before []Message, rec *OperationRecord) error {
	key := messagesKey(s.id)
	push := s.messages
	if !s.dirty && appended(before, rec) {
		push = rec.Inserted()
	} else if err := m.backend.Delete(ctx, key); err != nil {
		return err
	}
	if len(push) > 0 {
		values := make([][]byte, len(push))
		for i, msg := range push {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal message %s: %w", msg.id, err)
			}
			values[i] = data
		}
		if err := m.backend.RPush(ctx, key, values...); err != nil {
			return err
		}
	}
	if m.sessionTTL > 0 && len(s.messages) > 0 {
		if err := m.backend.Expire(ctx, key, m.sessionTTL); err != nil {
			return err
		}
	}
	return nil
}

// appended reports whether rec only inserted messages after the end of
// before.
func appended(before []Message, rec *OperationRecord) bool {
	if rec == nil || len(before) == 0 || len(rec.Forward) == 0 {
		return false
	}
	for i, e := range rec.Forward {
		if e.Op != EditInsert || e.Index != len(before)+i {
			return false
		}
	}
	return true
}

func (m *Manager) deletePersisted(ctx context.Context, sessionID string) error {
	if m.backend == nil {
		return nil
	}
	if err := m.backend.Delete(ctx, messagesKey(sessionID), oplogKey(sessionID)); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Save writes every session to the backend.
func (m *Manager) Save(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)
	for _, id := range m.ListSessions() {
		g.Go(func() error {
			unlock := m.lockSession(id)
			defer unlock()
			s := m.lookup(id)
			if s == nil {
				return nil
			}
			return m.persist(ctx, s, nil, nil)
		})
	}
	return g.Wait()
}

// Reload replaces the in-memory sessions with those stored in the backend.
// It is meant for startup, before other operations run.
func (m *Manager) Reload(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	ids, err := m.storedSessionIDs(ctx)
	if err != nil {
		return err
	}

	var (
		mu     sync.Mutex
		loaded = make(map[string]*session, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			s, err := m.load(gctx, id)
			if err != nil || s == nil {
				return err
			}
			mu.Lock()
			loaded[id] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions = loaded
	n := len(loaded)
	m.mu.Unlock()
	m.observer.ObserveSessions(n)
	return nil
}

func (m *Manager) storedSessionIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, prefix := range []string{messagesPrefix, oplogPrefix} {
		keys, err := m.backend.Keys(ctx, prefix+"*")
		if err != nil {
			return nil, fmt.Errorf("list %s keys: %w", strings.TrimSuffix(prefix, ":"), err)
		}
		for _, k := range keys {
			id := strings.TrimPrefix(k, prefix)
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// LoadSession reads one session from the backend into the manager,
// replacing any in-memory copy. It returns a NotFoundError when nothing is
// stored for sessionID.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) error {
	if m.backend == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	unlock := m.lockSession(sessionID)
	defer unlock()

	s, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	m.register(s)
	return nil
}

// load reads one session. It returns nil when neither key exists.
func (m *Manager) load(ctx context.Context, sessionID string) (*session, error) {
	raw, err := m.backend.LRange(ctx, messagesKey(sessionID), 0, -1)
	if err != nil && !errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("load messages of %s: %w", sessionID, err)
	}
	s := &session{id: sessionID, messages: make([]Message, 0, len(raw))}
	for i, data := range raw {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode message %d of %s: %w", i, sessionID, err)
		}
		s.messages = append(s.messages, msg)
	}

	data, err := m.backend.Get(ctx, oplogKey(sessionID))
	switch {
	case errors.Is(err, types.ErrKeyNotFound):
		if len(raw) == 0 {
			return nil, nil
		}
	case err != nil:
		return nil, fmt.Errorf("load oplog of %s: %w", sessionID, err)
	default:
		var log oplog
		if err := json.Unmarshal(data, &log); err != nil {
			return nil, fmt.Errorf("decode oplog of %s: %w", sessionID, err)
		}
		s.seq, s.undo, s.redo = log.Seq, log.Undo, log.Redo
	}

	s.lastUsed = time.Now()
	if n := len(s.messages); n > 0 {
		s.lastUsed = s.messages[n-1].createdAt
	}
	return s, nil
}
