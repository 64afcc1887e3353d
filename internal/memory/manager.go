package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/user/recall/internal/types"
)

// DefaultUndoLimit is the number of operations kept per session for undo.
const DefaultUndoLimit = 50

// Option configures a Manager.
type Option func(*Manager)

// WithUndoLimit bounds the undo and redo logs. Zero disables undo.
func WithUndoLimit(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.undoLimit = n
		}
	}
}

// WithUndoDisabled keeps no operation log.
func WithUndoDisabled() Option {
	return func(m *Manager) { m.undoLimit = 0 }
}

// WithMaxMessages caps each session at n messages. When autoCompress is set
// an add that crosses the cap is followed by Compress(KeepLast: n);
// otherwise the add fails with a CapacityError.
func WithMaxMessages(n int, autoCompress bool) Option {
	return func(m *Manager) {
		m.maxMessages = n
		m.autoCompress = autoCompress
	}
}

// WithBackend persists every committed change to b.
func WithBackend(b types.Backend) Option {
	return func(m *Manager) { m.backend = b }
}

// WithSessionTTL expires persisted sessions that are not written for ttl.
func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.sessionTTL = ttl }
}

// WithObserver reports operations to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// Manager owns all sessions. It is safe for concurrent use; operations on
// one session are serialized while different sessions proceed in parallel.
type Manager struct {
	backend      types.Backend
	undoLimit    int
	maxMessages  int
	autoCompress bool
	sessionTTL   time.Duration
	observer     Observer

	mu       sync.RWMutex
	sessions map[string]*session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type session struct {
	id       string
	messages []Message
	undo     []*OperationRecord
	redo     []*OperationRecord
	seq      uint64
	lastUsed time.Time
	// dirty means the backend may disagree with memory after a failed
	// write, so the next persist rewrites the whole list.
	dirty bool
}

// snapshot captures everything commit may need to roll back.
type snapshot struct {
	messages []Message
	undo     []*OperationRecord
	redo     []*OperationRecord
	seq      uint64
	lastUsed time.Time
}

func (s *session) save() snapshot {
	return snapshot{
		messages: s.messages,
		undo:     slices.Clone(s.undo),
		redo:     slices.Clone(s.redo),
		seq:      s.seq,
		lastUsed: s.lastUsed,
	}
}

func (s *session) restore(snap snapshot) {
	s.messages = snap.messages
	s.undo = snap.undo
	s.redo = snap.redo
	s.seq = snap.seq
	s.lastUsed = snap.lastUsed
}

// NewManager creates an in-memory manager. Pass WithBackend for persistence
// and call Reload to load previously saved sessions.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		undoLimit: DefaultUndoLimit,
		observer:  nopObserver{},
		sessions:  make(map[string]*session),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (m *Manager) getLock(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, ok := m.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[sessionID] = lock
	return lock
}

// lockSession acquires the per-session mutex and returns its release. The
// mutex is dropped from the lock map on release when no session is
// registered under the id, so a caller that waited on a dropped mutex
// retries on the current one.
func (m *Manager) lockSession(sessionID string) (unlock func()) {
	for {
		lock := m.getLock(sessionID)
		lock.Lock()
		m.locksMu.Lock()
		current := m.locks[sessionID]
		m.locksMu.Unlock()
		if current == lock {
			return func() {
				if m.lookup(sessionID) == nil {
					m.locksMu.Lock()
					delete(m.locks, sessionID)
					m.locksMu.Unlock()
				}
				lock.Unlock()
			}
		}
		lock.Unlock()
	}
}

func (m *Manager) lookup(sessionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

func (m *Manager) register(s *session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.observer.ObserveSessions(n)
}

func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	n := len(m.sessions)
	m.mu.Unlock()
	m.observer.ObserveSessions(n)
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return invalid("session_id", "empty session id")
	}
	return nil
}

// read runs fn with the session lock held. A missing session yields nil.
func (m *Manager) read(sessionID string, fn func(s *session)) {
	unlock := m.lockSession(sessionID)
	defer unlock()
	fn(m.lookup(sessionID))
}

// mutation computes a record and the resulting message list from the
// current session state without modifying it.
type mutation func(s *session) (*OperationRecord, []Message, error)

// mutate runs one mutating operation under the session lock and commits it.
// With create set a missing session is started; otherwise it is a
// NotFoundError.
func (m *Manager) mutate(ctx context.Context, sessionID string, kind OpKind, create bool, fn mutation) (*OperationRecord, error) {
	if err := validateSessionID(sessionID); err != nil {
		m.observer.ObserveOperation(kind, 0, err)
		return nil, err
	}
	unlock := m.lockSession(sessionID)
	defer unlock()

	rec, err := m.mutateLocked(ctx, sessionID, create, fn)
	affected := 0
	if rec != nil {
		affected = rec.Affected()
	}
	m.observer.ObserveOperation(kind, affected, err)
	return rec, err
}

// mutateLocked is mutate for callers already holding the session lock.
func (m *Manager) mutateLocked(ctx context.Context, sessionID string, create bool, fn mutation) (*OperationRecord, error) {
	s := m.lookup(sessionID)
	isNew := s == nil
	if isNew {
		if !create {
			return nil, &NotFoundError{SessionID: sessionID}
		}
		s = &session{id: sessionID}
	}
	rec, after, err := fn(s)
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, s, isNew, rec, after); err != nil {
		return nil, err
	}
	return rec, nil
}

// commit installs after as the session's messages, pushes rec on the undo
// log and persists. If persisting fails the session is restored.
func (m *Manager) commit(ctx context.Context, s *session, isNew bool, rec *OperationRecord, after []Message) error {
	snap := s.save()
	before := s.messages
	s.seq++
	rec.Seq = s.seq
	s.messages = after
	s.lastUsed = time.Now()
	m.pushUndo(s, rec)
	s.redo = nil
	if isNew {
		m.register(s)
	}
	if err := m.persist(ctx, s, before, rec); err != nil {
		m.rollback(ctx, s, snap, isNew)
		return err
	}
	return nil
}

// rollback restores snap after a failed persist. Part of the write may
// have reached the backend, so the restored state is written back in full;
// if that also fails the session stays dirty and the next persist rewrites
// it.
func (m *Manager) rollback(ctx context.Context, s *session, snap snapshot, isNew bool) {
	s.restore(snap)
	if isNew {
		m.unregister(s.id)
		if err := m.deletePersisted(ctx, s.id); err != nil {
			slog.Warn("clean up failed session write", "session_id", s.id, "error", err)
		}
		return
	}
	s.dirty = true
	if err := m.persist(ctx, s, nil, nil); err != nil {
		slog.Warn("restore session after failed write", "session_id", s.id, "error", err)
	}
}

func (m *Manager) pushUndo(s *session, rec *OperationRecord) {
	if m.undoLimit <= 0 {
		return
	}
	s.undo = append(s.undo, rec)
	if over := len(s.undo) - m.undoLimit; over > 0 {
		s.undo = slices.Delete(s.undo, 0, over)
	}
}

func (m *Manager) pushRedo(s *session, rec *OperationRecord) {
	s.redo = append(s.redo, rec)
	if over := len(s.redo) - m.undoLimit; over > 0 {
		s.redo = slices.Delete(s.redo, 0, over)
	}
}

// Query narrows GetMessages. Filter and Role apply first; Offset then skips
// that many messages from the end and Limit keeps the last Limit of what
// remains.
type Query struct {
	Filter Predicate
	Role   Role
	Limit  int
	Offset int
}

// GetMessages returns a copy of a session's messages narrowed by q. A
// missing session yields an empty slice.
func (m *Manager) GetMessages(sessionID string, q Query) []Message {
	var out []Message
	m.read(sessionID, func(s *session) {
		if s == nil {
			return
		}
		out = make([]Message, 0, len(s.messages))
		for _, msg := range s.messages {
			if q.Role != "" && msg.role != q.Role {
				continue
			}
			if q.Filter != nil && !q.Filter(msg) {
				continue
			}
			out = append(out, msg)
		}
	})
	if q.Offset > 0 {
		out = out[:max(0, len(out)-q.Offset)]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	if out == nil {
		out = []Message{}
	}
	return out
}

// GetMessage returns the message with id.
func (m *Manager) GetMessage(sessionID, id string) (Message, error) {
	var (
		msg   Message
		found bool
	)
	m.read(sessionID, func(s *session) {
		if s == nil {
			return
		}
		if i := indexOfID(s.messages, id); i >= 0 {
			msg, found = s.messages[i], true
		}
	})
	if !found {
		return Message{}, &NotFoundError{SessionID: sessionID, MessageID: id}
	}
	return msg, nil
}

// GetLastMessage returns the newest message, or the newest with role when
// role is set. ok is false when there is none.
func (m *Manager) GetLastMessage(sessionID string, role Role) (msg Message, ok bool) {
	m.read(sessionID, func(s *session) {
		if s == nil {
			return
		}
		for i := len(s.messages) - 1; i >= 0; i-- {
			if role == "" || s.messages[i].role == role {
				msg, ok = s.messages[i], true
				return
			}
		}
	})
	return msg, ok
}

// ListSessions returns the session ids in sorted order.
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// HasSession reports whether the session exists. A cleared session still
// exists until it is deleted.
func (m *Manager) HasSession(sessionID string) bool {
	return m.lookup(sessionID) != nil
}

// Len is the total number of messages across sessions.
func (m *Manager) Len() int {
	total := 0
	for _, id := range m.ListSessions() {
		m.read(id, func(s *session) {
			if s != nil {
				total += len(s.messages)
			}
		})
	}
	return total
}

// CheckToolChain validates the session's tool-call pairing.
func (m *Manager) CheckToolChain(sessionID string) ChainReport {
	var report ChainReport
	m.read(sessionID, func(s *session) {
		if s == nil {
			report = CheckToolChain(nil)
			return
		}
		report = CheckToolChain(s.messages)
	})
	return report
}

// PendingToolCalls returns the calls still waiting for a result.
func (m *Manager) PendingToolCalls(sessionID string) []ToolCallRef {
	return m.CheckToolChain(sessionID).Incomplete
}

// CanUndo reports whether Undo would change the session.
func (m *Manager) CanUndo(sessionID string) bool {
	ok := false
	m.read(sessionID, func(s *session) { ok = s != nil && len(s.undo) > 0 })
	return ok
}

// CanRedo reports whether Redo would change the session.
func (m *Manager) CanRedo(sessionID string) bool {
	ok := false
	m.read(sessionID, func(s *session) { ok = s != nil && len(s.redo) > 0 })
	return ok
}

// Operations returns the undo log, oldest first.
func (m *Manager) Operations(sessionID string) []*OperationRecord {
	var out []*OperationRecord
	m.read(sessionID, func(s *session) {
		if s != nil {
			out = slices.Clone(s.undo)
		}
	})
	return out
}

// Stats summarizes one session.
type Stats struct {
	SessionID        string         `json:"session_id"`
	Exists           bool           `json:"exists"`
	TotalMessages    int            `json:"total_messages"`
	RoleCounts       map[Role]int   `json:"role_counts"`
	Rounds           int            `json:"rounds"`
	PinnedCount      int            `json:"pinned_count"`
	TaggedCount      int            `json:"tagged_count"`
	TagCounts        map[string]int `json:"tag_counts,omitempty"`
	ToolCallCount    int            `json:"tool_call_count"`
	ToolChainValid   bool           `json:"tool_chain_valid"`
	PendingToolCalls int            `json:"pending_tool_calls"`
	FirstMessageAt   time.Time      `json:"first_message_at,omitzero"`
	LastMessageAt    time.Time      `json:"last_message_at,omitzero"`
	UndoDepth        int            `json:"undo_depth"`
	RedoDepth        int            `json:"redo_depth"`
}

// Stats computes statistics for a session from its current messages.
func (m *Manager) Stats(sessionID string) Stats {
	st := Stats{SessionID: sessionID, RoleCounts: make(map[Role]int)}
	m.read(sessionID, func(s *session) {
		if s == nil {
			st.ToolChainValid = true
			return
		}
		st.Exists = true
		st.TotalMessages = len(s.messages)
		st.UndoDepth = len(s.undo)
		st.RedoDepth = len(s.redo)
		for _, msg := range s.messages {
			st.RoleCounts[msg.role]++
			if msg.role == RoleUser {
				st.Rounds++
			}
			if msg.pinned {
				st.PinnedCount++
			}
			if len(msg.tags) > 0 {
				st.TaggedCount++
				if st.TagCounts == nil {
					st.TagCounts = make(map[string]int)
				}
				for _, t := range msg.tags {
					st.TagCounts[t]++
				}
			}
			st.ToolCallCount += len(msg.toolCalls)
		}
		if len(s.messages) > 0 {
			st.FirstMessageAt = s.messages[0].createdAt
			st.LastMessageAt = s.messages[len(s.messages)-1].createdAt
		}
		report := CheckToolChain(s.messages)
		st.ToolChainValid = report.Valid
		st.PendingToolCalls = len(report.Incomplete)
	})
	return st
}

// DeleteSession removes a session and its persisted state. It reports
// whether the session existed.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	unlock := m.lockSession(sessionID)
	defer unlock()

	if m.lookup(sessionID) == nil {
		return false, nil
	}
	if err := m.deletePersisted(ctx, sessionID); err != nil {
		return false, err
	}
	m.unregister(sessionID)
	return true, nil
}

// CopySession copies the messages of from into to as an independent
// session with an empty operation log.
func (m *Manager) CopySession(ctx context.Context, from, to string, overwrite bool) error {
	if err := validateSessionID(to); err != nil {
		return err
	}
	if from == to {
		return invalid("session_id", "cannot copy session %s onto itself", from)
	}
	var msgs []Message
	found := false
	m.read(from, func(s *session) {
		if s != nil {
			msgs, found = slices.Clone(s.messages), true
		}
	})
	if !found {
		return &NotFoundError{SessionID: from}
	}

	unlock := m.lockSession(to)
	defer unlock()

	existing := m.lookup(to)
	if existing != nil && !overwrite {
		return invalid("session_id", "session %s already exists", to)
	}
	s := &session{id: to, messages: msgs, lastUsed: time.Now()}
	if err := m.persist(ctx, s, nil, nil); err != nil {
		return fmt.Errorf("copy session %s to %s: %w", from, to, err)
	}
	m.register(s)
	return nil
}

func indexOfID(msgs []Message, id string) int {
	for i, msg := range msgs {
		if msg.id == id {
			return i
		}
	}
	return -1
}
