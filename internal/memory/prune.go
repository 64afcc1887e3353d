package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// PrunePolicy selects sessions for Prune. Zero fields are ignored.
type PrunePolicy struct {
	// IdleTTL removes sessions not written for longer than this.
	IdleTTL time.Duration
	// MaxSessions removes the least recently written sessions beyond this
	// many.
	MaxSessions int
}

// Prune deletes idle sessions, then the least recently used sessions above
// the cap, and returns the ids it removed.
func (m *Manager) Prune(ctx context.Context, policy PrunePolicy) ([]string, error) {
	type entry struct {
		id       string
		lastUsed time.Time
	}
	var entries []entry
	for _, id := range m.ListSessions() {
		m.read(id, func(s *session) {
			if s != nil {
				entries = append(entries, entry{id: id, lastUsed: s.lastUsed})
			}
		})
	}

	var victims []string
	now := time.Now()
	live := entries[:0]
	for _, e := range entries {
		if policy.IdleTTL > 0 && now.Sub(e.lastUsed) > policy.IdleTTL {
			victims = append(victims, e.id)
			continue
		}
		live = append(live, e)
	}
	if policy.MaxSessions > 0 && len(live) > policy.MaxSessions {
		sort.Slice(live, func(i, j int) bool { return live[i].lastUsed.Before(live[j].lastUsed) })
		for _, e := range live[:len(live)-policy.MaxSessions] {
			victims = append(victims, e.id)
		}
	}

	removed := make([]string, 0, len(victims))
	for _, id := range victims {
		ok, err := m.DeleteSession(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		slog.Info("pruned sessions", "count", len(removed))
	}
	return removed, nil
}
