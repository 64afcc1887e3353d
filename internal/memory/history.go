package memory

import "slices"

// HistoryOptions shapes the output of BuildHistory. Zero values disable the
// corresponding window.
type HistoryOptions struct {
	// MaxRounds keeps the last N rounds (a user message and everything up
	// to the next user message).
	MaxRounds int
	// MaxMessages caps the message count. Protected messages always stay
	// and count toward the cap.
	MaxMessages  int
	ExcludeRoles []Role
	// KeepPinned and KeepTagged protect messages from the windows above.
	KeepPinned bool
	KeepTagged []string
	// Processors run left to right after the windows.
	Processors []Processor
}

// BuildHistory validates the session's tool chain and returns the shaped,
// model-ready history. An invalid chain yields a *ToolChainError.
func (m *Manager) BuildHistory(sessionID string, opts HistoryOptions) (*HistoryPayload, error) {
	return m.buildHistory(sessionID, opts, true)
}

// BuildHistoryUnsafe is BuildHistory without tool-chain validation, for the
// window between issuing tool calls and receiving their results.
func (m *Manager) BuildHistoryUnsafe(sessionID string, opts HistoryOptions) *HistoryPayload {
	p, _ := m.buildHistory(sessionID, opts, false)
	return p
}

func (m *Manager) buildHistory(sessionID string, opts HistoryOptions, validate bool) (*HistoryPayload, error) {
	var snap []Message
	m.read(sessionID, func(s *session) {
		if s != nil {
			snap = slices.Clone(s.messages)
		}
	})

	if validate {
		if report := CheckToolChain(snap); !report.Valid {
			err := &ToolChainError{SessionID: sessionID, Reason: report.Err, Incomplete: report.Incomplete}
			m.observer.ObserveHistory(0, err)
			return nil, err
		}
	}

	out := shapeHistory(snap, opts)
	p := newPayload(sessionID, out)
	m.observer.ObserveHistory(p.MessageCount(), nil)
	return p, nil
}

func shapeHistory(msgs []Message, opts HistoryOptions) []Message {
	if len(opts.ExcludeRoles) > 0 {
		msgs = ExcludeRoles(opts.ExcludeRoles...)(msgs)
	}
	protected := func(msg Message) bool {
		return isProtected(msg, opts.KeepPinned, opts.KeepTagged)
	}

	if opts.MaxRounds > 0 {
		start := roundStart(msgs, opts.MaxRounds)
		kept := make([]Message, 0, len(msgs))
		for i, msg := range msgs {
			if i >= start || protected(msg) {
				kept = append(kept, msg)
			}
		}
		msgs = kept
	}

	if opts.MaxMessages > 0 && len(msgs) > opts.MaxMessages {
		nProtected := 0
		for _, msg := range msgs {
			if protected(msg) {
				nProtected++
			}
		}
		budget := max(0, opts.MaxMessages-nProtected)
		keep := make([]bool, len(msgs))
		for i := len(msgs) - 1; i >= 0; i-- {
			switch {
			case protected(msgs[i]):
				keep[i] = true
			case budget > 0:
				keep[i] = true
				budget--
			}
		}
		kept := make([]Message, 0, opts.MaxMessages)
		for i, msg := range msgs {
			if keep[i] {
				kept = append(kept, msg)
			}
		}
		msgs = kept
	}

	if len(opts.Processors) > 0 {
		msgs = Chain(opts.Processors...)(msgs)
	}
	return msgs
}
