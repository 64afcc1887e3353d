package memory

import (
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/user/recall/pkg/llm"
)

// HistoryPayload is the model-ready result of BuildHistory. It is built
// fresh on every call and holds its own copy of the messages.
type HistoryPayload struct {
	messages       []Message
	sessionID      string
	createdAt      time.Time
	roundCount     int
	hasToolCalls   bool
	toolChainValid bool
	fingerprint    uint64
}

func newPayload(sessionID string, msgs []Message) *HistoryPayload {
	p := &HistoryPayload{
		messages:  slices.Clone(msgs),
		sessionID: sessionID,
		createdAt: time.Now().UTC(),
	}
	for _, m := range p.messages {
		if m.role == RoleUser {
			p.roundCount++
		}
		if m.HasToolCalls() {
			p.hasToolCalls = true
		}
	}
	p.toolChainValid = CheckToolChain(p.messages).Valid
	p.fingerprint = p.computeFingerprint()
	return p
}

// Messages returns a copy of the payload messages.
func (p *HistoryPayload) Messages() []Message { return slices.Clone(p.messages) }

func (p *HistoryPayload) SessionID() string    { return p.sessionID }
func (p *HistoryPayload) CreatedAt() time.Time { return p.createdAt }
func (p *HistoryPayload) MessageCount() int    { return len(p.messages) }

// RoundCount is the number of user messages in the payload.
func (p *HistoryPayload) RoundCount() int      { return p.roundCount }
func (p *HistoryPayload) HasToolCalls() bool   { return p.hasToolCalls }
func (p *HistoryPayload) ToolChainValid() bool { return p.toolChainValid }

// Fingerprint identifies the payload content independent of when it was
// built. Two payloads with the same session and wire messages share it.
func (p *HistoryPayload) Fingerprint() string {
	return strconv.FormatUint(p.fingerprint, 16)
}

// Verify reports whether the messages still match the fingerprint.
func (p *HistoryPayload) Verify() bool {
	return p.computeFingerprint() == p.fingerprint
}

func (p *HistoryPayload) computeFingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.sessionID)
	_, _ = d.Write([]byte{0})
	data, err := json.Marshal(p.Wire())
	if err != nil {
		return 0
	}
	_, _ = d.Write(data)
	return d.Sum64()
}

// Wire converts the payload to OpenAI chat messages.
func (p *HistoryPayload) Wire() []llm.Message {
	out := make([]llm.Message, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Wire()
	}
	return out
}

// MarshalJSON encodes the payload as an OpenAI messages array.
func (p *HistoryPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Wire())
}

// Equal compares session, fingerprint and messages; CreatedAt is ignored.
func (p *HistoryPayload) Equal(o *HistoryPayload) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.sessionID == o.sessionID && p.fingerprint == o.fingerprint &&
		slices.EqualFunc(p.messages, o.messages, Message.Equal)
}
