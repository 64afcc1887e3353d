// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a fresh session identifier in UUID form.
func NewSessionID() string {
	return uuid.New().String()
}

// NewMessageID returns a 16 character hex identifier for a message.
func NewMessageID() string {
	return hexUUID()[:16]
}

// NewToolCallID returns an OpenAI-style tool call identifier ("call_" + 12 hex).
func NewToolCallID() string {
	return "call_" + hexUUID()[:12]
}

// NewOperationID returns a ULID so operation ids sort by creation time.
func NewOperationID() string {
	return ulid.Make().String()
}

func hexUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
