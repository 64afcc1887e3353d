package memory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is wrapped by NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrToolChain is wrapped by ToolChainError.
	ErrToolChain = errors.New("invalid tool chain")
	// ErrValidation is wrapped by ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrCapacity is wrapped by CapacityError.
	ErrCapacity = errors.New("capacity exceeded")
)

// NotFoundError reports a missing session or message.
type NotFoundError struct {
	SessionID string
	MessageID string
}

func (e *NotFoundError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("message %s not found in session %s", e.MessageID, e.SessionID)
	}
	return fmt.Sprintf("session %s not found", e.SessionID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ToolChainError is returned by BuildHistory when tool calls and tool results
// do not pair up.
type ToolChainError struct {
	SessionID  string
	Reason     string
	Incomplete []ToolCallRef
}

func (e *ToolChainError) Error() string {
	return fmt.Sprintf("session %s: tool chain validation failed: %s", e.SessionID, e.Reason)
}

func (e *ToolChainError) Unwrap() error { return ErrToolChain }

// ValidationError reports malformed input to a mutation. It is always
// returned before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CapacityError is returned when a hard message cap would be exceeded and
// automatic compression is disabled.
type CapacityError struct {
	SessionID string
	Limit     int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session %s: %d messages exceeds limit of %d", e.SessionID, e.Requested, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func joinIDs(refs []ToolCallRef) string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return "[" + strings.Join(ids, ", ") + "]"
}
