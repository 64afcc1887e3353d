package memory

import (
	"fmt"
	"slices"
	"time"

	"github.com/user/recall/internal/types"
)

// OpKind names the kind of a mutating operation.
type OpKind string

const (
	OpAdd      OpKind = "add"
	OpApply    OpKind = "apply"
	OpRemove   OpKind = "remove"
	OpInject   OpKind = "inject"
	OpDelete   OpKind = "delete"
	OpCompress OpKind = "compress"
	OpClear    OpKind = "clear"
)

// EditOp is a primitive list edit.
type EditOp string

const (
	EditInsert  EditOp = "insert"
	EditDelete  EditOp = "delete"
	EditReplace EditOp = "replace"
)

// Edit is one step of a patch. Delete and replace carry the message found at
// Index, so a patch applied to the wrong state is rejected.
type Edit struct {
	Op      EditOp  `json:"op"`
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// OperationRecord is the undo/redo unit. Applying Inverse to the state after
// the operation reproduces the state before it, message for message.
type OperationRecord struct {
	ID        string    `json:"id"`
	Kind      OpKind    `json:"kind"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Forward   []Edit    `json:"forward"`
	Inverse   []Edit    `json:"inverse"`
}

// IsNoop reports a record that changed nothing (for example a predicate
// matching zero messages).
func (r *OperationRecord) IsNoop() bool { return len(r.Forward) == 0 }

// Inserted returns the messages the operation added.
func (r *OperationRecord) Inserted() []Message { return editMessages(r.Forward, EditInsert) }

// Removed returns the messages the operation deleted.
func (r *OperationRecord) Removed() []Message { return editMessages(r.Inverse, EditInsert) }

// Replaced returns the new versions of messages the operation rewrote.
func (r *OperationRecord) Replaced() []Message { return editMessages(r.Forward, EditReplace) }

// Affected is the number of messages inserted, removed or rewritten.
func (r *OperationRecord) Affected() int { return len(r.Forward) }

func editMessages(edits []Edit, op EditOp) []Message {
	var out []Message
	for _, e := range edits {
		if e.Op == op {
			out = append(out, e.Message)
		}
	}
	return out
}

func newRecord(kind OpKind, sessionID string, before []Message, forward []Edit) (*OperationRecord, []Message, error) {
	after, inverse, err := applyEdits(before, forward)
	if err != nil {
		return nil, nil, err
	}
	return &OperationRecord{
		ID:        types.NewOperationID(),
		Kind:      kind,
		SessionID: sessionID,
		At:        time.Now().UTC(),
		Forward:   forward,
		Inverse:   inverse,
	}, after, nil
}

// applyEdits applies edits in order to a copy of msgs and returns the result
// along with the edits that undo them.
func applyEdits(msgs []Message, edits []Edit) ([]Message, []Edit, error) {
	out := slices.Clone(msgs)
	inverse := make([]Edit, 0, len(edits))
	for n, e := range edits {
		switch e.Op {
		case EditInsert:
			if e.Index < 0 || e.Index > len(out) {
				return nil, nil, fmt.Errorf("edit %d: insert index %d out of range [0,%d]", n, e.Index, len(out))
			}
			out = slices.Insert(out, e.Index, e.Message)
			inverse = append(inverse, Edit{Op: EditDelete, Index: e.Index, Message: e.Message})
		case EditDelete, EditReplace:
			if e.Index < 0 || e.Index >= len(out) {
				return nil, nil, fmt.Errorf("edit %d: %s index %d out of range [0,%d)", n, e.Op, e.Index, len(out))
			}
			old := out[e.Index]
			if old.id != e.Message.id {
				return nil, nil, fmt.Errorf("edit %d: expected message %s at index %d, found %s", n, e.Message.id, e.Index, old.id)
			}
			if e.Op == EditDelete {
				out = slices.Delete(out, e.Index, e.Index+1)
				inverse = append(inverse, Edit{Op: EditInsert, Index: e.Index, Message: old})
			} else {
				out[e.Index] = e.Message
				inverse = append(inverse, Edit{Op: EditReplace, Index: e.Index, Message: old})
			}
		default:
			return nil, nil, fmt.Errorf("edit %d: unknown op %q", n, e.Op)
		}
	}
	slices.Reverse(inverse)
	return out, inverse, nil
}

// deleteEdits builds edits removing the given ascending indexes of msgs.
// Deletes run from the back so earlier indexes stay valid.
func deleteEdits(msgs []Message, indexes []int) []Edit {
	edits := make([]Edit, 0, len(indexes))
	for i := len(indexes) - 1; i >= 0; i-- {
		idx := indexes[i]
		edits = append(edits, Edit{Op: EditDelete, Index: idx, Message: msgs[idx]})
	}
	return edits
}

// insertEdits builds edits inserting msgs as a block starting at pos.
func insertEdits(pos int, msgs []Message) []Edit {
	edits := make([]Edit, len(msgs))
	for i, m := range msgs {
		edits[i] = Edit{Op: EditInsert, Index: pos + i, Message: m}
	}
	return edits
}
