package memory

import (
	"context"
	"fmt"
	"slices"
	"testing"
)

func TestUndo_DeleteLastRestoresOrder(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		mustAdd(t, m, "s1", UserMessage(fmt.Sprintf("m%d", i)))
	}
	before := m.GetMessages("s1", Query{})

	if _, err := m.DeleteLast(ctx, "s1", 3); err != nil {
		t.Fatal(err)
	}
	ok, err := m.Undo(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("undo: %v %v", ok, err)
	}
	after := m.GetMessages("s1", Query{})
	if !slices.EqualFunc(before, after, Message.Equal) {
		t.Errorf("undo did not restore the session:\n got %s\nwant %s", contents(after), contents(before))
	}
}

func TestUndo_ScatteredRemoveRestoresPositions(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1", conversation()...)
	before := m.GetMessages("s1", Query{})

	if _, err := m.Remove(ctx, "s1", ByRole(RoleUser)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Undo(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if got := m.GetMessages("s1", Query{}); !slices.EqualFunc(before, got, Message.Equal) {
		t.Errorf("got %s, want %s", contents(got), contents(before))
	}
}

func TestUndoRedo_Sequence(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	mustAdd(t, m, "s1", UserMessage("a"))
	mustAdd(t, m, "s1", UserMessage("b"))
	first := m.GetMessages("s1", Query{})[0]
	if _, err := m.Apply(ctx, "s1", ByID(first.ID()), func(msg Message) Message { return msg.WithContent("A") }); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		do   func() (bool, error)
		want string
	}{
		{func() (bool, error) { return m.Undo(ctx, "s1") }, "a,b"},
		{func() (bool, error) { return m.Undo(ctx, "s1") }, "a"},
		{func() (bool, error) { return m.Redo(ctx, "s1") }, "a,b"},
		{func() (bool, error) { return m.Redo(ctx, "s1") }, "A,b"},
	}
	for i, s := range steps {
		ok, err := s.do()
		if err != nil || !ok {
			t.Fatalf("step %d: %v %v", i, ok, err)
		}
		if got := sessionContents(m, "s1"); got != s.want {
			t.Errorf("step %d: got %q, want %q", i, got, s.want)
		}
	}

	if ok, _ := m.Redo(ctx, "s1"); ok {
		t.Error("redo log should be empty")
	}
	if _, err := m.Undo(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, m, "s1", UserMessage("c"))
	if m.CanRedo("s1") {
		t.Error("a new operation must clear the redo log")
	}
}

func TestUndo_NothingToUndo(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	if ok, err := m.Undo(ctx, "missing"); ok || err != nil {
		t.Errorf("undo on missing session: %v %v", ok, err)
	}
	mustAdd(t, m, "s1", UserMessage("a"))
	if ok, _ := m.Undo(ctx, "s1"); !ok {
		t.Fatal("expected undo")
	}
	if ok, _ := m.Undo(ctx, "s1"); ok {
		t.Error("expected nothing left to undo")
	}
	if !m.HasSession("s1") {
		t.Error("undoing the first add keeps the session")
	}
}

func TestUndo_Limit(t *testing.T) {
	m := NewManager(WithUndoLimit(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustAdd(t, m, "s1", UserMessage(fmt.Sprint(i)))
	}
	if n := len(m.Operations("s1")); n != 2 {
		t.Errorf("expected 2 operations kept, got %d", n)
	}
	m.Undo(ctx, "s1")
	m.Undo(ctx, "s1")
	if ok, _ := m.Undo(ctx, "s1"); ok {
		t.Error("expected undo log exhausted")
	}
	if got := sessionContents(m, "s1"); got != "0,1,2" {
		t.Errorf("got %q", got)
	}

	disabled := NewManager(WithUndoDisabled())
	mustAdd(t, disabled, "s1", UserMessage("x"))
	if disabled.CanUndo("s1") {
		t.Error("undo should be disabled")
	}
}

func TestOperationRecord_Sequence(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, "s1", UserMessage("a"))
	mustAdd(t, m, "s1", UserMessage("b"))
	ops := m.Operations("s1")
	if ops[0].Seq != 1 || ops[1].Seq != 2 || ops[0].ID >= ops[1].ID {
		t.Errorf("unexpected seq/id ordering: %+v %+v", ops[0], ops[1])
	}
	if ops[1].Kind != OpAdd || ops[1].SessionID != "s1" {
		t.Errorf("unexpected record: %+v", ops[1])
	}
}

func TestApplyEdits_RejectsStalePatch(t *testing.T) {
	msgs := []Message{UserMessage("a"), UserMessage("b")}
	stale := []Edit{{Op: EditDelete, Index: 0, Message: UserMessage("other")}}
	if _, _, err := applyEdits(msgs, stale); err == nil {
		t.Error("expected id mismatch error")
	}
	if _, _, err := applyEdits(msgs, []Edit{{Op: EditInsert, Index: 5, Message: UserMessage("x")}}); err == nil {
		t.Error("expected out of range error")
	}
}
