package undo

import "testing"

func TestPushUndoRoundTrip(t *testing.T) {
	r := New(4)
	r.Push([]uint8{1, 2, 3})

	got, ok := r.Undo([]uint8{9, 9, 9})
	if !ok {
		t.Fatal("expected Undo to succeed")
	}
	if string(got) != string([]uint8{1, 2, 3}) {
		t.Fatalf("got %v, want snapshot pushed earlier", got)
	}
}

func TestUndoEmptyRingFails(t *testing.T) {
	r := New(4)
	if _, ok := r.Undo([]uint8{1}); ok {
		t.Fatal("expected Undo on an empty ring to fail")
	}
}

func TestRedoReversesUndo(t *testing.T) {
	r := New(4)
	r.Push([]uint8{1})

	before := []uint8{2}
	popped, ok := r.Undo(before)
	if !ok || string(popped) != string([]uint8{1}) {
		t.Fatalf("Undo failed or returned wrong snapshot: %v", popped)
	}

	restored, ok := r.Redo([]uint8{3})
	if !ok {
		t.Fatal("expected Redo to succeed")
	}
	if string(restored) != string(before) {
		t.Fatalf("Redo returned %v, want the pre-undo state %v", restored, before)
	}
}

func TestEvictsOldestBeyondCapacity(t *testing.T) {
	r := New(2)
	r.Push([]uint8{1})
	r.Push([]uint8{2})
	r.Push([]uint8{3})

	if r.Depth() != 2 {
		t.Fatalf("expected depth 2 after eviction, got %d", r.Depth())
	}

	got, ok := r.Undo(nil)
	if !ok || string(got) != string([]uint8{3}) {
		t.Fatalf("expected most recent snapshot {3}, got %v", got)
	}
}

func TestPushClearsRedo(t *testing.T) {
	r := New(4)
	r.Push([]uint8{1})
	r.Undo([]uint8{2})
	if _, ok := r.Redo(nil); !ok {
		t.Fatal("expected a pending redo before the next Push")
	}

	r.Push([]uint8{1})
	r.Undo([]uint8{2})
	r.Push([]uint8{3}) // a fresh save_undo clears redo history
	if _, ok := r.Redo(nil); ok {
		t.Fatal("expected Push to clear the redo deque")
	}
}
