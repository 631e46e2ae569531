// Package undo implements the bounded undo/redo ring (spec section 4.7):
// save_undo pushes a Quetzal-encoded snapshot of volatile engine state,
// restore_undo pops the most recent one. Undo snapshots carry no
// SaveSecurity wrapper - they never leave the process - and so are just
// raw Quetzal blobs the engine hands in and gets back out unchanged.
package undo

import "fmt"

// defaultCapacity bounds the undo ring (spec section 4.7: "e.g., 16").
const defaultCapacity = 16

// Ring is a bounded deque of in-memory Quetzal snapshots with a paired
// redo deque. It stores opaque blobs - the caller (zmachine) owns encoding
// and decoding via the quetzal package.
type Ring struct {
	capacity int
	undo     [][]uint8
	redo     [][]uint8
}

// New creates a ring with the given capacity. A non-positive capacity
// falls back to the default of 16.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Ring{capacity: capacity}
}

// Push records a new undo snapshot (save_undo), evicting the oldest entry
// once the ring is at capacity. Any pending redo history is cleared: a
// fresh save_undo after moves means the previous undo's redo path is gone.
func (r *Ring) Push(snapshot []uint8) {
	r.undo = append(r.undo, snapshot)
	if len(r.undo) > r.capacity {
		r.undo = r.undo[1:]
	}
	r.redo = nil
}

// Undo pops the most recent snapshot (restore_undo), pushing its
// displacement onto the redo deque so Redo can reverse it. current is the
// engine's present-state snapshot, captured by the caller before applying
// the popped one, so a subsequent Redo has something to return to.
func (r *Ring) Undo(current []uint8) ([]uint8, bool) {
	if len(r.undo) == 0 {
		return nil, false
	}
	n := len(r.undo)
	snapshot := r.undo[n-1]
	r.undo = r.undo[:n-1]
	r.redo = append(r.redo, current)
	return snapshot, true
}

// Redo reverses the most recent Undo, if any. current is the engine's
// present-state snapshot, re-pushed onto the undo deque so a further Undo
// can return to it.
func (r *Ring) Redo(current []uint8) ([]uint8, bool) {
	if len(r.redo) == 0 {
		return nil, false
	}
	n := len(r.redo)
	snapshot := r.redo[n-1]
	r.redo = r.redo[:n-1]
	r.undo = append(r.undo, current)
	return snapshot, true
}

// ClearRedo discards the redo deque. Called by the engine at the start of
// the first Step after a host-level Undo, whatever that instruction is.
func (r *Ring) ClearRedo() {
	r.redo = nil
}

// Depth reports the number of saved undo snapshots, for diagnostics.
func (r *Ring) Depth() int {
	return len(r.undo)
}

func (r *Ring) String() string {
	return fmt.Sprintf("undo.Ring{undo=%d redo=%d cap=%d}", len(r.undo), len(r.redo), r.capacity)
}
