package timeline

import "sync"

// historyLimit bounds the undo stack.
const historyLimit = 50

// History is a bounded undo/redo stack of timeline states. Every
// user-initiated mutation pushes the previous state and clears the redo
// stack; initial loads and reconciliations do not.
type History struct {
	mu     sync.Mutex
	past   []*Timeline
	future []*Timeline
}

func NewHistory() *History {
	return &History{}
}

// Push records previous as an undoable state and clears the redo stack.
func (h *History) Push(previous *Timeline) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.past = append(h.past, previous.Clone())
	if len(h.past) > historyLimit {
		h.past = h.past[len(h.past)-historyLimit:]
	}
	h.future = nil
}

// Undo returns the previous state, moving current onto the redo stack.
func (h *History) Undo(current *Timeline) (*Timeline, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.past) == 0 {
		return nil, false
	}
	previous := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, current.Clone())
	return previous, true
}

// Redo returns the next state, moving current back onto the undo stack.
func (h *History) Redo(current *Timeline) (*Timeline, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.future) == 0 {
		return nil, false
	}
	next := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, current.Clone())
	return next, true
}

// CanUndo and CanRedo report stack depth without mutating it.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}
