// Package annotation is the drawing layer over a shared screen: a canvas of
// strokes with a linear undo/redo history of serialized snapshots.
package annotation

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrNotEntitled: the overlay is premium-gated; eligibility is decided
	// upstream and consumed here as a boolean.
	ErrNotEntitled = errors.New("annotation overlay requires a premium entitlement")

	// ErrInactive: drawing is only possible while a screen share is live.
	ErrInactive = errors.New("annotation overlay is only active while screen sharing")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Stroke struct {
	Tool   string  `json:"tool"`
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
}

// Snapshot is one serialized canvas state. Serialization of the in-memory
// stroke list cannot fail, so history operations have no error path beyond
// cursor bounds.
type Snapshot []byte

// Overlay keeps the canvas plus its history. Invariant when history is
// non-empty: 0 <= step <= len(history)-1. A draw after undo discards every
// snapshot beyond the cursor.
type Overlay struct {
	entitled bool

	mu      sync.Mutex
	active  bool
	strokes []Stroke
	history []Snapshot
	step    int
}

func NewOverlay(entitled bool) *Overlay {
	return &Overlay{entitled: entitled}
}

// SetActive follows the call session's screen-share state.
func (o *Overlay) SetActive(active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = active
}

// Draw appends a stroke and pushes a new history snapshot, truncating any
// redo-able entries beyond the cursor.
func (o *Overlay) Draw(s Stroke) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.usableLocked(); err != nil {
		return err
	}

	o.strokes = append(o.strokes, s)
	o.pushLocked()
	return nil
}

// Clear wipes the canvas and records the empty state as a snapshot, so a
// clear is itself undoable.
func (o *Overlay) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.usableLocked(); err != nil {
		return err
	}

	o.strokes = nil
	o.pushLocked()
	return nil
}

// Undo moves the cursor back one snapshot. No-op at the lower boundary;
// reports whether the canvas changed.
func (o *Overlay) Undo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.step <= 0 || len(o.history) == 0 {
		return false
	}

	o.step--
	o.restoreLocked()
	return true
}

// Redo moves the cursor forward one snapshot. No-op at the upper boundary.
func (o *Overlay) Redo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) == 0 || o.step >= len(o.history)-1 {
		return false
	}

	o.step++
	o.restoreLocked()
	return true
}

func (o *Overlay) Strokes() []Stroke {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Stroke, len(o.strokes))
	copy(out, o.strokes)
	return out
}

func (o *Overlay) HistoryLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.history)
}

func (o *Overlay) Step() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

func (o *Overlay) usableLocked() error {
	if !o.entitled {
		return ErrNotEntitled
	}
	if !o.active {
		return ErrInactive
	}
	return nil
}

func (o *Overlay) pushLocked() {
	snapshot, _ := json.Marshal(o.strokes)

	if len(o.history) > 0 {
		o.history = o.history[:o.step+1]
	}
	o.history = append(o.history, Snapshot(snapshot))
	o.step = len(o.history) - 1
}

func (o *Overlay) restoreLocked() {
	var strokes []Stroke
	if err := json.Unmarshal(o.history[o.step], &strokes); err != nil {
		// Snapshots are produced in-process from the stroke list; this
		// cannot happen for well-formed history.
		return
	}
	o.strokes = strokes
}
