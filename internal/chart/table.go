package chart

import (
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Table maps model ids to rendering handles. Handles are created on first
// Acquire and released exactly once, either by Release or by Close.
type Table struct {
	width  int
	height int

	mu      sync.Mutex
	closed  bool
	handles map[string]*Handle
}

type Option func(*Table)

func WithSize(width, height int) Option {
	return func(t *Table) {
		if width > 0 {
			t.width = width
		}
		if height > 0 {
			t.height = height
		}
	}
}

func NewTable(opts ...Option) *Table {
	t := &Table{
		width:   defaultWidth,
		height:  defaultHeight,
		handles: map[string]*Handle{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) Acquire(modelID string) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if h, ok := t.handles[modelID]; ok {
		return h, nil
	}
	h := &Handle{modelID: modelID, width: t.width, height: t.height}
	t.handles[modelID] = h
	log.WithField("model_id", modelID).Debug("chart handle acquired")
	return h, nil
}

// Release drops the handle for modelID. It reports false when no live
// handle existed.
func (t *Table) Release(modelID string) bool {
	t.mu.Lock()
	h, ok := t.handles[modelID]
	delete(t.handles, modelID)
	t.mu.Unlock()
	if !ok {
		return false
	}
	return h.release()
}

// Close releases every remaining handle. Later Acquire calls fail.
func (t *Table) Close() {
	t.mu.Lock()
	handles := t.handles
	t.handles = map[string]*Handle{}
	t.closed = true
	t.mu.Unlock()

	for _, h := range handles {
		h.release()
	}
}

// Models lists model ids with a live handle, sorted.
func (t *Table) Models() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.handles))
	for id := range t.handles {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
