// Package sweep holds the most recent spoke received for every angular bin.
//
// A sweep is one rotation's worth of spokes. The buffer keeps exactly one
// entry per bin: a new spoke for bin a replaces the previous entry for a,
// never merges with it, so after any sequence of spokes each bin holds the
// data of the last spoke written to it.
package sweep

import "fmt"

// Entry is the latest data for one bin.
type Entry struct {
	Data  []byte  // samples, index 0 nearest
	Range float64 // metres represented by the full length of Data
}

// Buffer is an angle-indexed table of entries. It is not safe for concurrent
// use; the compositor owns it from a single goroutine.
type Buffer struct {
	entries []Entry
	filled  int
}

// New returns a Buffer with spokes bins.
func New(spokes int) *Buffer {
	if spokes < 0 {
		spokes = 0
	}
	return &Buffer{entries: make([]Entry, spokes)}
}

// Spokes returns the number of bins.
func (b *Buffer) Spokes() int { return len(b.entries) }

// Len returns the number of bins holding data.
func (b *Buffer) Len() int { return b.filled }

// Set replaces the entry for angle. The buffer keeps data without copying,
// so callers must not modify it afterwards. An empty data slice clears the
// bin.
func (b *Buffer) Set(angle int, data []byte, rng float64) error {
	if angle < 0 || angle >= len(b.entries) {
		return fmt.Errorf("angle %d outside [0,%d)", angle, len(b.entries))
	}
	had := len(b.entries[angle].Data) > 0
	has := len(data) > 0
	switch {
	case has && !had:
		b.filled++
	case had && !has:
		b.filled--
	}
	if !has {
		data = nil
	}
	b.entries[angle] = Entry{Data: data, Range: rng}
	return nil
}

// Get returns the entry for angle and whether it holds data.
func (b *Buffer) Get(angle int) (Entry, bool) {
	if angle < 0 || angle >= len(b.entries) {
		return Entry{}, false
	}
	e := b.entries[angle]
	return e, len(e.Data) > 0
}

// Each calls fn for every non-empty bin in ascending angle order.
func (b *Buffer) Each(fn func(angle int, e Entry)) {
	if b.filled == 0 {
		return
	}
	for a, e := range b.entries {
		if len(e.Data) > 0 {
			fn(a, e)
		}
	}
}

// Clear empties every bin, keeping the bin count.
func (b *Buffer) Clear() {
	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	b.filled = 0
}

// Resize discards all entries and sets a new bin count. Entries recorded
// under a different angular resolution cannot be mapped onto the new bins.
func (b *Buffer) Resize(spokes int) {
	if spokes < 0 {
		spokes = 0
	}
	if spokes == len(b.entries) {
		b.Clear()
		return
	}
	b.entries = make([]Entry, spokes)
	b.filled = 0
}
