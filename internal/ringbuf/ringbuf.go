// Package ringbuf implements a fixed-capacity FIFO store for numeric tick
// history. Entries are fixed-width tuples of float64 fields packed into a
// single backing slice, so a full buffer never allocates again.
package ringbuf

import "fmt"

type Buffer struct {
	fields   int
	capacity int
	data     []float64
	start    int // physical index of the oldest entry
	length   int
}

// New creates a buffer holding at most capacity entries of fieldsPerEntry
// float64 fields each. Both arguments must be positive.
func New(capacity, fieldsPerEntry int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuf: capacity must be positive, got %d", capacity)
	}
	if fieldsPerEntry <= 0 {
		return nil, fmt.Errorf("ringbuf: fieldsPerEntry must be positive, got %d", fieldsPerEntry)
	}
	return &Buffer{
		fields:   fieldsPerEntry,
		capacity: capacity,
		data:     make([]float64, capacity*fieldsPerEntry),
	}, nil
}

func (b *Buffer) Len() int            { return b.length }
func (b *Buffer) Cap() int            { return b.capacity }
func (b *Buffer) FieldsPerEntry() int { return b.fields }

// Push appends one entry, evicting the oldest once at capacity.
// The entry must have exactly FieldsPerEntry values; anything else is a
// caller contract violation and the push is rejected.
func (b *Buffer) Push(entry []float64) error {
	if len(entry) != b.fields {
		return fmt.Errorf("ringbuf: entry has %d fields, want %d", len(entry), b.fields)
	}

	var pos int
	if b.length < b.capacity {
		pos = (b.start + b.length) % b.capacity
		b.length++
	} else {
		// full: overwrite the oldest slot and advance start
		pos = b.start
		b.start = (b.start + 1) % b.capacity
	}

	copy(b.data[pos*b.fields:(pos+1)*b.fields], entry)
	return nil
}

// At returns a copy of the entry at insertion-order index i (0 = oldest).
func (b *Buffer) At(i int) ([]float64, bool) {
	if i < 0 || i >= b.length {
		return nil, false
	}
	out := make([]float64, b.fields)
	b.readEntry(i, out)
	return out, true
}

// ReadInto copies the entry at index i into out, which must have exactly
// FieldsPerEntry values. Avoids allocation on hot read paths.
func (b *Buffer) ReadInto(i int, out []float64) bool {
	if i < 0 || i >= b.length || len(out) != b.fields {
		return false
	}
	b.readEntry(i, out)
	return true
}

// Field reads a single field of entry i without materializing the entry.
func (b *Buffer) Field(i, field int) (float64, bool) {
	if i < 0 || i >= b.length || field < 0 || field >= b.fields {
		return 0, false
	}
	pos := (b.start + i) % b.capacity
	return b.data[pos*b.fields+field], true
}

// ToArray snapshots all entries, oldest first.
func (b *Buffer) ToArray() [][]float64 {
	out := make([][]float64, b.length)
	for i := 0; i < b.length; i++ {
		entry := make([]float64, b.fields)
		b.readEntry(i, entry)
		out[i] = entry
	}
	return out
}

// Clear resets the buffer to empty, reusing the backing slice.
func (b *Buffer) Clear() {
	b.start = 0
	b.length = 0
}

func (b *Buffer) readEntry(i int, out []float64) {
	pos := (b.start + i) % b.capacity
	copy(out, b.data[pos*b.fields:(pos+1)*b.fields])
}
