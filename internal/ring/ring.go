// Package ring provides a fixed-capacity circular buffer.
//
// The backing array is allocated once at construction, so memory use is
// bounded by the capacity no matter how many values are pushed.
package ring

import "iter"

// Buffer is a FIFO circular buffer. The zero value is not usable; call New.
type Buffer[T any] struct {
	items []T
	head  int
	n     int
}

// New returns an empty buffer holding at most capacity values.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Len returns the number of values held.
func (b *Buffer[T]) Len() int { return b.n }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Full reports whether Len equals Cap.
func (b *Buffer[T]) Full() bool { return b.n == len(b.items) }

func (b *Buffer[T]) index(i int) int {
	return (b.head + i) % len(b.items)
}

// Push appends v at the back. If the buffer is full the oldest value is
// evicted first and Push returns true.
func (b *Buffer[T]) Push(v T) bool {
	evicted := false
	if b.n == len(b.items) {
		b.DropFront(1)
		evicted = true
	}
	b.items[b.index(b.n)] = v
	b.n++
	return evicted
}

// DropFront removes up to n of the oldest values and returns how many were
// removed.
func (b *Buffer[T]) DropFront(n int) int {
	if n > b.n {
		n = b.n
	}
	var zero T
	for i := 0; i < n; i++ {
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
	}
	b.n -= n
	if b.n == 0 {
		b.head = 0
	}
	return n
}

// At returns the i-th oldest value. It panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.n {
		panic("ring: index out of range")
	}
	return b.items[b.index(i)]
}

// Back returns a pointer to the newest value, or nil when empty. The pointer
// is valid until the next Push or DropFront.
func (b *Buffer[T]) Back() *T {
	if b.n == 0 {
		return nil
	}
	return &b.items[b.index(b.n-1)]
}

// Clear removes every value.
func (b *Buffer[T]) Clear() {
	b.DropFront(b.n)
}

// All yields every value, oldest first.
func (b *Buffer[T]) All() iter.Seq[T] {
	return b.From(0)
}

// From yields the values from the i-th oldest onward. The sequence reads the
// buffer lazily, so it reflects the buffer's state at iteration time.
func (b *Buffer[T]) From(i int) iter.Seq[T] {
	return func(yield func(T) bool) {
		for j := max(i, 0); j < b.n; j++ {
			if !yield(b.items[b.index(j)]) {
				return
			}
		}
	}
}

// Slice copies the values into a new slice, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, 0, b.n)
	for v := range b.All() {
		out = append(out, v)
	}
	return out
}
