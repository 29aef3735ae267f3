// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package session

// ring is a fixed-capacity circular buffer of values. New pushes
// overwrite the oldest value once the ring is full. It is not safe for
// concurrent use; the Collector's mutex guards every ring it owns.
type ring[T any] struct {
	data []T
	// writePosition is the slot the next push fills (0 to capacity-1).
	writePosition int
	// totalWritten counts every value ever pushed. The ring holds the
	// last min(totalWritten, capacity) of them.
	totalWritten uint64
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		panic("session: ring capacity must be positive")
	}
	return &ring[T]{data: make([]T, capacity)}
}

// push appends value. When the ring was full, it returns the value that
// was overwritten and true.
func (r *ring[T]) push(value T) (evicted T, ok bool) {
	if r.totalWritten >= uint64(len(r.data)) {
		evicted, ok = r.data[r.writePosition], true
	}
	r.data[r.writePosition] = value
	r.writePosition = (r.writePosition + 1) % len(r.data)
	r.totalWritten++
	return evicted, ok
}

func (r *ring[T]) len() int {
	if r.totalWritten < uint64(len(r.data)) {
		return int(r.totalWritten)
	}
	return len(r.data)
}

// each calls visit for every stored value, oldest first.
func (r *ring[T]) each(visit func(T)) {
	stored := r.len()
	start := (r.writePosition - stored + len(r.data)) % len(r.data)
	for i := range stored {
		visit(r.data[(start+i)%len(r.data)])
	}
}

// values returns the stored values, oldest first.
func (r *ring[T]) values() []T {
	result := make([]T, 0, r.len())
	r.each(func(value T) { result = append(result, value) })
	return result
}

// reset empties the ring, keeping its capacity.
func (r *ring[T]) reset() {
	clear(r.data)
	r.writePosition = 0
	r.totalWritten = 0
}
