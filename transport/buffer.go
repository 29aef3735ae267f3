// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"
)

// Buffer is a count-bounded FIFO queue. When a Push would exceed the
// capacity, the oldest entry is dropped to make room.
//
// The notify channel (capacity 1) signals a consumer goroutine that
// new data is available; the consumer selects on Notify() alongside
// context cancellation.
//
// Thread-safe: all methods may be called concurrently.
type Buffer[T any] struct {
	mu       sync.Mutex
	entries  []T
	capacity int
	dropped  uint64
	notify   chan struct{}
}

// NewBuffer creates a Buffer holding at most capacity entries. The
// capacity must be positive.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: capacity must be positive, got %d", capacity))
	}
	return &Buffer[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends value, dropping the oldest entry when full. It reports
// whether an entry was dropped.
func (b *Buffer[T]) Push(value T) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		var zero T
		b.entries[0] = zero // release for GC
		b.entries = b.entries[1:]
		b.dropped++
		dropped = true
	}
	b.entries = append(b.entries, value)

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Peek returns the oldest entry without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		var zero T
		return zero, false
	}
	return b.entries[0], true
}

// Pop removes and returns the oldest entry.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if len(b.entries) == 0 {
		return zero, false
	}
	value := b.entries[0]
	b.entries[0] = zero
	b.entries = b.entries[1:]
	return value, true
}

// Len returns the number of entries in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Full reports whether the next Push will drop the oldest entry.
func (b *Buffer[T]) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) >= b.capacity
}

// Dropped returns the number of entries dropped on overflow since
// creation.
func (b *Buffer[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Notify returns a channel that receives a signal (at most one
// pending) when an entry is pushed.
func (b *Buffer[T]) Notify() <-chan struct{} {
	return b.notify
}
