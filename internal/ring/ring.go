// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ring implements the bounded, blocking single-producer
// single-consumer chunk queue between acquisition and the windowing consumer.
package ring

import (
	"errors"
	"sync"

	"github.com/relabs-tech/bci_runtime/internal/eeg"
)

var (
	// ErrClosed is returned by Push and Pop after Close (Pop only once the
	// remaining items have been drained).
	ErrClosed = errors.New("ring: closed")
	// ErrEmpty is returned by TryPop when no item is present.
	ErrEmpty = errors.New("ring: empty")
)

// Ring is a fixed-capacity FIFO of chunks. Push blocks while full, Pop
// blocks while empty. Close releases every waiter on both ends; items
// pushed before Close remain drainable.
//
// Exactly one goroutine pushes and exactly one pops.
type Ring struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf      []eeg.Chunk
	capacity int
	head     int // next pop
	tail     int // next push
	count    int
	closed   bool
}

// New creates a ring with the given capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring{
		buf:      make([]eeg.Chunk, capacity),
		capacity: capacity,
	}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	return r
}

// Push enqueues one chunk, blocking until a slot frees up. Returns ErrClosed
// if the ring is or becomes closed while waiting.
func (r *Ring) Push(c eeg.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == r.capacity && !r.closed {
		r.notFull.Wait()
	}
	if r.closed {
		return ErrClosed
	}

	r.buf[r.tail] = c
	r.tail = (r.tail + 1) % r.capacity
	r.count++
	r.notEmpty.Signal()
	return nil
}

// Pop dequeues one chunk, blocking until an item is available. After Close,
// Pop keeps returning buffered items until the ring is drained, then
// ErrClosed.
func (r *Ring) Pop() (eeg.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if r.count == 0 {
		// closed and drained
		return eeg.Chunk{}, ErrClosed
	}
	return r.popLocked(), nil
}

// TryPop dequeues one chunk without blocking.
func (r *Ring) TryPop() (eeg.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		if r.closed {
			return eeg.Chunk{}, ErrClosed
		}
		return eeg.Chunk{}, ErrEmpty
	}
	return r.popLocked(), nil
}

// Drain removes and returns every currently-buffered chunk without blocking.
func (r *Ring) Drain() []eeg.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]eeg.Chunk, 0, r.count)
	for r.count > 0 {
		out = append(out, r.popLocked())
	}
	return out
}

func (r *Ring) popLocked() eeg.Chunk {
	c := r.buf[r.head]
	r.buf[r.head] = eeg.Chunk{} // drop the reference so the data can be collected
	r.head = (r.head + 1) % r.capacity
	r.count--
	r.notFull.Signal()
	return c
}

// Close marks the ring terminal and wakes every blocked producer and
// consumer. Idempotent.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// Count returns the number of buffered chunks.
func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
