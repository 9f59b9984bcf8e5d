package subscriber

import "sync/atomic"

// RingChannel is a bounded channel with overwrite-oldest semantics.
// Producers never block: when the buffer is full the oldest element is
// discarded to make room.
//
//	rc := NewRingChannel[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	for v := range rc.C() { ... } // 7, 8, 9
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if needed.
// Reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}

		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Overwritten returns how many elements were discarded so far.
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}

// Close closes the underlying channel. Send panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
