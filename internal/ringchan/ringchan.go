// Package ringchan provides a bounded channel that never blocks producers.
package ringchan

import "sync/atomic"

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded to make room. Consumers read from C() like a normal channel or
// use Receive to have the read counted in Metrics.
//
//	r := ringchan.New[string](3)
//	for i := 0; i < 10; i++ {
//	    r.ForceSend(fmt.Sprint(i))
//	}
//	r.Close()
//	for v := range r.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type Ring[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
	processed   atomic.Int64
}

// New creates a Ring with the given capacity. Panics when capacity <= 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Reads through C are not counted as processed.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// ForceSend inserts v, discarding the oldest buffered elements as needed.
// It never blocks, even with several concurrent producers. Reports whether
// anything was discarded.
func (r *Ring[T]) ForceSend(v T) bool {
	dropped := false
	for {
		select {
		case r.ch <- v:
			r.written.Add(1)
			return dropped
		default:
		}

		select {
		case <-r.ch:
			r.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Receive blocks until a value is available or the ring is closed.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	if ok {
		r.processed.Add(1)
	}
	return
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the underlying channel. Sending afterwards panics.
func (r *Ring[T]) Close() {
	close(r.ch)
}

// Metrics is a point-in-time snapshot of ring counters.
type Metrics struct {
	Written     int64
	Overwritten int64
	Processed   int64
}

// Metrics returns the current counters.
func (r *Ring[T]) Metrics() Metrics {
	return Metrics{
		Written:     r.written.Load(),
		Overwritten: r.overwritten.Load(),
		Processed:   r.processed.Load(),
	}
}
