// Package debounce coalesces bursts of calls into one trailing call and
// cancels work started for inputs that have since been superseded.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Func receives the latest value of a burst and a sequence number that
// increases with every Trigger. ctx is cancelled when a newer value arrives
// or the debouncer is stopped.
type Func[T any] func(ctx context.Context, seq uint64, value T)

// Debouncer delays fn until wait has elapsed without another Trigger.
type Debouncer[T any] struct {
	wait time.Duration
	fn   Func[T]

	mu       sync.Mutex
	parent   context.Context
	timer    *time.Timer
	seq      uint64
	cancelFn context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// New returns a debouncer bound to parent; cancelling parent stops it.
func New[T any](parent context.Context, wait time.Duration, fn Func[T]) *Debouncer[T] {
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &Debouncer[T]{wait: wait, fn: fn, parent: parent}
}

// Trigger records value as the newest input and restarts the quiet period.
// Any in-flight fn for an older value is cancelled immediately.
func (d *Debouncer[T]) Trigger(value T) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return d.seq
	}
	d.seq++
	seq := d.seq
	if d.cancelFn != nil {
		d.cancelFn()
		d.cancelFn = nil
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(seq, value) })
	return seq
}

// Flush runs fn for value right away, skipping the quiet period. Used for
// pagination clicks, which should not wait.
func (d *Debouncer[T]) Flush(value T) uint64 {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return d.seq
	}
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire(seq, value)
	return seq
}

// Current reports the newest sequence number; results tagged with an older
// one are stale.
func (d *Debouncer[T]) Current() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

// Stop cancels pending and in-flight work and waits for fn to return.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.cancelFn != nil {
		d.cancelFn()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Debouncer[T]) fire(seq uint64, value T) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	if d.cancelFn != nil {
		d.cancelFn()
	}
	ctx, cancel := context.WithCancel(d.parent)
	d.cancelFn = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer cancel()
		d.fn(ctx, seq, value)
	}()
}
