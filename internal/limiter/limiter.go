package limiter

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the number of slots used by the scanner unless
// configured otherwise.
const DefaultCapacity = 512

// Limiter is a counting admission gate with a fixed number of slots.
// It is safe for concurrent use.
type Limiter struct {
	// slots holds one flag per slot; true means occupied.
	slots []atomic.Bool

	// mu guards waiters.
	mu sync.Mutex

	// waiters is the FIFO queue of parked callers. Each element is a
	// channel closed to wake that caller.
	waiters list.List

	// observeWait, if set, receives the time each Acquire spent before
	// obtaining its ticket.
	observeWait func(time.Duration)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWaitObserver registers fn to be called with the waiting time of every
// successful Acquire.
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) {
		l.observeWait = fn
	}
}

// New creates a Limiter with the given number of slots.
// It panics if capacity is not positive.
func New(capacity int, opts ...Option) *Limiter {
	if capacity <= 0 {
		panic("limiter: capacity must be positive")
	}
	l := &Limiter{
		slots: make([]atomic.Bool, capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity returns the number of slots.
func (l *Limiter) Capacity() int {
	return len(l.slots)
}

// InUse returns the number of occupied slots at the time of the call.
func (l *Limiter) InUse() int {
	n := 0
	for i := range l.slots {
		if l.slots[i].Load() {
			n++
		}
	}
	return n
}

// Waiting returns the number of parked callers.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Acquire claims a slot, parking the caller until one is released if the
// limiter is full. It returns ctx.Err() if ctx is done before a slot is
// obtained; in that case no slot is held.
func (l *Limiter) Acquire(ctx context.Context) (*Ticket, error) {
	start := time.Now()
	for {
		if slot, ok := l.claim(); ok {
			return l.issue(slot, start), nil
		}

		l.mu.Lock()
		// A release between the scan above and taking the lock would have
		// found no waiter to wake, so look once more before parking.
		if slot, ok := l.claim(); ok {
			l.mu.Unlock()
			return l.issue(slot, start), nil
		}
		wake := make(chan struct{})
		elem := l.waiters.PushBack(wake)
		l.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			l.mu.Lock()
			select {
			case <-wake:
				// Woken concurrently with cancellation: pass the wakeup on.
				l.wakeOneLocked()
			default:
				l.waiters.Remove(elem)
			}
			l.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (l *Limiter) issue(slot int, start time.Time) *Ticket {
	if l.observeWait != nil {
		l.observeWait(time.Since(start))
	}
	return &Ticket{limiter: l, slot: slot}
}

// claim scans the slots and takes the first free one.
func (l *Limiter) claim() (int, bool) {
	for i := range l.slots {
		if l.slots[i].CompareAndSwap(false, true) {
			return i, true
		}
	}
	return -1, false
}

func (l *Limiter) release(slot int) {
	if !l.slots[slot].Swap(false) {
		panic("limiter: release of a slot that is not occupied")
	}
	l.mu.Lock()
	l.wakeOneLocked()
	l.mu.Unlock()
}

// wakeOneLocked wakes the longest-waiting caller. l.mu must be held.
func (l *Limiter) wakeOneLocked() {
	front := l.waiters.Front()
	if front == nil {
		return
	}
	l.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}

// Ticket is the ownership token for one occupied slot.
// Release must be called exactly once.
type Ticket struct {
	limiter  *Limiter
	slot     int
	released atomic.Bool
}

// Slot returns the index of the slot held by the ticket.
func (t *Ticket) Slot() int {
	return t.slot
}

// Release returns the slot to the limiter and wakes one parked caller.
// It panics if the ticket has already been released.
func (t *Ticket) Release() {
	if t.released.Swap(true) {
		panic("limiter: ticket released twice")
	}
	t.limiter.release(t.slot)
}
