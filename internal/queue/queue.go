// Package queue implements the MPSC envelope queue that is the only
// concurrent entry point into an otherwise single-threaded service loop.
package queue

import (
	"sync"
	"time"

	"github.com/webitel/corehub/internal/corerr"
)

// Envelope is an opaque unit of work handed from any producer goroutine
// (another service, a worker thread, a cross-process relay) into the
// owning service's loop. Tag disambiguates payload shape for the consumer;
// Payload carries the actual value (ownership transfers to the consumer).
type Envelope struct {
	Tag     string
	Payload any
}

// Queue is safe for concurrent Push from any number of producers; Drain*
// methods are intended to be called by a single consumer goroutine (the
// owning service's loop), though nothing panics if that discipline slips.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	closed bool
	notify chan struct{}
}

func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Push enqueues env. It never blocks and never fails except after Close.
func (q *Queue) Push(env Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return corerr.New(corerr.KindClosed, "queue closed")
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	q.wake()
	return nil
}

// DrainUpTo moves at most n pending envelopes into out, returning the count
// moved. It never blocks.
func (q *Queue) DrainUpTo(n int, out *[]Envelope) int {
	if n <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	k := n
	if k > len(q.items) {
		k = len(q.items)
	}
	if k == 0 {
		return 0
	}
	*out = append(*out, q.items[:k]...)
	q.items = q.items[k:]
	return k
}

// BlockingDrain is consumer-only: it waits up to timeoutMs (0 means wait
// forever) for at least one envelope, then drains everything currently
// pending. Closing the queue wakes a blocked waiter immediately.
func (q *Queue) BlockingDrain(timeoutMs int64, out *[]Envelope) int {
	q.mu.Lock()
	if len(q.items) > 0 || q.closed {
		n := len(q.items)
		*out = append(*out, q.items...)
		q.items = nil
		q.mu.Unlock()
		return n
	}
	q.mu.Unlock()

	var timerC <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-q.notify:
		case <-timerC:
			return 0
		}

		q.mu.Lock()
		if len(q.items) > 0 || q.closed {
			n := len(q.items)
			*out = append(*out, q.items...)
			q.items = nil
			q.mu.Unlock()
			return n
		}
		// A stale wakeup left by envelopes DrainUpTo already took: keep
		// waiting.
		q.mu.Unlock()
	}
}

// Close marks the queue as shut down: further Push calls fail, and any
// goroutine blocked in BlockingDrain wakes immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Len reports the number of currently pending envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
