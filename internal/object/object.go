// Package object implements the intrusive reference-counted base type and
// the per-loop auto-release pool stack described by the runtime's object
// lifetime substrate.
//
// There is no OS-thread-local storage here: per the design notes, the pool
// stack is modeled as an explicit value owned by whatever goroutine drives
// it (a Service's loop goroutine, or a worker goroutine that was handed one
// explicitly), not implicit TLS. Nothing in this package ever creates a pool
// on a caller's behalf.
package object

import (
	"sync"
	"sync/atomic"

	"github.com/webitel/corehub/internal/corerr"
)

// Object is embedded by anything participating in auto-release pools.
type Object struct {
	ref       int64
	autoRef   int64
	poolStack *PoolStack
	onZero    func()
}

// Init sets the owning-refcount to 1 and installs an optional destruction
// callback invoked the instant the refcount reaches zero. It must be called
// exactly once, at construction.
func (o *Object) Init(onZero func()) {
	atomic.StoreInt64(&o.ref, 1)
	o.onZero = onZero
}

// Ref returns the current owning refcount.
func (o *Object) Ref() int64 { return atomic.LoadInt64(&o.ref) }

// AutoRef returns the current pool-enlistment count.
func (o *Object) AutoRef() int64 { return atomic.LoadInt64(&o.autoRef) }

// Retain increments the owning refcount. Calling Retain on an object whose
// ref has already reached zero is a programmer error; per spec §9 this is
// asserted only in debug builds (see retain_debug.go / retain_release.go)
// and is otherwise undefined.
func (o *Object) Retain() int64 {
	assertNotDead(o)
	return atomic.AddInt64(&o.ref, 1)
}

// Release decrements the owning refcount, firing onZero exactly once when
// it reaches zero. Safe to call from any goroutine.
func (o *Object) Release() int64 {
	n := atomic.AddInt64(&o.ref, -1)
	if n == 0 && o.onZero != nil {
		o.onZero()
	}
	return n
}

// SafeRetain/SafeRelease are semantically identical to Retain/Release (both
// already use atomic add/sub with the ordering the runtime needs); they
// exist purely to mark call sites that cross goroutine boundaries, matching
// the source's cross-thread naming convention.
func (o *Object) SafeRetain() int64  { return o.Retain() }
func (o *Object) SafeRelease() int64 { return o.Release() }

// AutoRelease enlists o in the top frame of stack, incrementing autoRef but
// never touching ref. It fails with KindState if stack has no active frame
// — the core never implicitly creates one.
func (o *Object) AutoRelease(stack *PoolStack) error {
	p := stack.top()
	if p == nil {
		return corerr.New(corerr.KindState, "no active auto-release pool")
	}
	atomic.AddInt64(&o.autoRef, 1)
	if o.poolStack == nil {
		o.poolStack = stack
	}
	p.enlist(o)
	return nil
}

// Pool is one LIFO stack frame of objects awaiting deferred release.
type Pool struct {
	mu      sync.Mutex
	entries []*Object
}

func (p *Pool) enlist(o *Object) {
	p.mu.Lock()
	p.entries = append(p.entries, o)
	p.mu.Unlock()
}

// Drain releases every enlisted object exactly once, in reverse insertion
// order, and empties the frame.
func (p *Pool) Drain() {
	p.mu.Lock()
	entries := p.entries
	p.entries = nil
	p.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		o := entries[i]
		atomic.AddInt64(&o.autoRef, -1)
		o.Release()
	}
}

// Len reports the number of objects currently enlisted, for diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// PoolStack is the explicit, goroutine-owned substitute for OS thread-local
// pool storage. A Service owns exactly one; worker goroutines that need one
// receive it explicitly from whoever spawned them.
type PoolStack struct {
	mu     sync.Mutex
	frames []*Pool
}

// Push opens a new nested frame and returns it.
func (s *PoolStack) Push() *Pool {
	p := &Pool{}
	s.mu.Lock()
	s.frames = append(s.frames, p)
	s.mu.Unlock()
	return p
}

// Pop closes the top frame, which must be p — pushes and pops nest strictly.
// It returns KindState if p is not the current top frame.
func (s *PoolStack) Pop(p *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.frames)
	if n == 0 || s.frames[n-1] != p {
		return corerr.New(corerr.KindState, "pool stack frames are not strictly nested")
	}
	s.frames = s.frames[:n-1]
	return nil
}

func (s *PoolStack) top() *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Top returns the current top frame, or nil if the stack is empty. Used by
// the service loop to drain "the thread's top auto-release pool frame"
// each tick (spec §4.G step 7).
func (s *PoolStack) Top() *Pool { return s.top() }

// Depth reports the current nesting depth, for diagnostics/tests.
func (s *PoolStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
