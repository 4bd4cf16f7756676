// Package timerwheel implements the monotonic, millisecond-granularity
// scheduled-callback primitive driven once per service-loop tick.
//
// The contract (spec §4.B) leaves the implementation free to choose a hashed
// wheel or a heap; this is a heap keyed by (due, insertion-sequence), which
// gives Tick the required "fired in non-decreasing due-time order, ties
// broken by insertion order" behavior in O(k log n) for k fired entries
// (one heap pop per fired entry), not O(k + log n).
package timerwheel

import (
	"container/heap"
	"sync"
)

// TimerID identifies a scheduled callback for Cancel.
type TimerID uint64

// Callback is invoked on the owning service's loop goroutine with the tick's
// current time. Returning reschedule=false removes a periodic timer; it is
// ignored for one-shot timers (period==0).
type Callback func(nowMs int64) (reschedule bool)

type timerItem struct {
	id       TimerID
	due      int64
	period   int64
	seq      uint64
	cb       Callback
	canceled bool
	index    int
}

type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	it := x.(*timerItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Wheel holds every scheduled callback for one service.
type Wheel struct {
	mu      sync.Mutex
	heap    timerHeap
	byID    map[TimerID]*timerItem
	nextID  TimerID
	seq     uint64
	onPanic func(id TimerID, recovered any)
}

// New constructs an empty wheel. onPanic, if non-nil, is invoked (off the
// heap lock) whenever a callback panics; the panic never reaches Tick's
// caller, matching "timer callback failures are logged and do not abort the
// loop."
func New(onPanic func(id TimerID, recovered any)) *Wheel {
	return &Wheel{
		byID:    make(map[TimerID]*timerItem),
		onPanic: onPanic,
	}
}

// Schedule arms a callback due at nowMs+delayMs. periodMs==0 means one-shot.
func (w *Wheel) Schedule(nowMs, delayMs, periodMs int64, cb Callback) TimerID {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	w.seq++
	it := &timerItem{
		id:     w.nextID,
		due:    nowMs + delayMs,
		period: periodMs,
		seq:    w.seq,
		cb:     cb,
	}
	w.byID[it.id] = it
	heap.Push(&w.heap, it)
	return it.id
}

// Cancel removes a timer. It is safe to call from within the timer's own
// callback (cancel-during-fire): the item has already been popped off the
// heap by Tick by the time the callback runs, so Cancel here only needs to
// mark it so Tick doesn't re-arm it afterwards.
func (w *Wheel) Cancel(id TimerID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	it, ok := w.byID[id]
	if !ok {
		return false
	}
	it.canceled = true
	if it.index >= 0 && it.index < len(w.heap) && w.heap[it.index] == it {
		heap.Remove(&w.heap, it.index)
	}
	delete(w.byID, id)
	return true
}

// Tick fires every timer due at or before nowMs, in non-decreasing due-time
// order (ties broken by insertion order), and returns how many fired.
func (w *Wheel) Tick(nowMs int64) int {
	w.mu.Lock()
	var due []*timerItem
	for w.heap.Len() > 0 && w.heap[0].due <= nowMs {
		it := heap.Pop(&w.heap).(*timerItem)
		due = append(due, it)
	}
	w.mu.Unlock()

	fired := 0
	for _, it := range due {
		w.mu.Lock()
		canceled := it.canceled
		w.mu.Unlock()
		if canceled {
			continue
		}
		fired++

		reschedule := w.invoke(it, nowMs)

		w.mu.Lock()
		// The callback may have canceled itself; byID won't have the entry
		// anymore (or it was already marked canceled) in that case.
		if cur, ok := w.byID[it.id]; ok && cur == it && !it.canceled {
			if it.period > 0 && reschedule {
				it.due = nowMs + it.period
				heap.Push(&w.heap, it)
			} else {
				delete(w.byID, it.id)
			}
		}
		w.mu.Unlock()
	}
	return fired
}

func (w *Wheel) invoke(it *timerItem, nowMs int64) (reschedule bool) {
	reschedule = it.period > 0 // panics keep a periodic timer alive by default
	defer func() {
		if r := recover(); r != nil {
			if w.onPanic != nil {
				w.onPanic(it.id, r)
			}
		}
	}()
	reschedule = it.cb(nowMs)
	return reschedule
}

// NextDueMs reports the due time of the soonest pending timer and true, or
// (0, false) if none are scheduled. The service loop uses this to compute
// its poll timeout (spec §4.G step 3: "min(remainingFrame, nextTimerDue)").
func (w *Wheel) NextDueMs() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.heap.Len() == 0 {
		return 0, false
	}
	return w.heap[0].due, true
}

// Len reports the number of live (non-canceled, pending) timers.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID)
}
