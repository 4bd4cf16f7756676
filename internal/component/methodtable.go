package component

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/variant"
)

// promoteThreshold is the "linear scan up to a threshold, then map" cutover
// point of spec §4.F ("≈30 entries").
const promoteThreshold = 30

const hotCacheSize = 64

type methodEntry struct {
	name string
	fn   Invocable
}

// MethodTable is append-only, matching Registry's own append-only-then-
// frozen discipline. Below promoteThreshold entries it's a linear scan
// (the common small-N case the spec calls out); above it, a map. An LRU
// cache sits in front of both representations so the 30-vs-31 cutover is
// never observable from CallMethod's behavior, only from its big-O shape.
type MethodTable struct {
	mu      sync.RWMutex
	entries []methodEntry
	index   map[string]Invocable
	cache   *lru.Cache[string, Invocable]
}

func NewMethodTable() *MethodTable {
	c, _ := lru.New[string, Invocable](hotCacheSize)
	return &MethodTable{cache: c}
}

// Register adds a method. Re-registering the same name replaces it and
// invalidates any cached lookup for that name.
func (t *MethodTable) Register(name string, fn Invocable) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.name == name {
			t.entries[i].fn = fn
			if t.index != nil {
				t.index[name] = fn
			}
			t.cache.Remove(name)
			return
		}
	}

	t.entries = append(t.entries, methodEntry{name: name, fn: fn})
	if t.index != nil {
		t.index[name] = fn
	} else if len(t.entries) > promoteThreshold {
		t.promote()
	}
	t.cache.Remove(name)
}

// promote builds the map index once the table crosses promoteThreshold.
// Caller holds t.mu.
func (t *MethodTable) promote() {
	idx := make(map[string]Invocable, len(t.entries))
	for _, e := range t.entries {
		idx[e.name] = e.fn
	}
	t.index = idx
}

// Lookup finds a method by name, trying the hot cache first.
func (t *MethodTable) Lookup(name string) (Invocable, bool) {
	if fn, ok := t.cache.Get(name); ok {
		return fn, true
	}

	t.mu.RLock()
	var (
		fn Invocable
		ok bool
	)
	if t.index != nil {
		fn, ok = t.index[name]
	} else {
		for _, e := range t.entries {
			if e.name == name {
				fn, ok = e.fn, true
				break
			}
		}
	}
	t.mu.RUnlock()

	if ok {
		t.cache.Add(name, fn)
	}
	return fn, ok
}

func (t *MethodTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// CallMethod resolves compName via the registry, methodName via that
// component's MethodTable, and invokes it. Failure modes per spec §4.F:
// component not found, method not found, handler returned non-zero status.
// The first two are returned as *corerr.Error; a non-zero status is
// returned alongside a nil error, since it is the handler's own reported
// outcome rather than a dispatch failure.
func (r *Registry) CallMethod(compName, methodName string, arg variant.Variant) (variant.Variant, int32, error) {
	c, ok := r.Get(compName)
	if !ok {
		return variant.Null(), 0, corerr.New(corerr.KindNotFound, "component not found: "+compName)
	}
	mp, ok := c.(MethodProvider)
	if !ok {
		return variant.Null(), 0, corerr.New(corerr.KindNotFound, "component exposes no methods: "+compName)
	}
	fn, ok := mp.Methods().Lookup(methodName)
	if !ok {
		return variant.Null(), 0, corerr.New(corerr.KindNotFound, "method not found: "+compName+"."+methodName)
	}
	return fn(arg)
}
