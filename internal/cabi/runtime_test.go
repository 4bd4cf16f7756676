package cabi

import (
	"testing"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/manager"
)

type stubComponent struct {
	name    string
	updates []int64
}

func (c *stubComponent) Name() string        { return c.name }
func (c *stubComponent) OnInit() error       { return nil }
func (c *stubComponent) OnStart() error      { return nil }
func (c *stubComponent) OnUpdate(dtMs int64) { c.updates = append(c.updates, dtMs) }
func (c *stubComponent) OnStop() error       { return nil }
func (c *stubComponent) OnDestroy()          {}

func newTestRuntime() *Runtime {
	return NewRuntime(manager.New(), nil)
}

func TestAttachDetachThreadIsolatesLastError(t *testing.T) {
	rt := newTestRuntime()
	ctxA := rt.AttachThread()
	ctxB := rt.AttachThread()

	rt.serviceFor(ctxA, 999) // unknown handle: sets an error on ctxA only

	if rt.LastErrorKind(ctxA) != corerr.KindNotFound {
		t.Fatalf("ctxA want KindNotFound, got %v", rt.LastErrorKind(ctxA))
	}
	if rt.LastErrorKind(ctxB) != corerr.KindUnspecified {
		t.Fatalf("ctxB must be unaffected, got %v", rt.LastErrorKind(ctxB))
	}

	rt.DetachThread(ctxA)
	if rt.LastErrorKind(ctxA) != corerr.KindUnspecified {
		t.Fatal("detached ctx must report KindUnspecified")
	}
}

func TestCreateServiceThenRegisterComponentThenStart(t *testing.T) {
	rt := newTestRuntime()
	ctx := rt.AttachThread()

	h, ok := rt.CreateService(ctx, "svc-a", 1000)
	if !ok || h == 0 {
		t.Fatalf("CreateService failed: %v", rt.LastErrorMessage(ctx))
	}

	comp := &stubComponent{name: "widget"}
	if !rt.RegisterComponent(ctx, h, comp) {
		t.Fatalf("RegisterComponent failed: %v", rt.LastErrorMessage(ctx))
	}

	if !rt.StartService(ctx, h) {
		t.Fatalf("StartService failed: %v", rt.LastErrorMessage(ctx))
	}

	svc, ok := rt.serviceFor(ctx, h)
	if !ok {
		t.Fatal("service handle must still resolve after start")
	}
	if svc.Registry.Len() != 1 {
		t.Fatalf("want 1 registered component, got %d", svc.Registry.Len())
	}

	// Registering after Start (registry frozen) must fail with KindState.
	if rt.RegisterComponent(ctx, h, &stubComponent{name: "late"}) {
		t.Fatal("RegisterComponent after Start must fail")
	}
	if rt.LastErrorKind(ctx) != corerr.KindState {
		t.Fatalf("want KindState, got %v", rt.LastErrorKind(ctx))
	}
}

func TestCreateServiceRejectsEmptyName(t *testing.T) {
	rt := newTestRuntime()
	ctx := rt.AttachThread()
	if _, ok := rt.CreateService(ctx, "", 30); ok {
		t.Fatal("empty name must be rejected")
	}
	if rt.LastErrorKind(ctx) != corerr.KindArg {
		t.Fatalf("want KindArg, got %v", rt.LastErrorKind(ctx))
	}
}

func TestServiceForUnknownHandleFailsWithNotFound(t *testing.T) {
	rt := newTestRuntime()
	ctx := rt.AttachThread()
	if rt.StartService(ctx, 12345) {
		t.Fatal("unknown handle must fail")
	}
	if rt.LastErrorKind(ctx) != corerr.KindNotFound {
		t.Fatalf("want KindNotFound, got %v", rt.LastErrorKind(ctx))
	}
}

func TestAppHandleIsStableAcrossCalls(t *testing.T) {
	rt := newTestRuntime()
	ctx := rt.AttachThread()
	if rt.AppHandle() != rt.AppHandle() {
		t.Fatal("AppHandle must be a fixed value")
	}
	_ = ctx
}

func TestHandleTableFreeInvalidatesLookup(t *testing.T) {
	tbl := newHandleTable()
	h := tbl.alloc("hello")
	if v, ok := tbl.get(h); !ok || v != "hello" {
		t.Fatal("alloc'd handle must resolve")
	}
	tbl.free(h)
	if _, ok := tbl.get(h); ok {
		t.Fatal("freed handle must not resolve")
	}
	if _, ok := tbl.get(0); ok {
		t.Fatal("handle 0 is reserved and must never resolve")
	}
}
