// Package cabi implements the C-ABI façade of spec §6: opaque handles for
// Service, Component and Session, functions for service_create,
// service_register_component, service_send_packet, session_close,
// log_write and app_get, errors surfaced as a non-zero return plus a
// ctx-scoped get_last_error rather than a Go error value crossing the
// boundary.
//
// The actual cgo/export surface (cabi.go) is kept as thin as possible: a
// handle lookup and a type conversion, nothing more. All the logic that
// can be unit-tested in pure Go — the handle table, the per-context
// last-error store, and the service/component wiring — lives here instead,
// grounded on the same "keep the unsafe boundary thin, push logic into
// testable Go" discipline the teacher applies to its own adapter/transport
// boundary packages.
package cabi

import (
	"log/slog"
	"sync"

	"github.com/webitel/corehub/internal/component"
	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/manager"
	"github.com/webitel/corehub/internal/packet"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/service"
	"github.com/webitel/corehub/internal/session/codec"
	"github.com/webitel/corehub/internal/timerwheel"
)

// handleTable hands out dense, append-only uint64 handles (never raw Go
// pointers, so the C side never has to reason about the GC). Freed slots
// are zeroed rather than reused, since reusing a slot would let a stale
// C-side handle silently resolve to an unrelated later object.
type handleTable struct {
	mu    sync.Mutex
	items []any
}

func newHandleTable() *handleTable {
	// handle 0 is reserved to mean "invalid", so item index 0 is a sentinel.
	return &handleTable{items: []any{nil}}
}

func (t *handleTable) alloc(v any) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, v)
	return uint64(len(t.items) - 1)
}

func (t *handleTable) get(h uint64) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == 0 || h >= uint64(len(t.items)) {
		return nil, false
	}
	v := t.items[h]
	return v, v != nil
}

func (t *handleTable) free(h uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h != 0 && h < uint64(len(t.items)) {
		t.items[h] = nil
	}
}

// errorStore holds the last error per ctx_handle, standing in for the
// thread-local last-error slot spec §6 describes. Real OS thread-local
// storage isn't reachable from Go without cgo TLS tricks this package
// avoids (see DESIGN.md); instead every call site carries an explicit
// ctx_handle returned by core_thread_attach, scoping "last error" to
// whatever the caller chooses that to mean (one per OS thread is the
// expected usage, but nothing here assumes it).
type errorStore struct {
	mu    sync.Mutex
	byCtx map[uint64]*corerr.Error
}

func newErrorStore() *errorStore {
	return &errorStore{byCtx: make(map[uint64]*corerr.Error)}
}

func (s *errorStore) attach() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	// ctx handles are independent of the object handle table: they never
	// need to resolve to a Go value, only to index this map.
	h := uint64(len(s.byCtx)) + 1
	for {
		if _, taken := s.byCtx[h]; !taken {
			break
		}
		h++
	}
	s.byCtx[h] = nil
	return h
}

func (s *errorStore) detach(ctx uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCtx, ctx)
}

func (s *errorStore) set(ctx uint64, err *corerr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCtx[ctx] = err
}

func (s *errorStore) get(ctx uint64) *corerr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byCtx[ctx]
}

// Runtime is the process-wide façade state: one handle table for services,
// one for sessions-within-a-service is unnecessary (session ids are already
// opaque uint64s minted by the poller), and one error store per attached
// "thread" context. This is the single explicit instance the cgo exports
// dispatch through — the DESIGN NOTES' "global application singleton,
// modeled as an explicit context value with a single-owner invariant"
// applies here: cabi.go holds exactly one *Runtime in a package var, and
// every exported function takes the handles needed to reach it rather than
// reaching for ambient state itself.
type Runtime struct {
	mgr      *manager.Manager
	services *handleTable
	errs     *errorStore
	logger   *slog.Logger
}

func NewRuntime(mgr *manager.Manager, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		mgr:      mgr,
		services: newHandleTable(),
		errs:     newErrorStore(),
		logger:   logger,
	}
}

// AttachThread mints a new ctx_handle, mirroring core_thread_attach().
func (r *Runtime) AttachThread() uint64 { return r.errs.attach() }

// DetachThread releases a ctx_handle, mirroring core_thread_detach().
func (r *Runtime) DetachThread(ctx uint64) { r.errs.detach(ctx) }

// LastErrorKind mirrors get_last_error(): 0 (corerr.KindUnspecified) when
// the last call on ctx succeeded or ctx is unknown.
func (r *Runtime) LastErrorKind(ctx uint64) corerr.Kind {
	if e := r.errs.get(ctx); e != nil {
		return e.Kind
	}
	return corerr.KindUnspecified
}

// LastErrorMessage returns the human-readable message for the last error
// set on ctx, or "" if there is none.
func (r *Runtime) LastErrorMessage(ctx uint64) string {
	if e := r.errs.get(ctx); e != nil {
		return e.Error()
	}
	return ""
}

// fail records err against ctx and returns false, so call sites can write
// `if err != nil { return r.fail(ctx, err) }`.
func (r *Runtime) fail(ctx uint64, err *corerr.Error) bool {
	r.errs.set(ctx, err)
	return false
}

func (r *Runtime) ok(ctx uint64) bool {
	r.errs.set(ctx, nil)
	return true
}

// AppHandle returns the single fixed handle identifying this Runtime to
// the C side, mirroring app_get(). There is exactly one per process.
func (r *Runtime) AppHandle() uint64 { return 1 }

// CreateService builds a new, not-yet-started Service with default
// plumbing (an empty component registry, a timer wheel, an MPSC queue, a
// fresh dispatcher, no poller attached yet, and a length-prefix-only codec
// chain) and returns its handle. Components are registered against the
// handle via RegisterComponent before StartService freezes the registry.
func (r *Runtime) CreateService(ctx uint64, name string, fps int) (uint64, bool) {
	if name == "" {
		return 0, r.fail(ctx, corerr.New(corerr.KindArg, "service name must not be empty"))
	}
	cfg := service.Config{Name: name, FPS: fps}
	svc := service.New(cfg, component.NewRegistry(), timerwheel.New(nil), queue.New(),
		service.NewDispatcher(), nil, codec.NewChain(codec.LenPrefix{}), r.logger)
	h := r.services.alloc(svc)
	return h, r.ok(ctx)
}

func (r *Runtime) serviceFor(ctx uint64, h uint64) (*service.Service, bool) {
	v, ok := r.services.get(h)
	if !ok {
		r.fail(ctx, corerr.New(corerr.KindNotFound, "no such service handle"))
		return nil, false
	}
	return v.(*service.Service), true
}

// RegisterComponent registers comp against the service named by h. Must be
// called before StartService, which freezes the registry (spec §4.F).
func (r *Runtime) RegisterComponent(ctx uint64, h uint64, comp component.Component) bool {
	svc, ok := r.serviceFor(ctx, h)
	if !ok {
		return false
	}
	if err := svc.Registry.Register(comp); err != nil {
		return r.fail(ctx, err.(*corerr.Error))
	}
	return r.ok(ctx)
}

// StartService hands the service to the process-wide manager, which
// starts its lifecycle (OnInit, Freeze, OnStart) and makes it reachable
// by name/id for cross-service PostMessage.
func (r *Runtime) StartService(ctx uint64, h uint64) bool {
	svc, ok := r.serviceFor(ctx, h)
	if !ok {
		return false
	}
	if err := r.mgr.Create(svc); err != nil {
		return r.fail(ctx, err.(*corerr.Error))
	}
	return r.ok(ctx)
}

// SendPacket builds a Packet from its wire fields and queues it for
// delivery on sessionID via the service named by h.
func (r *Runtime) SendPacket(ctx uint64, h uint64, sessionID uint64, opcode uint32, serial uint64,
	status int32, flags uint16, payload []byte) bool {
	svc, ok := r.serviceFor(ctx, h)
	if !ok {
		return false
	}
	p := packet.Packet{
		Opcode:    opcode,
		Serial:    serial,
		Status:    status,
		Flags:     packet.Flags(flags),
		SessionID: sessionID,
		Payload:   payload,
	}
	if err := svc.SendPacket(sessionID, p); err != nil {
		ce, _ := err.(*corerr.Error)
		if ce == nil {
			ce = corerr.Wrap(corerr.KindInternal, "send packet", err)
		}
		return r.fail(ctx, ce)
	}
	return r.ok(ctx)
}

// CloseSession closes sessionID on the service named by h.
func (r *Runtime) CloseSession(ctx uint64, h uint64, sessionID uint64, reason string) bool {
	svc, ok := r.serviceFor(ctx, h)
	if !ok {
		return false
	}
	if err := svc.CloseSessionByID(sessionID, corerr.New(corerr.KindState, reason)); err != nil {
		return r.fail(ctx, err.(*corerr.Error))
	}
	return r.ok(ctx)
}

// Log writes one record through the Runtime's slog.Logger, mirroring
// log_write. level follows slog's own int ordering (Debug=-4, Info=0,
// Warn=4, Error=8) so C callers can pass slog levels directly.
func (r *Runtime) Log(level int, msg string) {
	r.logger.Log(nil, slog.Level(level), msg)
}
