package cabi

/*
#include <stdint.h>
#include <stdlib.h>

typedef int  (*cabi_on_init_fn)(void *userdata);
typedef int  (*cabi_on_start_fn)(void *userdata);
typedef void (*cabi_on_update_fn)(void *userdata, int64_t dt_ms);
typedef int  (*cabi_on_stop_fn)(void *userdata);
typedef void (*cabi_on_destroy_fn)(void *userdata);

// cgo cannot call a C function pointer value directly from Go, so each
// callback kind gets a tiny C trampoline that does the call on the C side.
static int cabi_call_on_init(cabi_on_init_fn fn, void *userdata) {
	return fn(userdata);
}
static int cabi_call_on_start(cabi_on_start_fn fn, void *userdata) {
	return fn(userdata);
}
static void cabi_call_on_update(cabi_on_update_fn fn, void *userdata, int64_t dt_ms) {
	fn(userdata, dt_ms);
}
static int cabi_call_on_stop(cabi_on_stop_fn fn, void *userdata) {
	return fn(userdata);
}
static void cabi_call_on_destroy(cabi_on_destroy_fn fn, void *userdata) {
	fn(userdata);
}
*/
import "C"

import (
	"log/slog"
	"unsafe"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/manager"
)

// defaultRuntime is the one process-wide Runtime every exported function
// dispatches through. app_get returns its fixed handle rather than letting
// C code reach for a global by any other means.
var defaultRuntime = NewRuntime(manager.New(), slog.Default())

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

//export core_thread_attach
func core_thread_attach() C.uint64_t {
	return C.uint64_t(defaultRuntime.AttachThread())
}

//export core_thread_detach
func core_thread_detach(ctxHandle C.uint64_t) {
	defaultRuntime.DetachThread(uint64(ctxHandle))
}

//export get_last_error
func get_last_error(ctxHandle C.uint64_t) C.int {
	return C.int(defaultRuntime.LastErrorKind(uint64(ctxHandle)))
}

//export get_last_error_message
func get_last_error_message(ctxHandle C.uint64_t) *C.char {
	return C.CString(defaultRuntime.LastErrorMessage(uint64(ctxHandle)))
}

//export cabi_free_string
func cabi_free_string(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export app_get
func app_get(ctxHandle C.uint64_t) C.uint64_t {
	return C.uint64_t(defaultRuntime.AppHandle())
}

//export log_write
func log_write(ctxHandle C.uint64_t, level C.int, msg *C.char) {
	defaultRuntime.Log(int(level), goString(msg))
}

//export service_create
func service_create(ctxHandle C.uint64_t, name *C.char, fps C.int) C.uint64_t {
	h, _ := defaultRuntime.CreateService(uint64(ctxHandle), goString(name), int(fps))
	return C.uint64_t(h)
}

//export service_start
func service_start(ctxHandle C.uint64_t, svcHandle C.uint64_t) C.int {
	if defaultRuntime.StartService(uint64(ctxHandle), uint64(svcHandle)) {
		return 0
	}
	return 1
}

//export service_register_component
func service_register_component(ctxHandle C.uint64_t, svcHandle C.uint64_t, name *C.char,
	onInit C.cabi_on_init_fn, onStart C.cabi_on_start_fn, onUpdate C.cabi_on_update_fn,
	onStop C.cabi_on_stop_fn, onDestroy C.cabi_on_destroy_fn, userdata unsafe.Pointer) C.int {

	comp := &cComponent{
		name:      goString(name),
		onInit:    onInit,
		onStart:   onStart,
		onUpdate:  onUpdate,
		onStop:    onStop,
		onDestroy: onDestroy,
		userdata:  userdata,
	}
	if defaultRuntime.RegisterComponent(uint64(ctxHandle), uint64(svcHandle), comp) {
		return 0
	}
	return 1
}

//export service_send_packet
func service_send_packet(ctxHandle C.uint64_t, svcHandle C.uint64_t, sessionID C.uint64_t,
	opcode C.uint32_t, serial C.uint64_t, status C.int32_t, flags C.uint16_t,
	payload *C.uint8_t, payloadLen C.int) C.int {

	var body []byte
	if payloadLen > 0 {
		body = C.GoBytes(unsafe.Pointer(payload), payloadLen)
	}
	ok := defaultRuntime.SendPacket(uint64(ctxHandle), uint64(svcHandle), uint64(sessionID),
		uint32(opcode), uint64(serial), int32(status), uint16(flags), body)
	if ok {
		return 0
	}
	return 1
}

//export session_close
func session_close(ctxHandle C.uint64_t, svcHandle C.uint64_t, sessionID C.uint64_t, reason *C.char) C.int {
	if defaultRuntime.CloseSession(uint64(ctxHandle), uint64(svcHandle), uint64(sessionID), goString(reason)) {
		return 0
	}
	return 1
}

// cComponent adapts a set of C callback pointers to the component.Component
// interface, so C-side components drop into the same Registry as any
// Go-native one. A nil callback is treated as a no-op (zero value / success),
// matching the teacher's own tolerance for optional hooks elsewhere.
type cComponent struct {
	name      string
	onInit    C.cabi_on_init_fn
	onStart   C.cabi_on_start_fn
	onUpdate  C.cabi_on_update_fn
	onStop    C.cabi_on_stop_fn
	onDestroy C.cabi_on_destroy_fn
	userdata  unsafe.Pointer
}

func (c *cComponent) Name() string { return c.name }

func (c *cComponent) OnInit() error {
	if c.onInit == nil {
		return nil
	}
	if rc := C.cabi_call_on_init(c.onInit, c.userdata); rc != 0 {
		return corerr.New(corerr.KindInternal, "component OnInit failed")
	}
	return nil
}

func (c *cComponent) OnStart() error {
	if c.onStart == nil {
		return nil
	}
	if rc := C.cabi_call_on_start(c.onStart, c.userdata); rc != 0 {
		return corerr.New(corerr.KindInternal, "component OnStart failed")
	}
	return nil
}

func (c *cComponent) OnUpdate(dtMs int64) {
	if c.onUpdate == nil {
		return
	}
	C.cabi_call_on_update(c.onUpdate, c.userdata, C.int64_t(dtMs))
}

func (c *cComponent) OnStop() error {
	if c.onStop == nil {
		return nil
	}
	if rc := C.cabi_call_on_stop(c.onStop, c.userdata); rc != 0 {
		return corerr.New(corerr.KindInternal, "component OnStop failed")
	}
	return nil
}

func (c *cComponent) OnDestroy() {
	if c.onDestroy == nil {
		return
	}
	C.cabi_call_on_destroy(c.onDestroy, c.userdata)
}
