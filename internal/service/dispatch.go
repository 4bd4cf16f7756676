package service

import (
	"github.com/webitel/corehub/internal/packet"
	"github.com/webitel/corehub/internal/session"
)

// DispatchResult is a handler's outcome for one inbound packet, per spec
// §4.G.
type DispatchResult int8

const (
	DispatchHandled DispatchResult = iota
	DispatchUnhandled
	DispatchCloseSession
	DispatchError
)

// DispatchContext carries everything a Handler/PreFilter/PostFilter needs.
// A handler sets Reply to enqueue a response; it is only sent if the
// inbound packet carried the expect-reply flag (spec §4.G).
type DispatchContext struct {
	Service *Service
	Session *session.Session
	Packet  packet.Packet
	Reply   *packet.Packet
}

// Handler processes one packet for a registered opcode.
type Handler func(ctx *DispatchContext) DispatchResult

// PreFilter runs before the handler; returning false short-circuits the
// handler (post-filters still run), per spec §4.G.
type PreFilter func(ctx *DispatchContext) bool

// PostFilter always runs after dispatch, whatever the outcome.
type PostFilter func(ctx *DispatchContext, result DispatchResult)

// Dispatcher is an O(1) opcode-to-handler table plus pre/post filter
// chains.
type Dispatcher struct {
	handlers map[uint32]Handler
	pre      []PreFilter
	post     []PostFilter
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint32]Handler)}
}

func (d *Dispatcher) Handle(opcode uint32, h Handler) { d.handlers[opcode] = h }

func (d *Dispatcher) AddPreFilter(f PreFilter) { d.pre = append(d.pre, f) }

func (d *Dispatcher) AddPostFilter(f PostFilter) { d.post = append(d.post, f) }

// Dispatch runs the pre-filter chain, the opcode handler (if any filter
// didn't short-circuit and a handler is registered), then the post-filter
// chain unconditionally. A handler panic is caught at this boundary and
// surfaces as DispatchError, per spec §4.G ("a handler exception is caught
// at the dispatch boundary... treated as Error").
func (d *Dispatcher) Dispatch(ctx *DispatchContext) (result DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = DispatchError
		}
		for _, f := range d.post {
			f(ctx, result)
		}
	}()

	for _, f := range d.pre {
		if !f(ctx) {
			result = DispatchUnhandled
			return
		}
	}

	h, ok := d.handlers[ctx.Packet.Opcode]
	if !ok {
		result = DispatchUnhandled
		return
	}
	result = h(ctx)
	return
}
