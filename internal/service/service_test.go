package service

import (
	"context"
	"testing"
	"time"

	"github.com/webitel/corehub/internal/component"
	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/packet"
	"github.com/webitel/corehub/internal/poller"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/session/codec"
	"github.com/webitel/corehub/internal/timerwheel"
)

// stubPoller is an in-memory poller.Poller used to drive the service loop
// in tests without real sockets.
type stubPoller struct {
	events chan poller.Event
	sent   [][]byte
}

func newStubPoller() *stubPoller { return &stubPoller{events: make(chan poller.Event, 16)} }

func (p *stubPoller) Listen(addr string) (uint64, error) { return 1, nil }
func (p *stubPoller) Connect(addr string) (uint64, error) { return 1, nil }
func (p *stubPoller) Send(sessionID uint64, data []byte) error {
	p.sent = append(p.sent, data)
	return nil
}
func (p *stubPoller) Close(sessionID uint64, lingerMs int64) error { return nil }
func (p *stubPoller) Events() <-chan poller.Event                  { return p.events }
func (p *stubPoller) Shutdown() error                              { close(p.events); return nil }

func newTestService(t *testing.T, sp *stubPoller) *Service {
	t.Helper()
	reg := component.NewRegistry()
	reg.Freeze()
	timers := timerwheel.New(nil)
	mq := queue.New()
	disp := NewDispatcher()
	c := codec.NewChain(codec.LenPrefix{MaxPayload: 0})
	return New(Config{Name: "test", FPS: 1000, FrameDrainCap: 64}, reg, timers, mq, disp, sp, c, nil)
}

func TestEchoScenario(t *testing.T) {
	sp := newStubPoller()
	svc := newTestService(t, sp)

	svc.Dispatcher.Handle(1, func(ctx *DispatchContext) DispatchResult {
		reply := ctx.Packet.Reply(1, 0, ctx.Packet.Payload)
		ctx.Reply = &reply
		return DispatchHandled
	})

	svc.HandlePollerEvent(poller.Event{Kind: poller.EventAccept, SessionID: 42})

	wire, _ := svc.Codec.Encode(packet.Packet{Opcode: 1, Serial: 5, Flags: packet.FlagExpectReply, Payload: []byte("echo me")})
	svc.HandlePollerEvent(poller.Event{Kind: poller.EventReadable, SessionID: 42, Bytes: wire})

	if len(sp.sent) != 1 {
		t.Fatalf("want 1 sent frame, got %d", len(sp.sent))
	}
	got, _, res, _ := svc.Codec.Decode(sp.sent[0])
	if res != packet.DecodeOK {
		t.Fatalf("echoed frame didn't decode: %v", res)
	}
	if got.Serial != 5 || string(got.Payload) != "echo me" {
		t.Fatalf("echo mismatch: %+v", got)
	}
}

func TestMalformedFrameClosesSession(t *testing.T) {
	sp := newStubPoller()
	svc := newTestService(t, sp)

	svc.HandlePollerEvent(poller.Event{Kind: poller.EventAccept, SessionID: 7})
	svc.HandlePollerEvent(poller.Event{Kind: poller.EventReadable, SessionID: 7, Bytes: []byte{0, 0, 0, 1}})

	sess := svc.sessionFor(7)
	if sess == nil {
		t.Fatal("session must still be tracked (removed only on EventClosed)")
	}
	if corerr.KindOf(sess.CloseReason) != corerr.KindProtocolError {
		t.Fatalf("want ProtocolError close reason, got %v", sess.CloseReason)
	}
}

func TestDispatchPanicBecomesErrorAndCloseOnErrorCloses(t *testing.T) {
	sp := newStubPoller()
	svc := newTestService(t, sp)

	svc.Dispatcher.Handle(9, func(ctx *DispatchContext) DispatchResult {
		panic("boom")
	})

	svc.HandlePollerEvent(poller.Event{Kind: poller.EventAccept, SessionID: 3})
	wire, _ := svc.Codec.Encode(packet.Packet{Opcode: 9, Flags: packet.FlagCloseOnError})
	svc.HandlePollerEvent(poller.Event{Kind: poller.EventReadable, SessionID: 3, Bytes: wire})

	sess := svc.sessionFor(3)
	if sess.State().String() != "Closing" {
		t.Fatalf("want session Closing after panic+CloseOnError, got %v", sess.State())
	}
}

func TestComponentLookupOrderingEndToEnd(t *testing.T) {
	reg := component.NewRegistry()
	var order []string
	var lookedUpDuringStart bool

	mk := func(name string, onStart func()) component.Component {
		return &orderedComponent{name: name, order: &order, onStart: onStart}
	}

	_ = reg.Register(mk("A", nil))
	_ = reg.Register(mk("B", func() { _, lookedUpDuringStart = reg.Get("A") }))
	_ = reg.Register(mk("C", nil))
	reg.Freeze()

	for _, c := range reg.InOrder() {
		_ = c.OnInit()
	}
	for _, c := range reg.InOrder() {
		_ = c.OnStart()
	}
	if !lookedUpDuringStart {
		t.Fatal("B's OnStart must be able to find A via the registry")
	}
	for _, c := range reg.ReverseOrder() {
		_ = c.OnStop()
	}

	want := []string{
		"init:A", "init:B", "init:C",
		"start:A", "start:B", "start:C",
		"stop:C", "stop:B", "stop:A",
	}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

type orderedComponent struct {
	name    string
	order   *[]string
	onStart func()
}

func (c *orderedComponent) Name() string { return c.name }
func (c *orderedComponent) OnInit() error {
	*c.order = append(*c.order, "init:"+c.name)
	return nil
}
func (c *orderedComponent) OnStart() error {
	*c.order = append(*c.order, "start:"+c.name)
	if c.onStart != nil {
		c.onStart()
	}
	return nil
}
func (c *orderedComponent) OnUpdate(dtMs int64) {}
func (c *orderedComponent) OnStop() error {
	*c.order = append(*c.order, "stop:"+c.name)
	return nil
}
func (c *orderedComponent) OnDestroy() {}

func TestTimerCancelDuringFireStopsFurtherFiring(t *testing.T) {
	sp := newStubPoller()
	svc := newTestService(t, sp)

	fireCount := 0
	var id timerwheel.TimerID
	id = svc.Timers.Schedule(0, 10, 10, func(nowMs int64) bool {
		fireCount++
		svc.Timers.Cancel(id)
		return true
	})

	svc.TickTimers(10)
	svc.TickTimers(20)
	svc.TickTimers(30)

	if fireCount != 1 {
		t.Fatalf("want exactly 1 fire after self-cancel, got %d", fireCount)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sp := newStubPoller()
	svc := newTestService(t, sp)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
