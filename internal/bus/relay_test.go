package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/webitel/corehub/internal/component"
	"github.com/webitel/corehub/internal/manager"
	"github.com/webitel/corehub/internal/poller"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/service"
	"github.com/webitel/corehub/internal/session/codec"
	"github.com/webitel/corehub/internal/timerwheel"
)

type nopPoller struct{ events chan poller.Event }

func (p *nopPoller) Listen(addr string) (uint64, error)           { return 0, nil }
func (p *nopPoller) Connect(addr string) (uint64, error)          { return 0, nil }
func (p *nopPoller) Send(sessionID uint64, data []byte) error     { return nil }
func (p *nopPoller) Close(sessionID uint64, lingerMs int64) error { return nil }
func (p *nopPoller) Events() <-chan poller.Event                  { return p.events }
func (p *nopPoller) Shutdown() error                              { close(p.events); return nil }

func newNamedService(t *testing.T, name string) *service.Service {
	t.Helper()
	reg := component.NewRegistry()
	reg.Freeze()
	cfg := service.Config{Name: name, FPS: 1000, FrameDrainCap: 64}
	return service.New(cfg, reg, timerwheel.New(nil), queue.New(), service.NewDispatcher(),
		&nopPoller{events: make(chan poller.Event, 4)}, codec.NewChain(codec.LenPrefix{}), nil)
}

func TestRelayDeliversToLocalTargetByName(t *testing.T) {
	mgr := manager.New()
	target := newNamedService(t, "target-svc")
	if err := mgr.Create(target); err != nil {
		t.Fatalf("Create: %v", err)
	}

	received := make(chan queue.Envelope, 1)
	target.OnEnvelope = func(env queue.Envelope) { received <- env }

	pub, sub := NewInProcess(watermill.NopLogger{})
	relay := New(mgr, pub, sub, "corehub.relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	time.Sleep(20 * time.Millisecond) // let Subscribe register before Publish
	if err := relay.Publish("target-svc", queue.Envelope{Tag: "ping", Payload: float64(42)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	target.DrainQueue(16)
	select {
	case env := <-received:
		if env.Tag != "ping" {
			t.Fatalf("want tag ping, got %q", env.Tag)
		}
	default:
	}

	deadline := time.After(time.Second)
	for target.MQ.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("relay never delivered the envelope to the target queue")
		case <-time.After(5 * time.Millisecond):
		}
	}
	target.DrainQueue(16)

	select {
	case env := <-received:
		if env.Tag != "ping" {
			t.Fatalf("want tag ping, got %q", env.Tag)
		}
		if v, ok := env.Payload.(float64); !ok || v != 42 {
			t.Fatalf("want payload 42, got %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("OnEnvelope was never invoked")
	}
}

func TestRelayUnknownTargetAcksWithoutError(t *testing.T) {
	mgr := manager.New()
	pub, sub := NewInProcess(watermill.NopLogger{})
	relay := New(mgr, pub, sub, "corehub.relay.unknown")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if err := relay.Publish("nobody-home", queue.Envelope{Tag: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// No target registered; Run must not panic or block. Give it a moment
	// to process, then just confirm nothing blew up by reaching here.
	time.Sleep(50 * time.Millisecond)
}
