package manager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/corehub/internal/component"
	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/poller"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/service"
	"github.com/webitel/corehub/internal/session/codec"
	"github.com/webitel/corehub/internal/timerwheel"
)

type nopPoller struct{ events chan poller.Event }

func (p *nopPoller) Listen(addr string) (uint64, error)             { return 0, nil }
func (p *nopPoller) Connect(addr string) (uint64, error)            { return 0, nil }
func (p *nopPoller) Send(sessionID uint64, data []byte) error       { return nil }
func (p *nopPoller) Close(sessionID uint64, lingerMs int64) error   { return nil }
func (p *nopPoller) Events() <-chan poller.Event                    { return p.events }
func (p *nopPoller) Shutdown() error                                { close(p.events); return nil }

func newNamedService(t *testing.T, name string) *service.Service {
	t.Helper()
	reg := component.NewRegistry()
	reg.Freeze()
	cfg := service.Config{Name: name, FPS: 1000, FrameDrainCap: 64}
	return service.New(cfg, reg, timerwheel.New(nil), queue.New(), service.NewDispatcher(),
		&nopPoller{events: make(chan poller.Event, 4)}, codec.NewChain(codec.LenPrefix{}), nil)
}

func TestCreateGetByNameAndID(t *testing.T) {
	m := New()
	s1 := newNamedService(t, "s1")
	if err := m.Create(s1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, ok := m.GetByName("s1"); !ok || got != s1 {
		t.Fatal("GetByName must find the created service")
	}
	if got, ok := m.GetByID(s1.ID); !ok || got != s1 {
		t.Fatal("GetByID must find the created service")
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	m := New()
	s1 := newNamedService(t, "dup")
	s2 := newNamedService(t, "dup")
	if err := m.Create(s1); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := m.Create(s2)
	if corerr.KindOf(err) != corerr.KindRepeat {
		t.Fatalf("want KindRepeat, got %v", err)
	}
}

func TestCrossServicePostMessageDeliversEnvelope(t *testing.T) {
	m := New()
	s1 := newNamedService(t, "sender")
	s2 := newNamedService(t, "receiver")
	_ = m.Create(s1)
	_ = m.Create(s2)

	var got queue.Envelope
	received := make(chan struct{}, 1)
	s2.OnEnvelope = func(env queue.Envelope) {
		got = env
		received <- struct{}{}
	}

	if err := m.PostMessage(s2.ID, queue.Envelope{Tag: "ping", Payload: map[string]int{"seq": 42}}); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	s2.DrainQueue(16)

	select {
	case <-received:
	default:
	}
	if got.Tag != "ping" {
		t.Fatalf("want tag ping, got %q", got.Tag)
	}
	payload, ok := got.Payload.(map[string]int)
	if !ok || payload["seq"] != 42 {
		t.Fatalf("want seq=42 preserved, got %+v", got.Payload)
	}
}

func TestStopByIDRemovesFromBothMaps(t *testing.T) {
	m := New()
	s1 := newNamedService(t, "stoppable")
	_ = m.Create(s1)

	if err := m.StopByID(s1.ID); err != nil {
		t.Fatalf("StopByID: %v", err)
	}
	if _, ok := m.GetByID(s1.ID); ok {
		t.Fatal("service must be gone from byID after StopByID")
	}
	if _, ok := m.GetByName("stoppable"); ok {
		t.Fatal("service must be gone from byName after StopByID")
	}
}

func TestStopAllStopsEveryService(t *testing.T) {
	m := New()
	for _, n := range []string{"a", "b", "c"} {
		_ = m.Create(newNamedService(t, n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	for _, n := range []string{"a", "b", "c"} {
		if _, ok := m.GetByName(n); ok {
			t.Fatalf("service %q must be gone after StopAll", n)
		}
	}
}

func TestPostMessageToUnknownTargetFails(t *testing.T) {
	m := New()
	if err := m.PostMessage(uuid.Nil, queue.Envelope{}); corerr.KindOf(err) != corerr.KindNotFound {
		t.Fatalf("want KindNotFound, got %v", err)
	}
}
