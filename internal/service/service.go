// Package service implements the single-threaded, per-service event loop:
// MQ drain, poller events, timer tick, component updates, pool drain, all
// in the order spec §4.G specifies.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/corehub/internal/component"
	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/object"
	"github.com/webitel/corehub/internal/packet"
	"github.com/webitel/corehub/internal/poller"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/session"
	"github.com/webitel/corehub/internal/session/codec"
	"github.com/webitel/corehub/internal/timerwheel"
)

// State is the service lifecycle FSM of spec §4.G: only Created→Starting
// and Running→Stopping are externally triggerable.
type State int8

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Config bundles the knobs spec §6 exposes per service.
type Config struct {
	Name              string
	FPS               int
	FrameDrainCap     int
	MaxSessionSendBuf int
}

// Service is one single-threaded component/session runtime.
type Service struct {
	ID     uuid.UUID
	Config Config

	Registry   *component.Registry
	Timers     *timerwheel.Wheel
	MQ         *queue.Queue
	Dispatcher *Dispatcher
	Poller     poller.Poller
	Codec      codec.Codec
	Logger     *slog.Logger

	// OnEnvelope handles MQ envelopes drained each tick. Left nil, drained
	// envelopes are simply discarded after logging.
	OnEnvelope func(env queue.Envelope)

	mu       sync.Mutex
	state    State
	sessions map[uint64]*session.Session
	pool     *object.PoolStack
	rootPool *object.Pool
}

func New(cfg Config, reg *component.Registry, timers *timerwheel.Wheel, mq *queue.Queue,
	disp *Dispatcher, p poller.Poller, c codec.Codec, logger *slog.Logger) *Service {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.FrameDrainCap <= 0 {
		cfg.FrameDrainCap = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	stack := &object.PoolStack{}
	return &Service{
		ID:         uuid.New(),
		Config:     cfg,
		Registry:   reg,
		Timers:     timers,
		MQ:         mq,
		Dispatcher: disp,
		Poller:     p,
		Codec:      c,
		Logger:     logger.With("service", cfg.Name),
		sessions:   make(map[uint64]*session.Session),
		pool:       stack,
		rootPool:   stack.Push(),
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// PoolStack exposes the service's own auto-release pool stack, for
// components/handlers that need to AutoRelease objects during a tick.
func (s *Service) PoolStack() *object.PoolStack { return s.pool }

// Start runs Created→Starting→Running: OnInit in registration order, then
// freezes the registry, then OnStart in registration order.
func (s *Service) Start() error {
	if s.State() != StateCreated {
		return corerr.New(corerr.KindState, "service not in Created state")
	}
	s.setState(StateStarting)

	for _, c := range s.Registry.InOrder() {
		if err := c.OnInit(); err != nil {
			return corerr.Wrap(corerr.KindInternal, "component OnInit failed: "+c.Name(), err)
		}
	}
	s.Registry.Freeze()
	for _, c := range s.Registry.InOrder() {
		if err := c.OnStart(); err != nil {
			return corerr.Wrap(corerr.KindInternal, "component OnStart failed: "+c.Name(), err)
		}
	}

	s.setState(StateRunning)
	return nil
}

// Stop runs Running→Stopping→Stopped: reject new MQ work, drain what's
// pending, stop components in reverse registration order, close sessions.
func (s *Service) Stop() error {
	if s.State() != StateRunning {
		return corerr.New(corerr.KindState, "service not in Running state")
	}
	s.setState(StateStopping)

	s.MQ.Close()
	s.DrainQueue(1 << 30)

	for _, c := range s.Registry.ReverseOrder() {
		if err := c.OnStop(); err != nil {
			s.Logger.Error("component OnStop failed", "component", c.Name(), "error", err)
		}
	}

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.closeSession(sess, corerr.New(corerr.KindState, "service stopping"))
	}

	for _, c := range s.Registry.ReverseOrder() {
		c.OnDestroy()
	}

	s.setState(StateStopped)
	return nil
}

// DrainQueue drains up to cap pending envelopes and hands each to
// OnEnvelope, one at a time, with panic recovery per spec §4.G's general
// "callbacks never abort the loop" rule.
func (s *Service) DrainQueue(cap int) int {
	var out []queue.Envelope
	n := s.MQ.DrainUpTo(cap, &out)
	for _, env := range out {
		s.invokeEnvelope(env)
	}
	return n
}

func (s *Service) invokeEnvelope(env queue.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("panic handling envelope", "tag", env.Tag, "panic", r)
		}
	}()
	if s.OnEnvelope != nil {
		s.OnEnvelope(env)
	}
}

// HandlePollerEvent routes one transport event: accept/connect create a
// Session, readable bytes feed it and dispatch any decoded packets,
// closed removes it.
func (s *Service) HandlePollerEvent(ev poller.Event) {
	switch ev.Kind {
	case poller.EventAccept, poller.EventConnected:
		sess := session.New(ev.SessionID, 0, ev.PeerAddr, s.Codec)
		sess.Connected()
		s.mu.Lock()
		s.sessions[ev.SessionID] = sess
		s.mu.Unlock()

	case poller.EventReadable:
		sess := s.sessionFor(ev.SessionID)
		if sess == nil {
			return
		}
		pkts, err := sess.Feed(ev.Bytes)
		for _, p := range pkts {
			s.dispatchPacket(sess, p)
		}
		if err != nil {
			s.closeSession(sess, sess.CloseReason)
		}

	case poller.EventWritable:
		// Nothing further to do: back-pressure release is observed by the
		// next QueueSend/Send call succeeding.

	case poller.EventClosed:
		sess := s.sessionFor(ev.SessionID)
		if sess == nil {
			return
		}
		sess.Closed()
		s.mu.Lock()
		delete(s.sessions, ev.SessionID)
		s.mu.Unlock()
	}
}

// SessionCount reports how many sessions are currently attached, for
// read-only surfaces like internal/admin's service list and detail views.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) sessionFor(id uint64) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Service) dispatchPacket(sess *session.Session, p packet.Packet) {
	ctx := &DispatchContext{Service: s, Session: sess, Packet: p}
	result := s.Dispatcher.Dispatch(ctx)

	if ctx.Reply != nil && p.Flags.Has(packet.FlagExpectReply) {
		if err := sess.QueueSend(*ctx.Reply); err != nil {
			s.Logger.Error("queue reply failed", "error", err)
		}
	}

	switch result {
	case DispatchError:
		s.Logger.Error("handler error", "opcode", p.Opcode, "serial", p.Serial)
		if p.Flags.Has(packet.FlagCloseOnError) {
			s.closeSession(sess, corerr.New(corerr.KindInternal, "handler error with CloseOnError"))
			return
		}
	case DispatchCloseSession:
		s.closeSession(sess, corerr.New(corerr.KindState, "handler requested close"))
		return
	}

	if out := sess.DrainSend(); len(out) > 0 && s.Poller != nil {
		if err := s.Poller.Send(sess.ID, out); err != nil {
			s.Logger.Warn("poller send failed", "session", sess.ID, "error", err)
		}
	}
}

// SendPacket queues p for delivery on sessionID and flushes whatever the
// codec has ready through the poller, exactly like the tail half of
// dispatchPacket. Exported for callers outside the dispatch path itself,
// e.g. the cabi façade's service_send_packet.
func (s *Service) SendPacket(sessionID uint64, p packet.Packet) error {
	sess := s.sessionFor(sessionID)
	if sess == nil {
		return corerr.New(corerr.KindNotFound, "no such session")
	}
	if err := sess.QueueSend(p); err != nil {
		return err
	}
	if out := sess.DrainSend(); len(out) > 0 && s.Poller != nil {
		return s.Poller.Send(sess.ID, out)
	}
	return nil
}

// CloseSessionByID closes sessionID with the given reason, for callers
// outside the poller-event path, e.g. the cabi façade's session_close.
func (s *Service) CloseSessionByID(sessionID uint64, reason *corerr.Error) error {
	sess := s.sessionFor(sessionID)
	if sess == nil {
		return corerr.New(corerr.KindNotFound, "no such session")
	}
	s.closeSession(sess, reason)
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *Service) closeSession(sess *session.Session, reason *corerr.Error) {
	sess.Close(reason)
	if s.Poller != nil {
		_ = s.Poller.Close(sess.ID, 0)
	}
}

// TickTimers fires every timer due at or before nowMs.
func (s *Service) TickTimers(nowMs int64) int {
	return s.Timers.Tick(nowMs)
}

// UpdateComponents invokes OnUpdate(dtMs) on every component in
// registration order, recovering panics so one misbehaving component
// never aborts the tick.
func (s *Service) UpdateComponents(dtMs int64) {
	for _, c := range s.Registry.InOrder() {
		s.safeUpdate(c, dtMs)
	}
}

func (s *Service) safeUpdate(c component.Component, dtMs int64) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("panic in OnUpdate", "component", c.Name(), "panic", r)
		}
	}()
	c.OnUpdate(dtMs)
}

// DrainPool drains the service's root auto-release pool frame (spec §4.G
// step 7). Any additional nested frames a handler pushed and forgot to pop
// are left alone — draining only ever touches the frame the service loop
// itself owns.
func (s *Service) DrainPool() {
	s.rootPool.Drain()
}

// Tick runs steps 2 through 7 of spec §4.G's per-tick sequence for a
// single iteration: drain MQ, poll transport events once (up to timeout),
// tick timers, update components, drain the pool frame. Step 1 (reading
// nowMs) and step 8 (frame-rate sleep/yield) are the caller's
// responsibility, matching Run below.
func (s *Service) Tick(ctx context.Context, nowMs int64, dtMs int64, remainingFrame time.Duration) {
	s.DrainQueue(s.Config.FrameDrainCap)

	if s.Poller != nil {
		s.pollOnce(ctx, s.pollTimeout(nowMs, remainingFrame))
	}

	s.TickTimers(nowMs)
	s.UpdateComponents(dtMs)
	s.DrainPool()
}

// pollTimeout implements spec §4.G step 3's
// "min(remainingFrame, nextTimerDue)".
func (s *Service) pollTimeout(nowMs int64, remainingFrame time.Duration) time.Duration {
	due, ok := s.Timers.NextDueMs()
	if !ok {
		return remainingFrame
	}
	untilDue := time.Duration(due-nowMs) * time.Millisecond
	if untilDue < 0 {
		untilDue = 0
	}
	if untilDue < remainingFrame {
		return untilDue
	}
	return remainingFrame
}

// pollOnce waits up to timeout for at least one poller event, then drains
// whatever else is immediately available without blocking further.
func (s *Service) pollOnce(ctx context.Context, timeout time.Duration) {
	events := s.Poller.Events()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-events:
		if !ok {
			return
		}
		s.HandlePollerEvent(ev)
	case <-timer.C:
		return
	case <-ctx.Done():
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandlePollerEvent(ev)
		default:
			return
		}
	}
}

// Run drives the tick loop until ctx is canceled, honoring Config.FPS by
// sleeping out the remainder of each frame budget (spec §4.G step 8).
func (s *Service) Run(ctx context.Context) {
	frameBudget := time.Second / time.Duration(s.Config.FPS)
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		dtMs := start.Sub(last).Milliseconds()
		last = start

		s.Tick(ctx, start.UnixMilli(), dtMs, frameBudget)

		elapsed := time.Since(start)
		if elapsed < frameBudget {
			select {
			case <-time.After(frameBudget - elapsed):
			case <-ctx.Done():
				return
			}
		}
	}
}
