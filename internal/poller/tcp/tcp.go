// Package tcp implements poller.Poller over raw net.Listener/net.Conn, with
// Connect wrapped in a per-remote-address circuit breaker.
package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/poller"
)

const defaultReadBufSize = 32 * 1024

type sessionConn struct {
	id      uint64
	netConn net.Conn

	mu      sync.Mutex
	sendBuf []byte
	writing bool
	closed  bool
}

// Poller is a poller.Poller backed by raw TCP sockets. Connect dials are
// wrapped in a sony/gobreaker.CircuitBreaker per remote address [ADDED]:
// repeated dial failures trip the breaker and fail fast with KindClosed
// instead of consuming the loop's poll timeout on dial retries.
type Poller struct {
	events        chan poller.Event
	highWaterMark int

	mu        sync.Mutex
	listeners map[uint64]net.Listener
	conns     map[uint64]*sessionConn
	nextID    uint64

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

func New(highWaterMark int) *Poller {
	return &Poller{
		events:        make(chan poller.Event, 256),
		highWaterMark: highWaterMark,
		listeners:     make(map[uint64]net.Listener),
		conns:         make(map[uint64]*sessionConn),
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (p *Poller) Events() <-chan poller.Event { return p.events }

func (p *Poller) newID() uint64 { return atomic.AddUint64(&p.nextID, 1) }

func (p *Poller) emit(ev poller.Event) {
	select {
	case p.events <- ev:
	default:
		// Events channel is generously buffered; a full channel means the
		// service loop has stalled far longer than any poll timeout would
		// allow. Drop rather than block the I/O goroutine indefinitely.
	}
}

func (p *Poller) Listen(addr string) (uint64, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindInternal, "tcp listen", err)
	}
	id := p.newID()
	p.mu.Lock()
	p.listeners[id] = ln
	p.mu.Unlock()

	go p.acceptLoop(id, ln)
	return id, nil
}

func (p *Poller) acceptLoop(listenerID uint64, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		sid := p.newID()
		sc := &sessionConn{id: sid, netConn: nc}
		p.mu.Lock()
		p.conns[sid] = sc
		p.mu.Unlock()

		p.emit(poller.Event{
			Kind:       poller.EventAccept,
			ListenerID: listenerID,
			SessionID:  sid,
			PeerAddr:   nc.RemoteAddr().String(),
		})
		go p.readLoop(sc)
	}
}

func (p *Poller) breakerFor(addr string) *gobreaker.CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()
	if b, ok := p.breakers[addr]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "tcp-connect:" + addr,
		Timeout: 30 * time.Second,
	})
	p.breakers[addr] = b
	return b
}

func (p *Poller) Connect(addr string) (uint64, error) {
	breaker := p.breakerFor(addr)
	result, err := breaker.Execute(func() (interface{}, error) {
		return net.DialTimeout("tcp", addr, 10*time.Second)
	})
	if err != nil {
		return 0, corerr.Wrap(corerr.KindClosed, "tcp connect", err)
	}
	nc := result.(net.Conn)

	sid := p.newID()
	sc := &sessionConn{id: sid, netConn: nc}
	p.mu.Lock()
	p.conns[sid] = sc
	p.mu.Unlock()

	p.emit(poller.Event{Kind: poller.EventConnected, SessionID: sid, PeerAddr: nc.RemoteAddr().String()})
	go p.readLoop(sc)
	return sid, nil
}

func (p *Poller) readLoop(sc *sessionConn) {
	buf := make([]byte, defaultReadBufSize)
	for {
		n, err := sc.netConn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			p.emit(poller.Event{Kind: poller.EventReadable, SessionID: sc.id, Bytes: chunk})
		}
		if err != nil {
			p.closeConn(sc, corerr.Wrap(corerr.KindClosed, "tcp read closed", err))
			return
		}
	}
}

func (p *Poller) closeConn(sc *sessionConn, reason *corerr.Error) {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.closed = true
	sc.mu.Unlock()

	_ = sc.netConn.Close()
	p.mu.Lock()
	delete(p.conns, sc.id)
	p.mu.Unlock()

	p.emit(poller.Event{Kind: poller.EventClosed, SessionID: sc.id, Reason: reason})
}

func (p *Poller) Send(sessionID uint64, data []byte) error {
	p.mu.Lock()
	sc, ok := p.conns[sessionID]
	p.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindNotFound, "unknown session")
	}

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return corerr.New(corerr.KindClosed, "session closed")
	}
	if p.highWaterMark > 0 && len(sc.sendBuf)+len(data) > p.highWaterMark {
		sc.mu.Unlock()
		return corerr.New(corerr.KindWouldBlock, "send buffer high-water mark exceeded")
	}
	sc.sendBuf = append(sc.sendBuf, data...)
	alreadyWriting := sc.writing
	sc.writing = true
	sc.mu.Unlock()

	if !alreadyWriting {
		go p.writeLoop(sc)
	}
	return nil
}

func (p *Poller) writeLoop(sc *sessionConn) {
	for {
		sc.mu.Lock()
		if len(sc.sendBuf) == 0 {
			sc.writing = false
			sc.mu.Unlock()
			p.emit(poller.Event{Kind: poller.EventWritable, SessionID: sc.id})
			return
		}
		chunk := sc.sendBuf
		sc.sendBuf = nil
		sc.mu.Unlock()

		if _, err := sc.netConn.Write(chunk); err != nil {
			p.closeConn(sc, corerr.Wrap(corerr.KindClosed, "tcp write failed", err))
			return
		}
	}
}

func (p *Poller) Close(sessionID uint64, lingerMs int64) error {
	p.mu.Lock()
	sc, ok := p.conns[sessionID]
	p.mu.Unlock()
	if !ok {
		return corerr.New(corerr.KindNotFound, "unknown session")
	}
	if lingerMs > 0 {
		time.Sleep(time.Duration(lingerMs) * time.Millisecond)
	}
	p.closeConn(sc, nil)
	return nil
}

func (p *Poller) Shutdown() error {
	p.mu.Lock()
	listeners := make([]net.Listener, 0, len(p.listeners))
	for _, ln := range p.listeners {
		listeners = append(listeners, ln)
	}
	conns := make([]*sessionConn, 0, len(p.conns))
	for _, sc := range p.conns {
		conns = append(conns, sc)
	}
	p.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, sc := range conns {
		p.closeConn(sc, nil)
	}
	close(p.events)
	return nil
}
