// Package ws implements poller.Poller over gorilla/websocket. Unlike the tcp
// poller, one websocket message is already one complete frame, so no
// additional length prefixing is needed at this layer.
package ws

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/poller"
)

type sessionConn struct {
	id   uint64
	conn *websocket.Conn

	mu      sync.Mutex
	sendBuf [][]byte
	writing bool
	closed  bool
}

// Poller is a poller.Poller backed by gorilla/websocket, grounded on the
// teacher's internal/handler/ws/delivery.go upgrade-and-pump pattern.
type Poller struct {
	events        chan poller.Event
	highWaterMark int
	upgrader      websocket.Upgrader
	dialer        websocket.Dialer

	mu      sync.Mutex
	servers map[uint64]*http.Server
	conns   map[uint64]*sessionConn
	nextID  uint64
}

func New(highWaterMark int) *Poller {
	return &Poller{
		events:        make(chan poller.Event, 256),
		highWaterMark: highWaterMark,
		upgrader:      websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		dialer:        websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		servers:       make(map[uint64]*http.Server),
		conns:         make(map[uint64]*sessionConn),
	}
}

func (p *Poller) Events() <-chan poller.Event { return p.events }

func (p *Poller) newID() uint64 { return atomic.AddUint64(&p.nextID, 1) }

func (p *Poller) emit(ev poller.Event) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Poller) Listen(addr string) (uint64, error) {
	listenerID := p.newID()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sid := p.newID()
		sc := &sessionConn{id: sid, conn: c}
		p.mu.Lock()
		p.conns[sid] = sc
		p.mu.Unlock()

		p.emit(poller.Event{
			Kind:       poller.EventAccept,
			ListenerID: listenerID,
			SessionID:  sid,
			PeerAddr:   c.RemoteAddr().String(),
		})
		p.readLoop(sc)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	p.mu.Lock()
	p.servers[listenerID] = srv
	p.mu.Unlock()

	go func() {
		_ = srv.ListenAndServe()
	}()
	return listenerID, nil
}

func (p *Poller) Connect(addr string) (uint64, error) {
	c, _, err := p.dialer.Dial(addr, nil)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindClosed, "ws dial", err)
	}
	sid := p.newID()
	sc := &sessionConn{id: sid, conn: c}
	p.mu.Lock()
	p.conns[sid] = sc
	p.mu.Unlock()

	p.emit(poller.Event{Kind: poller.EventConnected, SessionID: sid, PeerAddr: c.RemoteAddr().String()})
	go p.readLoop(sc)
	return sid, nil
}

// readLoop runs on its own goroutine per connection; the accept handler
// calls it directly (blocking that per-request handler goroutine, which is
// fine — it's not the service loop goroutine) while Connect spawns it.
func (p *Poller) readLoop(sc *sessionConn) {
	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			p.closeConn(sc, corerr.Wrap(corerr.KindClosed, "ws read closed", err))
			return
		}
		p.emit(poller.Event{Kind: poller.EventReadable, SessionID: sc.id, Bytes: data})
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

	_ = sc.conn.Close()
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
	pending := len(sc.sendBuf)
	if p.highWaterMark > 0 && pending >= p.highWaterMark {
		sc.mu.Unlock()
		return corerr.New(corerr.KindWouldBlock, "send queue high-water mark exceeded")
	}
	sc.sendBuf = append(sc.sendBuf, data)
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
		msg := sc.sendBuf[0]
		sc.sendBuf = sc.sendBuf[1:]
		sc.mu.Unlock()

		if err := sc.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			p.closeConn(sc, corerr.Wrap(corerr.KindClosed, "ws write failed", err))
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
	servers := make([]*http.Server, 0, len(p.servers))
	for _, s := range p.servers {
		servers = append(servers, s)
	}
	conns := make([]*sessionConn, 0, len(p.conns))
	for _, sc := range p.conns {
		conns = append(conns, sc)
	}
	p.mu.Unlock()

	for _, s := range servers {
		_ = s.Close()
	}
	for _, sc := range conns {
		p.closeConn(sc, nil)
	}
	close(p.events)
	return nil
}
