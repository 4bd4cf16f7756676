// Package session implements per-connection framing state: receive/send
// buffers driven by a pluggable codec, and the connection state machine.
package session

import (
	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/packet"
	"github.com/webitel/corehub/internal/session/codec"
)

// State is the per-connection lifecycle (spec §3: "Session — one
// connection").
type State int8

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session holds one connection's framing state. The service guarantees at
// most one in-flight Feed call per session (spec §4.E), so Session itself
// does no internal locking.
type Session struct {
	ID        uint64
	ServiceID uint64
	PeerAddr  string

	state   State
	codec   codec.Codec
	recvBuf []byte
	sendBuf []byte

	// CloseReason records why the session left Connected: the decode
	// failure Feed hit, or the reason passed to Close.
	CloseReason *corerr.Error
}

func New(id, serviceID uint64, peerAddr string, c codec.Codec) *Session {
	return &Session{
		ID:        id,
		ServiceID: serviceID,
		PeerAddr:  peerAddr,
		state:     StateConnecting,
		codec:     c,
	}
}

func (s *Session) State() State { return s.state }

// Connected marks the session ready to exchange packets, e.g. once the
// transport accept/connect handshake has completed.
func (s *Session) Connected() {
	if s.state == StateConnecting {
		s.state = StateConnected
	}
}

// Feed appends newly-read transport bytes to the receive buffer and decodes
// as many complete packets as are available. On Malformed the session
// transitions to Closing with reason ProtocolError and decoding stops,
// matching spec §4.E ("on Malformed, the session is closed with reason
// ProtocolError").
func (s *Session) Feed(data []byte) ([]packet.Packet, error) {
	if s.state != StateConnected {
		return nil, corerr.New(corerr.KindState, "session not connected")
	}
	s.recvBuf = append(s.recvBuf, data...)

	var out []packet.Packet
	for {
		p, consumed, result, err := s.codec.Decode(s.recvBuf)
		if err == packet.ErrTooLarge {
			s.fail(packet.ErrTooLarge)
			return out, s.CloseReason
		}
		if err != nil {
			s.fail(corerr.Wrap(corerr.KindProtocolError, "codec decode error", err))
			return out, s.CloseReason
		}
		switch result {
		case packet.DecodeOK:
			p.SessionID = s.ID
			out = append(out, p)
			s.recvBuf = s.recvBuf[consumed:]
		case packet.DecodeNeedMore:
			return out, nil
		case packet.DecodeMalformed:
			s.fail(corerr.New(corerr.KindProtocolError, "malformed frame"))
			return out, s.CloseReason
		}
	}
}

func (s *Session) fail(reason *corerr.Error) {
	s.CloseReason = reason
	s.state = StateClosing
}

// QueueSend encodes p and appends it to the outbound buffer. It is a no-op
// error once the session has left Connected.
func (s *Session) QueueSend(p packet.Packet) error {
	if s.state != StateConnected {
		return corerr.New(corerr.KindState, "session not connected")
	}
	wire, err := s.codec.Encode(p)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "codec encode error", err)
	}
	s.sendBuf = append(s.sendBuf, wire...)
	return nil
}

// DrainSend returns and clears the pending outbound bytes, for the poller
// to write to the transport.
func (s *Session) DrainSend() []byte {
	if len(s.sendBuf) == 0 {
		return nil
	}
	out := s.sendBuf
	s.sendBuf = nil
	return out
}

// Close transitions the session to Closing with an explicit reason (as
// opposed to one a decode failure assigned via fail).
func (s *Session) Close(reason *corerr.Error) {
	if s.state == StateClosed || s.state == StateClosing {
		return
	}
	s.CloseReason = reason
	s.state = StateClosing
}

// Closed finalizes the session once the transport side has torn down.
func (s *Session) Closed() { s.state = StateClosed }
