// Package packet defines the framed application message and its default
// wire representation.
package packet

import (
	"encoding/binary"

	"github.com/webitel/corehub/internal/corerr"
)

// Flags is a bitset carried on every packet.
type Flags uint16

const (
	FlagReliable Flags = 1 << iota
	FlagBroadcast
	FlagOneway
	FlagExpectReply
	FlagCloseOnError
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Packet is the framed application message described by spec §3/§6.
type Packet struct {
	Opcode    uint32
	Serial    uint64
	Status    int32
	Flags     Flags
	SessionID uint64
	Payload   []byte
}

// Reply builds a reply packet carrying the originating serial, per spec §3
// ("reply packets carry the originating serial").
func (p Packet) Reply(opcode uint32, status int32, payload []byte) Packet {
	return Packet{
		Opcode:    opcode,
		Serial:    p.Serial,
		Status:    status,
		SessionID: p.SessionID,
		Payload:   payload,
	}
}

// headerSize is everything after the leading length prefix:
// opcode(4) + serial(8) + status(4) + flags(2).
const headerSize = 4 + 8 + 4 + 2
const lengthPrefixSize = 4

// WireSize returns the number of bytes Encode will produce for p.
func WireSize(p Packet) int { return lengthPrefixSize + headerSize + len(p.Payload) }

// Encode renders p as [len][opcode][serial][status][flags][payload], all
// big-endian, len covering everything after itself.
func Encode(p Packet) []byte {
	buf := make([]byte, WireSize(p))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize+len(p.Payload)))
	binary.BigEndian.PutUint32(buf[4:8], p.Opcode)
	binary.BigEndian.PutUint64(buf[8:16], p.Serial)
	binary.BigEndian.PutUint32(buf[16:20], uint32(p.Status))
	binary.BigEndian.PutUint16(buf[20:22], uint16(p.Flags))
	copy(buf[22:], p.Payload)
	return buf
}

// DecodeResult distinguishes the three terminal states of a decode attempt.
type DecodeResult int8

const (
	DecodeOK DecodeResult = iota
	DecodeNeedMore
	DecodeMalformed
)

// Decode attempts to parse one packet from the head of buf. maxPayload<=0
// means unbounded. It returns how many bytes of buf were consumed on
// DecodeOK; on DecodeNeedMore and DecodeMalformed, consumed is always 0.
func Decode(buf []byte, maxPayload int) (p Packet, consumed int, result DecodeResult) {
	if len(buf) < lengthPrefixSize {
		return Packet{}, 0, DecodeNeedMore
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < headerSize {
		return Packet{}, 0, DecodeMalformed
	}
	payloadLen := int(length) - headerSize
	if maxPayload > 0 && payloadLen > maxPayload {
		return Packet{}, 0, DecodeMalformed
	}
	total := lengthPrefixSize + int(length)
	if len(buf) < total {
		return Packet{}, 0, DecodeNeedMore
	}

	body := buf[lengthPrefixSize:total]
	p = Packet{
		Opcode: binary.BigEndian.Uint32(body[0:4]),
		Serial: binary.BigEndian.Uint64(body[4:12]),
		Status: int32(binary.BigEndian.Uint32(body[12:16])),
		Flags:  Flags(binary.BigEndian.Uint16(body[16:18])),
	}
	if payloadLen > 0 {
		p.Payload = append([]byte(nil), body[18:]...)
	}
	return p, total, DecodeOK
}

// ErrTooLarge is the specific ProtocolError session.Feed closes a session
// with when a frame's declared payload exceeds the codec's configured
// maximum, per spec §6 ("exceeding it closes the session with
// ProtocolError"). TooLarge lets a Codec distinguish this case from any
// other DecodeMalformed cause without re-deriving Decode's own framing math.
var ErrTooLarge = corerr.New(corerr.KindProtocolError, "packet exceeds configured maximum size")

// TooLarge reports whether buf's declared frame would be rejected by Decode
// specifically because its payload exceeds maxPayload, as opposed to any
// other malformed-framing reason.
func TooLarge(buf []byte, maxPayload int) bool {
	if maxPayload <= 0 || len(buf) < lengthPrefixSize {
		return false
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < headerSize {
		return false
	}
	return int(length)-headerSize > maxPayload
}
