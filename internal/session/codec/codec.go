// Package codec implements the pluggable per-service packet codec chain
// (spec §4.E/§4.I): an ordered stack of transform layers terminating in the
// default length-prefix framing codec.
package codec

import (
	"encoding/binary"

	"github.com/webitel/corehub/internal/packet"
)

// Codec is the contract a Session uses to move between wire bytes and
// Packet values, exactly as specified in §4.E.
type Codec interface {
	Encode(p packet.Packet) ([]byte, error)
	Decode(buf []byte) (p packet.Packet, consumed int, result packet.DecodeResult, err error)
}

// Layer is one stage of the codec chain (§4.I): compression, encryption, or
// any other pluggable byte transform. Layers never see a Packet, only the
// fully-framed bytes the terminal framing codec already produced.
type Layer interface {
	Name() string
	Wrap(in []byte) ([]byte, error)
	Unwrap(in []byte) ([]byte, error)
}

// LenPrefix is the default framing codec described by spec §6: a 4-byte
// big-endian length prefix over opcode/serial/status/flags/payload.
type LenPrefix struct {
	MaxPayload int
}

func (c LenPrefix) Encode(p packet.Packet) ([]byte, error) {
	return packet.Encode(p), nil
}

func (c LenPrefix) Decode(buf []byte) (packet.Packet, int, packet.DecodeResult, error) {
	p, consumed, res := packet.Decode(buf, c.MaxPayload)
	if res == packet.DecodeMalformed && packet.TooLarge(buf, c.MaxPayload) {
		return p, consumed, res, packet.ErrTooLarge
	}
	return p, consumed, res, nil
}

// Chain composes a terminal framing Codec with zero or more transform
// Layers, configured in decode-forward order: Decode applies layers in the
// given order (outermost wire transform first) before handing the
// recovered bytes to base.Decode; Encode applies them in reverse, after
// base.Encode has produced the canonical frame. This is exactly the
// "encoding applies in reverse order; decoding in forward order" rule of
// spec §4.I.
//
// When no layers are configured, Chain degenerates to exactly base — the
// default, spec-exact wire format with no extra outer framing. Only when
// compression/encryption layers are configured (an addition over the base
// spec, since those need some way to delimit an unpredictably-resized
// transformed record) does Chain add a second, outer 4-byte length prefix
// around the wrapped record.
type Chain struct {
	base   Codec
	layers []Layer
}

func NewChain(base Codec, layers ...Layer) *Chain {
	return &Chain{base: base, layers: layers}
}

func (c *Chain) Encode(p packet.Packet) ([]byte, error) {
	inner, err := c.base.Encode(p)
	if err != nil {
		return nil, err
	}
	if len(c.layers) == 0 {
		return inner, nil
	}
	for i := len(c.layers) - 1; i >= 0; i-- {
		inner, err = c.layers[i].Wrap(inner)
		if err != nil {
			return nil, err
		}
	}
	out := make([]byte, 4+len(inner))
	binary.BigEndian.PutUint32(out[:4], uint32(len(inner)))
	copy(out[4:], inner)
	return out, nil
}

func (c *Chain) Decode(buf []byte) (packet.Packet, int, packet.DecodeResult, error) {
	if len(c.layers) == 0 {
		return c.base.Decode(buf)
	}

	if len(buf) < 4 {
		return packet.Packet{}, 0, packet.DecodeNeedMore, nil
	}
	recLen := binary.BigEndian.Uint32(buf[:4])
	total := 4 + int(recLen)
	if len(buf) < total {
		return packet.Packet{}, 0, packet.DecodeNeedMore, nil
	}

	inner := append([]byte(nil), buf[4:total]...)
	for _, l := range c.layers {
		var err error
		inner, err = l.Unwrap(inner)
		if err != nil {
			return packet.Packet{}, 0, packet.DecodeMalformed, nil
		}
	}

	p, consumed, res, err := c.base.Decode(inner)
	if err != nil {
		return packet.Packet{}, 0, packet.DecodeMalformed, err
	}
	if res != packet.DecodeOK || consumed != len(inner) {
		return packet.Packet{}, 0, packet.DecodeMalformed, nil
	}
	return p, total, packet.DecodeOK, nil
}
