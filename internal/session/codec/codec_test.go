package codec

import (
	"bytes"
	"testing"

	"github.com/webitel/corehub/internal/packet"
)

func TestLenPrefixRoundTrip(t *testing.T) {
	c := NewChain(LenPrefix{MaxPayload: 0})
	p := packet.Packet{Opcode: 7, Serial: 1, Payload: []byte("plain")}

	wire, err := c.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, res, err := c.Decode(wire)
	if err != nil || res != packet.DecodeOK {
		t.Fatalf("decode: res=%v err=%v", res, err)
	}
	if consumed != len(wire) || !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLenPrefixNeedMoreWithNoExtraLayers(t *testing.T) {
	c := NewChain(LenPrefix{MaxPayload: 0})
	p := packet.Packet{Opcode: 1, Payload: []byte("abcdefgh")}
	wire, _ := c.Encode(p)

	_, _, res, _ := c.Decode(wire[:len(wire)-1])
	if res != packet.DecodeNeedMore {
		t.Fatalf("want NeedMore, got %v", res)
	}
}

func TestChainWithLZ4RoundTrip(t *testing.T) {
	c := NewChain(LenPrefix{MaxPayload: 0}, LZ4{})
	p := packet.Packet{Opcode: 3, Serial: 9, Payload: bytes.Repeat([]byte("x"), 512)}

	wire, err := c.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, res, err := c.Decode(wire)
	if err != nil || res != packet.DecodeOK {
		t.Fatalf("decode: res=%v err=%v", res, err)
	}
	if consumed != len(wire) || !bytes.Equal(got.Payload, p.Payload) || got.Serial != p.Serial {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestChainWithLZ4NeedMoreOnPartialOuterFrame(t *testing.T) {
	c := NewChain(LenPrefix{MaxPayload: 0}, LZ4{})
	p := packet.Packet{Opcode: 3, Payload: []byte("hello world")}
	wire, _ := c.Encode(p)

	_, _, res, _ := c.Decode(wire[:len(wire)-1])
	if res != packet.DecodeNeedMore {
		t.Fatalf("want NeedMore on a truncated outer record, got %v", res)
	}
	_, _, res, _ = c.Decode(wire[:2])
	if res != packet.DecodeNeedMore {
		t.Fatalf("want NeedMore on a partial outer length prefix, got %v", res)
	}
}

func TestChainWithAESGCMRoundTripAndTamperDetection(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	aead, err := NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	c := NewChain(LenPrefix{MaxPayload: 0}, aead)
	p := packet.Packet{Opcode: 4, Serial: 11, Payload: []byte("secret")}

	wire, err := c.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, res, err := c.Decode(wire)
	if err != nil || res != packet.DecodeOK {
		t.Fatalf("decode: res=%v err=%v", res, err)
	}
	if consumed != len(wire) || !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	tampered := append([]byte(nil), wire...)
	tampered[len(tampered)-1] ^= 0xFF
	_, _, res, _ = c.Decode(tampered)
	if res != packet.DecodeMalformed {
		t.Fatalf("tampered ciphertext must decode as Malformed, got %v", res)
	}
}

func TestChainWithCompressionThenEncryption(t *testing.T) {
	key := bytes.Repeat([]byte{0x7}, 32)
	aead, err := NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	// Configured decode-forward order: decrypt first, then decompress.
	c := NewChain(LenPrefix{MaxPayload: 0}, aead, LZ4{})
	p := packet.Packet{Opcode: 5, Serial: 20, Payload: bytes.Repeat([]byte("y"), 256)}

	wire, err := c.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, _, res, err := c.Decode(wire)
	if err != nil || res != packet.DecodeOK {
		t.Fatalf("decode: res=%v err=%v", res, err)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("round trip mismatch through compress+encrypt chain")
	}
}
