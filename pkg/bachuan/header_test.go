package bachuan

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip20Byte(t *testing.T) {
	h := Header{
		Magic:        Magic,
		MsgID:        MsgIDLogin,
		BodyLen:      42,
		ChannelID:    1,
		StreamType:   0,
		MsgNum:       7,
		ResponseCode: ResponseCodeOK,
		Class:        ClassLegacy,
	}

	wire := h.Serialize()
	if len(wire) != HeaderSize20 {
		t.Fatalf("expected %d-byte header, got %d", HeaderSize20, len(wire))
	}

	got, consumed, err := ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if consumed != HeaderSize20 {
		t.Fatalf("expected to consume %d bytes, consumed %d", HeaderSize20, consumed)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderRoundTrip24Byte(t *testing.T) {
	h := Header{
		Magic:         Magic,
		MsgID:         MsgIDVideo,
		BodyLen:       100,
		ChannelID:     0,
		StreamType:    0,
		MsgNum:        3,
		ResponseCode:  ResponseCodeOK,
		Class:         ClassModern24,
		PayloadOffset: 64,
	}

	wire := h.Serialize()
	if len(wire) != HeaderSize24 {
		t.Fatalf("expected %d-byte header, got %d", HeaderSize24, len(wire))
	}

	got, consumed, err := ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if consumed != HeaderSize24 {
		t.Fatalf("expected to consume %d bytes, consumed %d", HeaderSize24, consumed)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestParseHeaderShortFrame(t *testing.T) {
	h := Header{Magic: Magic, Class: ClassModern24}
	wire := h.Serialize()

	// Fewer than 20 bytes: short frame.
	if _, _, err := ParseHeader(wire[:10]); err != errShortFrame {
		t.Fatalf("expected errShortFrame for truncated header, got %v", err)
	}

	// 20 bytes of a 24-byte header: still short.
	if _, _, err := ParseHeader(wire[:20]); err != errShortFrame {
		t.Fatalf("expected errShortFrame for truncated 24-byte header, got %v", err)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	h := Header{Magic: 0xDEADBEEF, Class: ClassLegacy}
	wire := h.Serialize()
	if _, _, err := ParseHeader(wire); err == nil {
		t.Fatal("expected error for invalid magic")
	}
}

func TestParseHeaderAcceptsReversedMagic(t *testing.T) {
	h := Header{Magic: MagicRev, Class: ClassLegacy, MsgID: MsgIDPing}
	wire := h.Serialize()
	got, _, err := ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got.Magic != MagicRev {
		t.Fatalf("expected magic preserved as %x, got %x", MagicRev, got.Magic)
	}
}

func TestMessageRoundTripWithExtension(t *testing.T) {
	msg := NewExtensionMessage(MsgIDVideo, 5, []byte("<Extension/>"), []byte{1, 2, 3, 4}, ClassModern24)

	wire := msg.Serialize()

	header, consumed, err := ParseHeader(wire)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !header.HasPayloadOffset() {
		t.Fatal("expected modern-24 header to carry a payload offset")
	}
	if header.PayloadOffset != uint32(len("<Extension/>")) {
		t.Fatalf("expected payload offset %d, got %d", len("<Extension/>"), header.PayloadOffset)
	}

	body := wire[consumed:]
	extension := body[:header.PayloadOffset]
	payload := body[header.PayloadOffset:]

	if !bytes.Equal(extension, msg.Extension) {
		t.Fatalf("extension mismatch: got %q, want %q", extension, msg.Extension)
	}
	if !bytes.Equal(payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %v, want %v", payload, msg.Payload)
	}
}

func TestMessageNameUnknown(t *testing.T) {
	if got := MessageName(0xFFFFFF); got != "Unknown" {
		t.Fatalf("expected Unknown for unrecognized id, got %q", got)
	}
	if got := MessageName(MsgIDLogin); got != "Login" {
		t.Fatalf("expected Login, got %q", got)
	}
}
