package batch

import (
	"bytes"
	"testing"
)

func TestRoundTripUncompressed(t *testing.T) {
	c := New(Options{Framed: true, CompressionEnabled: true, Level: 7, Threshold: 1 << 20})
	frame := EncodePacketFrame([]byte{0x02}, []byte("login-success"))

	out, err := c.Encode([][]byte{frame})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out[0] != GameFrameID {
		t.Fatalf("expected leading 0xFE, got 0x%02X", out[0])
	}
	if Algorithm(out[1]) != AlgorithmNone {
		t.Fatalf("expected no-compression marker below threshold, got 0x%02X", out[1])
	}

	frames, err := c.Decode(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Decode strips each frame's varuint32 length prefix, returning header ∥ body.
	want := append([]byte{0x02}, "login-success"...)
	if len(frames) != 1 || !bytes.Equal(frames[0], want) {
		t.Fatalf("round trip mismatch: %x vs %x", frames, want)
	}
}

func TestRoundTripCompressed(t *testing.T) {
	c := New(Options{Framed: true, CompressionEnabled: true, Level: 7, Threshold: 0})
	frame := EncodePacketFrame([]byte{0x02}, bytes.Repeat([]byte("x"), 256))

	out, err := c.Encode([][]byte{frame})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Algorithm(out[1]) != AlgorithmDeflate {
		t.Fatalf("expected deflate marker, got 0x%02X", out[1])
	}

	frames, err := c.Decode(out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := append([]byte{0x02}, bytes.Repeat([]byte("x"), 256)...)
	if len(frames) != 1 || !bytes.Equal(frames[0], want) {
		t.Fatal("compressed round trip mismatch")
	}
}

func TestEmptyPayloadDecodesToEmptyList(t *testing.T) {
	c := New(Options{Framed: true, CompressionEnabled: true, Level: 7, Threshold: 1})
	frames, err := c.Decode([]byte{GameFrameID})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected empty list, got %d frames", len(frames))
	}
}

func TestMaxDecompressedSizeBoundary(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 100)
	c := New(Options{Framed: false, CompressionEnabled: true, Level: 7, Threshold: 0, MaxDecompressedSize: len(payload)})
	// 1-byte length prefix + 1-byte header + 98-byte body = exactly 100 bytes.
	frame := EncodePacketFrame([]byte{0x01}, payload[:len(payload)-2])
	out, err := c.Encode([][]byte{frame})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := c.Decode(out); err != nil {
		t.Fatalf("exact-limit batch should be accepted: %v", err)
	}

	tooBig := New(Options{Framed: false, CompressionEnabled: true, Level: 7, Threshold: 0, MaxDecompressedSize: len(payload) - 2})
	if _, err := tooBig.Decode(out); err == nil {
		t.Fatal("expected oversize decode to fail")
	}
}

func TestMissingAlgorithmMarkerFallsBackToPlaintext(t *testing.T) {
	c := New(Options{Framed: false, CompressionEnabled: false, Threshold: 0})
	frame := EncodePacketFrame([]byte{0x09}, []byte("raw"))
	// No algorithm byte at all: the whole thing looks like plaintext once
	// DEFLATE decoding of it fails.
	frames, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := append([]byte{0x09}, "raw"...)
	if len(frames) != 1 || !bytes.Equal(frames[0], want) {
		t.Fatalf("expected plaintext fallback to reproduce the frame's header and body, got %x", frames)
	}
}

func TestHeaderPackUnpack(t *testing.T) {
	h := HeaderIDAndSubclients(129, 2, 1)
	buf := append(h, 0)
	val, n := uvarint(buf)
	if n <= 0 {
		t.Fatal("bad varint")
	}
	id, from, to := SplitHeader(uint32(val))
	if id != 129 || from != 2 || to != 1 {
		t.Fatalf("got id=%d from=%d to=%d", id, from, to)
	}
}

func uvarint(b []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, c := range b {
		if c < 0x80 {
			return x | uint64(c)<<s, i + 1
		}
		x |= uint64(c&0x7f) << s
		s += 7
	}
	return 0, 0
}
