package protocol

import "testing"

func TestRegistryEncodeDecodeRoundTrip(t *testing.T) {
	r := NewRegistry()
	original := &MovePlayer{EntityRuntimeID: 42, Position: [3]float32{1, 64, -2}, Yaw: 90, Pitch: 0}

	frame := r.Encode(original, 0, 0)

	// EncodePacketFrame prefixes a varuint32 length; strip it the way the
	// batch codec's splitFrames would before handing the payload to Decode.
	reader := NewReader(frame)
	length, err := reader.Varuint32()
	if err != nil {
		t.Fatalf("length prefix: %v", err)
	}
	if err := reader.need(int(length)); err != nil {
		t.Fatalf("payload: %v", err)
	}
	payload := reader.buf[reader.off : reader.off+int(length)]

	pk, senderSubID, targetSubID, err := r.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if senderSubID != 0 || targetSubID != 0 {
		t.Fatalf("unexpected subclient ids: %d %d", senderSubID, targetSubID)
	}
	got, ok := pk.(*MovePlayer)
	if !ok {
		t.Fatalf("unexpected packet type %T", pk)
	}
	if got.EntityRuntimeID != original.EntityRuntimeID || got.Position != original.Position || got.Yaw != original.Yaw {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, original)
	}
}

func TestRegistryUnknownIDFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Pool.New(0xFFFF); err == nil {
		t.Fatal("expected unknown id error")
	}
}
