package session

import (
	"context"
	"testing"
	"time"

	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/transport"
)

// loopbackTransport feeds every Send directly back into its own Recv queue,
// letting tests exercise Session without a real socket.
type loopbackTransport struct {
	inbox chan transport.Frame
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{inbox: make(chan transport.Frame, 16)}
}

func (l *loopbackTransport) Send(payload []byte, reliability transport.Reliability, channel uint8) error {
	l.inbox <- transport.Frame{Payload: append([]byte(nil), payload...), Reliability: reliability, Channel: channel}
	return nil
}
func (l *loopbackTransport) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-l.inbox:
		return f, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}
func (l *loopbackTransport) EnableCompression()                                {}
func (l *loopbackTransport) EnableEncryption(_, _ transport.CipherStream)      {}
func (l *loopbackTransport) RemoteAddr() string                               { return "loopback" }
func (l *loopbackTransport) Close() error                                     { close(l.inbox); return nil }
func (l *loopbackTransport) LastActivity() time.Time                         { return time.Now() }

func TestSendPacketRoundTrip(t *testing.T) {
	tr := newLoopbackTransport()
	s := New(tr, Config{Framed: true, MaxDecompressedSize: 1 << 20})

	want := &protocol.RequestChunkRadius{Radius: 12}
	if err := s.SendPacket(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.RecvPacket(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	radius, ok := got.(*protocol.RequestChunkRadius)
	if !ok {
		t.Fatalf("unexpected packet type %T", got)
	}
	if radius.Radius != want.Radius {
		t.Fatalf("got radius %d want %d", radius.Radius, want.Radius)
	}
}

func TestEnableCompressionAppliesToSubsequentSends(t *testing.T) {
	tr := newLoopbackTransport()
	s := New(tr, Config{Framed: true, MaxDecompressedSize: 1 << 20})
	s.EnableCompression(1, 7)

	if err := s.SendPacket(&protocol.PlayStatus{Status: protocol.PlayStatusPlayerSpawn}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.RecvPacket(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	ps, ok := got.(*protocol.PlayStatus)
	if !ok || ps.Status != protocol.PlayStatusPlayerSpawn {
		t.Fatalf("unexpected packet: %+v", got)
	}
}
