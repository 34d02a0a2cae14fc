// Package nethernet implements the WebRTC-based "NetherNet" transport: two
// data channels (reliable+ordered, unreliable+no-retransmit) wrapped to
// expose the same transport.Transport interface as a RakNet session.
package nethernet

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/transport"
)

// MaxUnfragmentedSize is the largest reliable message sent without
// fragmentation; larger ones are split with a single-byte "segments
// remaining" prefix.
const MaxUnfragmentedSize = 10_000

// Stream wraps a pion WebRTC peer connection's two data channels.
type Stream struct {
	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel
	log        *logging.Logger

	mu           sync.Mutex
	reassembling []byte
	segRemaining int
	inReassembly bool

	cipher transport.CipherStream

	lastActivity time.Time
	frameCh      chan transport.Frame
	closeCh      chan struct{}
	closeOnce    sync.Once
}

// NewStream wraps an established peer connection and its two channels.
func NewStream(pc *webrtc.PeerConnection, reliable, unreliable *webrtc.DataChannel, log *logging.Logger) *Stream {
	s := &Stream{
		pc: pc, reliable: reliable, unreliable: unreliable, log: log,
		lastActivity: time.Now(),
		frameCh:      make(chan transport.Frame, 1024),
		closeCh:      make(chan struct{}),
	}
	reliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.onReliableMessage(msg.Data)
	})
	unreliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.onUnreliableMessage(msg.Data)
	})
	return s
}

func (s *Stream) onReliableMessage(data []byte) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	defer s.mu.Unlock()

	if len(data) == 0 {
		return
	}
	remaining := int(data[0])
	payload := data[1:]

	if !s.inReassembly {
		if remaining == 0 {
			s.emit(transport.Frame{Payload: append([]byte(nil), payload...), Reliability: transport.ReliableOrdered})
			return
		}
		s.inReassembly = true
		s.segRemaining = remaining
		s.reassembling = append([]byte(nil), payload...)
		return
	}

	// In-progress reassembly: segment count must decrease by exactly one.
	if remaining != s.segRemaining-1 {
		s.log.Warn("nethernet reassembly desync, dropping in-progress message", logging.Fields{
			"expected": s.segRemaining - 1, "got": remaining,
		})
		s.resetReassembly()
		return
	}
	s.reassembling = append(s.reassembling, payload...)
	s.segRemaining = remaining
	if remaining == 0 {
		msg := s.reassembling
		s.resetReassembly()
		s.emit(transport.Frame{Payload: msg, Reliability: transport.ReliableOrdered})
	}
}

func (s *Stream) resetReassembly() {
	s.inReassembly = false
	s.segRemaining = 0
	s.reassembling = nil
}

func (s *Stream) onUnreliableMessage(data []byte) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	s.emit(transport.Frame{Payload: append([]byte(nil), data...), Reliability: transport.Unreliable})
}

func (s *Stream) emit(f transport.Frame) {
	select {
	case s.frameCh <- f:
	default:
		s.log.Warn("nethernet inbound channel full, dropping frame", nil)
	}
}

// Send implements transport.Transport. Unreliable messages pass through
// unfragmented; oversized reliable messages are split with a
// segments-remaining prefix byte.
func (s *Stream) Send(payload []byte, reliability transport.Reliability, _ uint8) error {
	if reliability == transport.Unreliable || reliability == transport.UnreliableSequenced {
		return s.unreliable.Send(payload)
	}
	if len(payload) <= MaxUnfragmentedSize {
		return s.reliable.Send(append([]byte{0}, payload...))
	}

	segments := (len(payload) + MaxUnfragmentedSize - 1) / MaxUnfragmentedSize
	for i := 0; i < segments; i++ {
		start := i * MaxUnfragmentedSize
		end := start + MaxUnfragmentedSize
		if end > len(payload) {
			end = len(payload)
		}
		remaining := segments - i - 1
		if remaining > 255 {
			return bedrockerr.New(bedrockerr.ProtocolViolation, "message too large to fragment (>255 segments)")
		}
		chunk := append([]byte{byte(remaining)}, payload[start:end]...)
		if err := s.reliable.Send(chunk); err != nil {
			return bedrockerr.Wrap(bedrockerr.TransportClosed, "send reliable segment", err)
		}
	}
	return nil
}

// Recv implements transport.Transport.
func (s *Stream) Recv(ctx context.Context) (transport.Frame, error) {
	select {
	case f, ok := <-s.frameCh:
		if !ok {
			return transport.Frame{}, bedrockerr.New(bedrockerr.TransportClosed, "stream closed")
		}
		return f, nil
	case <-s.closeCh:
		return transport.Frame{}, bedrockerr.New(bedrockerr.TransportClosed, "stream closed")
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

// EnableCompression is informational at this layer; the batch codec does
// the actual work once NetworkSettings negotiates it.
func (s *Stream) EnableCompression() {}

// EnableEncryption records the send-direction cipher; Send does not apply
// it, since the session layer encrypts each batch before calling Send.
// NetherNet carries no checksum framing of its own since WebRTC's DTLS
// channel already authenticates the transport.
func (s *Stream) EnableEncryption(send, _ transport.CipherStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cipher = send
}

// RemoteAddr implements transport.Transport.
func (s *Stream) RemoteAddr() string {
	if s.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return "closed"
	}
	return "nethernet-peer"
}

// LastActivity implements transport.Transport.
func (s *Stream) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close implements transport.Transport.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.pc.Close()
}
