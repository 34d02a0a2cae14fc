// Package transport defines the frame-oriented interface shared by the
// RakNet-over-UDP transport and the WebRTC-based NetherNet transport, so
// the Bedrock session pipeline above it never needs to know which one it
// is talking to.
package transport

import (
	"context"
	"time"
)

// Reliability mirrors the RakNet reliability classes. NetherNet only ever
// reports Reliable or Unreliable, collapsing the richer RakNet set onto its
// own two data channels: reliable+ordered and unreliable+no-retransmit.
type Reliability int

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
	ReliableSequenced
	UnreliableWithACK
	ReliableWithACK
	ReliableOrderedWithACK
)

// Frame is one application-level message delivered by either transport.
type Frame struct {
	Payload     []byte
	Reliability Reliability
	Channel     uint8
}

// Transport is the shared contract the Bedrock session pipeline programs
// against. Both RakNet sessions and NetherNet streams implement it.
type Transport interface {
	// Send queues payload for delivery under the given reliability/channel.
	Send(payload []byte, reliability Reliability, channel uint8) error
	// Recv blocks until a frame is available, ctx is done, or the transport
	// closes.
	Recv(ctx context.Context) (Frame, error)
	// EnableCompression switches on batch compression at the transport
	// boundary logging layer (purely informational; the batch codec above
	// does the actual work, but transports track it for diagnostics).
	EnableCompression()
	// EnableEncryption installs the per-direction stream cipher frames are
	// XOR'd against once the handshake's SecurePending phase completes.
	EnableEncryption(send, recv CipherStream)
	// RemoteAddr returns a human-readable peer address for logs.
	RemoteAddr() string
	// Close tears down the transport and unblocks any pending Recv.
	Close() error
	// LastActivity reports the last time a frame was seen from the peer,
	// used for peer-timeout detection.
	LastActivity() time.Time
}

// CipherStream is the minimal interface the crypto frame layer exposes to a
// transport: XOR a byte slice against the next portion of the keystream, in
// place.
type CipherStream interface {
	XORKeyStream(dst, src []byte)
}
