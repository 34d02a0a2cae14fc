// Package session wires the batch codec, crypto frame, and packet registry
// on top of one transport.Transport, giving the handshake state machine and
// the tick loop a single-packet-at-a-time interface.
package session

import (
	"context"

	"github.com/unastar/bedrock-core/internal/batch"
	"github.com/unastar/bedrock-core/internal/bedrockerr"
	"github.com/unastar/bedrock-core/internal/crypto"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/transport"
)

// Config configures a Session's batch codec.
type Config struct {
	Framed               bool
	CompressionThreshold int
	CompressionLevel     int
	MaxDecompressedSize  int
}

// Session owns one peer's transport, codec, optional crypto directions, and
// packet registry. It is not safe for concurrent Send/Recv from multiple
// goroutines on the same direction.
type Session struct {
	Transport transport.Transport
	Registry  *protocol.Registry

	codec  *batch.Codec
	cfg    Config

	send *crypto.Direction
	recv *crypto.Direction

	subID uint8
}

// New constructs a Session around an already-established transport.
func New(tr transport.Transport, cfg Config) *Session {
	s := &Session{
		Transport: tr,
		Registry:  protocol.NewRegistry(),
		cfg:       cfg,
	}
	s.codec = batch.New(batch.Options{
		Framed:              cfg.Framed,
		CompressionEnabled:  false,
		Level:               cfg.CompressionLevel,
		Threshold:           cfg.CompressionThreshold,
		MaxDecompressedSize: cfg.MaxDecompressedSize,
	})
	return s
}

// EnableCompression turns on batch compression for subsequent sends,
// matching the transport flag the handshake flips after NetworkSettings is
// negotiated.
func (s *Session) EnableCompression(threshold, level int) {
	s.cfg.CompressionThreshold = threshold
	s.cfg.CompressionLevel = level
	s.codec = batch.New(batch.Options{
		Framed:              s.cfg.Framed,
		CompressionEnabled:  true,
		Level:               level,
		Threshold:           threshold,
		MaxDecompressedSize: s.cfg.MaxDecompressedSize,
	})
	s.Transport.EnableCompression()
}

// EnableEncryption installs the per-direction AES-256-CTR stream ciphers
// negotiated during SecurePending.
func (s *Session) EnableEncryption(send, recv *crypto.Direction) {
	s.send, s.recv = send, recv
	s.Transport.EnableEncryption(send, recv)
}

// SendPacket encodes one packet into a batch of its own and hands it to the
// transport as a single reliable-ordered frame.
func (s *Session) SendPacket(pk protocol.Packet) error {
	frame := s.Registry.Encode(pk, s.subID, s.subID)
	batchBytes, err := s.codec.Encode([][]byte{frame})
	if err != nil {
		return err
	}
	if s.send != nil {
		batchBytes, err = s.send.Encrypt(batchBytes)
		if err != nil {
			return err
		}
	}
	return s.Transport.Send(batchBytes, transport.ReliableOrdered, 0)
}

// RecvPacket blocks for the next inbound transport frame, decrypts,
// decompresses, and decodes exactly one packet. A batch carrying more than
// one inner frame is an error at this call site; the handshake only ever
// expects single-packet batches (play-phase batches are drained via
// RecvBatch instead).
func (s *Session) RecvPacket(ctx context.Context) (protocol.Packet, error) {
	pks, err := s.RecvBatch(ctx)
	if err != nil {
		return nil, err
	}
	if len(pks) != 1 {
		return nil, bedrockerr.New(bedrockerr.ProtocolViolation, "expected exactly one packet in batch")
	}
	return pks[0], nil
}

// RecvBatch blocks for the next inbound transport frame and decodes every
// inner packet frame it carries, in order.
func (s *Session) RecvBatch(ctx context.Context) ([]protocol.Packet, error) {
	f, err := s.Transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	raw := f.Payload
	if s.recv != nil {
		raw, err = s.recv.Decrypt(raw)
		if err != nil {
			return nil, err
		}
	}
	frames, err := s.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	pks := make([]protocol.Packet, 0, len(frames))
	for _, frame := range frames {
		pk, _, _, err := s.Registry.Decode(frame)
		if err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, nil
}
