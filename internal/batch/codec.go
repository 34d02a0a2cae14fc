// Package batch implements the 0xFE batch codec : composing and
// decomposing the multi-packet frame that rides inside a single RakNet game
// frame or a single NetherNet reliable message.
package batch

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// Algorithm is the one-byte compression marker.
type Algorithm byte

const (
	AlgorithmDeflate Algorithm = 0x00
	AlgorithmNone    Algorithm = 0xFF
)

// GameFrameID is the byte that prefixes every RakNet game frame before the
// algorithm marker. NetherNet frames omit it.
const GameFrameID byte = 0xFE

// Options configures a Codec instance.
type Options struct {
	// Framed indicates the caller is on RakNet and expects/emits the leading
	// 0xFE byte. NetherNet callers set this false.
	Framed bool
	// CompressionEnabled mirrors the negotiated NetworkSettings state.
	CompressionEnabled bool
	// Level is the DEFLATE level; Level<=0 disables compression regardless
	// of CompressionEnabled.
	Level int
	// Threshold is the minimum plaintext length that triggers compression.
	Threshold int
	// MaxDecompressedSize bounds memory use on decode; exceeding it is a
	// fatal decode error.
	MaxDecompressedSize int
}

// Codec composes/decomposes batches per Options.
type Codec struct {
	opts Options
}

// New returns a Codec for the given options.
func New(opts Options) *Codec {
	if opts.MaxDecompressedSize <= 0 {
		opts.MaxDecompressedSize = 8 * 1024 * 1024
	}
	return &Codec{opts: opts}
}

// Encode composes packets (each an already-serialized inner packet frame:
// varuint32 length ∥ header ∥ body — see EncodePacketFrame) into one batch.
func (c *Codec) Encode(packets [][]byte) ([]byte, error) {
	var plain bytes.Buffer
	for _, p := range packets {
		plain.Write(p)
	}

	var out bytes.Buffer
	if c.opts.Framed {
		out.WriteByte(GameFrameID)
	}

	useCompression := c.opts.CompressionEnabled && c.opts.Level > 0 && plain.Len() >= c.opts.Threshold
	if useCompression {
		out.WriteByte(byte(AlgorithmDeflate))
		w, err := flate.NewWriter(&out, c.opts.Level)
		if err != nil {
			return nil, bedrockerr.Wrap(bedrockerr.ProtocolViolation, "create deflate writer", err)
		}
		if _, err := w.Write(plain.Bytes()); err != nil {
			return nil, bedrockerr.Wrap(bedrockerr.ProtocolViolation, "deflate batch", err)
		}
		if err := w.Close(); err != nil {
			return nil, bedrockerr.Wrap(bedrockerr.ProtocolViolation, "close deflate writer", err)
		}
	} else {
		out.WriteByte(byte(AlgorithmNone))
		out.Write(plain.Bytes())
	}
	return out.Bytes(), nil
}

// Decode splits a batch back into its inner packet frames, each returned as
// header ∥ body with its varuint32 length prefix removed (the form
// protocol.Registry.Decode parses). It tolerates a missing algorithm marker
// by heuristically trying raw DEFLATE, then plaintext.
func (c *Codec) Decode(data []byte) ([][]byte, error) {
	if c.opts.Framed {
		if len(data) == 0 || data[0] != GameFrameID {
			return nil, bedrockerr.New(bedrockerr.ProtocolViolation, "missing 0xFE batch id")
		}
		data = data[1:]
	}
	if len(data) == 0 {
		// Empty payload decodes to an empty packet list, not an error.
		return nil, nil
	}

	plain, err := c.decompress(data)
	if err != nil {
		return nil, err
	}
	return splitFrames(plain)
}

func (c *Codec) decompress(data []byte) ([]byte, error) {
	marker, rest := Algorithm(data[0]), data[1:]
	switch marker {
	case AlgorithmDeflate:
		return c.inflate(rest)
	case AlgorithmNone:
		return rest, nil
	default:
		// No recognizable marker: try DEFLATE over the whole buffer first,
		// then fall back to treating it as plaintext.
		if plain, err := c.inflate(data); err == nil {
			return plain, nil
		}
		return data, nil
	}
}

func (c *Codec) inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	limited := io.LimitReader(r, int64(c.opts.MaxDecompressedSize)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.DecompressionFailed, "inflate batch", err)
	}
	if len(out) > c.opts.MaxDecompressedSize {
		return nil, bedrockerr.New(bedrockerr.OversizeFrame, "decompressed batch exceeds limit")
	}
	return out, nil
}

func splitFrames(plain []byte) ([][]byte, error) {
	var frames [][]byte
	for len(plain) > 0 {
		length, n := binary.Uvarint(plain)
		if n <= 0 {
			return nil, bedrockerr.New(bedrockerr.ProtocolViolation, "truncated packet length varint")
		}
		plain = plain[n:]
		if uint64(len(plain)) < length {
			return nil, bedrockerr.New(bedrockerr.ProtocolViolation, "truncated packet frame")
		}
		frames = append(frames, plain[:length])
		plain = plain[length:]
	}
	return frames, nil
}

// EncodePacketFrame wraps a header+body pair with its varuint32 length
// prefix, producing one inner packet frame ready for Encode.
func EncodePacketFrame(header []byte, body []byte) []byte {
	payload := make([]byte, 0, len(header)+len(body))
	payload = append(payload, header...)
	payload = append(payload, body...)

	lenBuf := make([]byte, binary.MaxVarintLen32)
	n := binary.PutUvarint(lenBuf, uint64(len(payload)))

	out := make([]byte, 0, n+len(payload))
	out = append(out, lenBuf[:n]...)
	out = append(out, payload...)
	return out
}

// HeaderIDAndSubclients packs a packet id (low 10 bits) with from/to
// subclient ids (upper bits) into a varuint32 header.
func HeaderIDAndSubclients(id uint32, senderSubClient, targetSubClient uint8) []byte {
	header := (id & 0x3FF) | (uint32(senderSubClient)&0x3)<<10 | (uint32(targetSubClient)&0x3)<<12
	buf := make([]byte, binary.MaxVarintLen32)
	n := binary.PutUvarint(buf, uint64(header))
	return buf[:n]
}

// SplitHeader unpacks a varuint32 header into packet id and subclient ids.
func SplitHeader(header uint32) (id uint32, senderSubClient, targetSubClient uint8) {
	id = header & 0x3FF
	senderSubClient = uint8((header >> 10) & 0x3)
	targetSubClient = uint8((header >> 12) & 0x3)
	return
}
