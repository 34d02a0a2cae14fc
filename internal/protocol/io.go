// Package protocol holds the generated-style packet encoders/decoders: one
// pair per packet id, dispatched by the batch inner header. The
// field table types (varint, zigzag varint, LE fixed
// widths, length-prefixed strings and byte slices) are implemented as Writer/
// Reader helper methods, the way sandertv/gophertunnel's protocol.IO does.
package protocol

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// Writer serializes packet fields into a byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Uint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }
func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

// Varuint32 writes an unsigned LEB128 varint.
func (w *Writer) Varuint32(v uint32) {
	var b [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(b[:], uint64(v))
	w.buf = append(w.buf, b[:n]...)
}

// Varint32 writes a zigzag-encoded signed varint.
func (w *Writer) Varint32(v int32) { w.Varuint32(uint32((v << 1) ^ (v >> 31))) }

// Varuint64 writes an unsigned LEB128 varint.
func (w *Writer) Varuint64(v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	w.buf = append(w.buf, b[:n]...)
}

// Varint64 writes a zigzag-encoded signed varint.
func (w *Writer) Varint64(v int64) { w.Varuint64(uint64((v << 1) ^ (v >> 63))) }

// String writes a varuint32-length-prefixed UTF-8 string.
func (w *Writer) String(v string) {
	w.Varuint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// ByteSlice writes a varuint32-length-prefixed byte slice.
func (w *Writer) ByteSlice(v []byte) {
	w.Varuint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// Reader deserializes packet fields from a byte buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps data for sequential field reads.
func NewReader(data []byte) *Reader { return &Reader{buf: data} }

func (r *Reader) remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.remaining() < n {
		return bedrockerr.New(bedrockerr.ProtocolViolation, "packet buffer truncated")
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	return v != 0, err
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

func (r *Reader) Varuint32() (uint32, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, bedrockerr.New(bedrockerr.ProtocolViolation, "truncated varuint32")
	}
	r.off += n
	return uint32(v), nil
}

func (r *Reader) Varint32() (int32, error) {
	u, err := r.Varuint32()
	if err != nil {
		return 0, err
	}
	return int32(u>>1) ^ -int32(u&1), nil
}

func (r *Reader) Varuint64() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, bedrockerr.New(bedrockerr.ProtocolViolation, "truncated varuint64")
	}
	r.off += n
	return v, nil
}

func (r *Reader) Varint64() (int64, error) {
	u, err := r.Varuint64()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

func (r *Reader) String() (string, error) {
	n, err := r.Varuint32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *Reader) ByteSlice() ([]byte, error) {
	n, err := r.Varuint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return v, nil
}

// Done reports whether every byte of the buffer was consumed.
func (r *Reader) Done() bool { return r.remaining() == 0 }

var _ io.Reader = (*bufReader)(nil)

type bufReader struct{ r *Reader }

func (b *bufReader) Read(p []byte) (int, error) {
	if err := b.r.need(len(p)); err != nil {
		return 0, io.EOF
	}
	n := copy(p, b.r.buf[b.r.off:])
	b.r.off += n
	return n, nil
}
