// Package crypto implements the per-direction AES-256-CTR stream cipher and
// SHA-256 truncated checksum that sit between the batch codec and the
// transport.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"

	atomicx "github.com/df-mc/atomic"

	"github.com/unastar/bedrock-core/internal/bedrockerr"
)

// ivSuffix is appended to the 12-byte derived IV to build the 16-byte AES-CTR
// IV.
var ivSuffix = [4]byte{0x00, 0x00, 0x00, 0x02}

// checksumLen is the number of checksum bytes appended to each frame.
const checksumLen = 8

// Direction is one half of a session's crypto state: either the stream used
// to encrypt outbound frames or the one used to decrypt inbound frames.
type Direction struct {
	key     [32]byte
	stream  cipher.Stream
	counter atomicx.Uint64
}

// NewDirection builds a Direction from a 32-byte key and a 12-byte derived
// IV, seeding an independent AES-256-CTR keystream.
func NewDirection(key [32]byte, derivedIV [12]byte) (*Direction, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, bedrockerr.Wrap(bedrockerr.CryptoFailure, "create aes cipher", err)
	}
	var iv [16]byte
	copy(iv[:12], derivedIV[:])
	copy(iv[12:], ivSuffix[:])
	return &Direction{key: key, stream: cipher.NewCTR(block, iv[:])}, nil
}

// Counter returns the number of frames processed so far on this direction.
func (d *Direction) Counter() uint64 { return d.counter.Load() }

// checksum computes SHA-256(counter_le(8) ∥ plaintext[1:] ∥ key)[:8], the
// frame's authentication tag.
func (d *Direction) checksum(counter uint64, plaintextAfterFirstByte []byte) [checksumLen]byte {
	h := sha256.New()
	var counterLE [8]byte
	binary.LittleEndian.PutUint64(counterLE[:], counter)
	h.Write(counterLE[:])
	h.Write(plaintextAfterFirstByte)
	h.Write(d.key[:])
	sum := h.Sum(nil)
	var out [checksumLen]byte
	copy(out[:], sum[:checksumLen])
	return out
}

// Encrypt appends the checksum to frame (whose byte 0 is the untouched batch
// id) then XORs everything past byte 0 with the keystream, incrementing the
// send counter.
func (d *Direction) Encrypt(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, bedrockerr.New(bedrockerr.CryptoFailure, "cannot encrypt empty frame")
	}
	counter := d.counter.Load()
	sum := d.checksum(counter, frame[1:])

	out := make([]byte, len(frame)+checksumLen)
	copy(out, frame)
	copy(out[len(frame):], sum[:])

	d.stream.XORKeyStream(out[1:], out[1:])
	d.counter.Add(1)
	return out, nil
}

// Decrypt reverses Encrypt: XOR past byte 0, split the trailing checksum,
// recompute it against the receive counter, and constant-time compare. A
// mismatch is a fatal ChecksumMismatch error.
func (d *Direction) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < 1+checksumLen {
		return nil, bedrockerr.New(bedrockerr.ChecksumMismatch, "frame too short to carry a checksum")
	}
	plain := make([]byte, len(frame))
	copy(plain, frame)
	d.stream.XORKeyStream(plain[1:], plain[1:])

	payloadLen := len(plain) - checksumLen
	payload, tag := plain[:payloadLen], plain[payloadLen:]

	counter := d.counter.Load()
	expected := d.checksum(counter, payload[1:])
	if subtle.ConstantTimeCompare(expected[:], tag) != 1 {
		return nil, bedrockerr.New(bedrockerr.ChecksumMismatch, "crypto frame checksum mismatch")
	}
	d.counter.Add(1)
	return payload, nil
}

// XORKeyStream implements transport.CipherStream so a Direction can be
// installed directly as a transport-level cipher when no checksum framing is
// required (e.g. NetherNet which rides its own reliable channel integrity).
func (d *Direction) XORKeyStream(dst, src []byte) { d.stream.XORKeyStream(dst, src) }

// DeriveKey computes key = SHA-256(salt ∥ sharedSecret)
// SecurePending.
func DeriveKey(salt, sharedSecret []byte) [32]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(sharedSecret)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DerivedIV returns the first 12 bytes of key as the AES-CTR IV.
func DerivedIV(key [32]byte) [12]byte {
	var iv [12]byte
	copy(iv[:], key[:12])
	return iv
}
