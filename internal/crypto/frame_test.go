package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKeyIV(t *testing.T) ([32]byte, [12]byte) {
	t.Helper()
	var salt [16]byte
	var secret [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(secret[:]); err != nil {
		t.Fatal(err)
	}
	key := DeriveKey(salt[:], secret[:])
	return key, DerivedIV(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, iv := testKeyIV(t)
	send, err := NewDirection(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	recv, err := NewDirection(key, iv)
	if err != nil {
		t.Fatal(err)
	}

	plain := append([]byte{0xFE}, []byte("hello bedrock")...)
	enc, err := send.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := recv.Decrypt(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("roundtrip mismatch: got %x want %x", dec, plain)
	}
	if send.Counter() != 1 || recv.Counter() != 1 {
		t.Fatalf("expected both counters at 1, got send=%d recv=%d", send.Counter(), recv.Counter())
	}
}

func TestCounterAdvancesPerFrame(t *testing.T) {
	key, iv := testKeyIV(t)
	send, _ := NewDirection(key, iv)
	for i := 0; i < 5; i++ {
		if _, err := send.Encrypt([]byte{0xFE, byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if send.Counter() != 5 {
		t.Fatalf("expected counter 5, got %d", send.Counter())
	}
}

func TestChecksumMismatchIsFatal(t *testing.T) {
	key, iv := testKeyIV(t)
	send, _ := NewDirection(key, iv)
	recv, _ := NewDirection(key, iv)

	enc, err := send.Encrypt([]byte{0xFE, 0x01, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	enc[len(enc)-1] ^= 0xFF // corrupt the checksum tail
	if _, err := recv.Decrypt(enc); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestKeystreamAppliedTwiceIsIdentity(t *testing.T) {
	key, iv := testKeyIV(t)
	d, _ := NewDirection(key, iv)
	d2, _ := NewDirection(key, iv)

	data := []byte("the quick brown fox jumps over the lazy dog")
	once := make([]byte, len(data))
	d.XORKeyStream(once, data)
	twice := make([]byte, len(once))
	d2.XORKeyStream(twice, once)
	// Decrypting with a freshly seeded stream (same key/IV, zero offset)
	// reproduces the original only when XOR'd exactly once more from the
	// same starting offset; verify via a second independent direction here
	// since CTR streams are stateful.
	if bytes.Equal(once, data) {
		t.Fatal("keystream should have changed the data")
	}
	if !bytes.Equal(twice, data) {
		t.Fatalf("second XOR with fresh stream should undo the first: got %x want %x", twice, data)
	}
}
