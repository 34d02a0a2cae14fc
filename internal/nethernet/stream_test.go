package nethernet

import (
	"testing"
	"time"

	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/transport"
)

func newTestStream() *Stream {
	return &Stream{
		log:     logging.New("test"),
		frameCh: make(chan transport.Frame, 16),
	}
}

func TestUnsplitMessagePassesThrough(t *testing.T) {
	s := newTestStream()
	s.onReliableMessage(append([]byte{0}, []byte("hello")...))
	select {
	case f := <-s.frameCh:
		if string(f.Payload) != "hello" {
			t.Fatalf("got %q", f.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestFragmentedReassembly(t *testing.T) {
	s := newTestStream()
	s.onReliableMessage(append([]byte{2}, []byte("foo")...))
	s.onReliableMessage(append([]byte{1}, []byte("bar")...))
	s.onReliableMessage(append([]byte{0}, []byte("baz")...))
	select {
	case f := <-s.frameCh:
		if string(f.Payload) != "foobarbaz" {
			t.Fatalf("got %q", f.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}

func TestReassemblyResetsOnDeviation(t *testing.T) {
	s := newTestStream()
	s.onReliableMessage(append([]byte{3}, []byte("foo")...))
	// Deviates: jumps straight to 0 instead of decrementing by exactly one.
	s.onReliableMessage(append([]byte{0}, []byte("bar")...))
	select {
	case f := <-s.frameCh:
		t.Fatalf("expected dropped message after deviation, got %q", f.Payload)
	case <-time.After(50 * time.Millisecond):
	}
	if s.inReassembly {
		t.Fatal("expected reassembly state reset after deviation")
	}
}
