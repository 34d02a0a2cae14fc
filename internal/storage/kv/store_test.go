package kv

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

func TestSaveThenLoadPlayerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Config{FlushInterval: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	id := uuid.New()
	rec := Record{
		UUID:      id,
		Username:  "Steve",
		Dimension: 0,
		Position:  mgl64.Vec3{12.5, 70, -4},
		Yaw:       90.5,
		Pitch:     -12,
	}

	ctx := context.Background()
	if err := s.SavePlayer(ctx, rec); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, Config{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.LoadPlayer(ctx, id)
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if got == nil {
		t.Fatal("expected record to be found after reopen")
	}
	if got.Username != rec.Username || got.Dimension != rec.Dimension {
		t.Fatalf("record mismatch: got %+v want %+v", got, rec)
	}
	if got.Position != rec.Position {
		t.Fatalf("position mismatch: got %v want %v", got.Position, rec.Position)
	}
	if got.Yaw != rec.Yaw || got.Pitch != rec.Pitch {
		t.Fatalf("rotation mismatch: got (%v,%v) want (%v,%v)", got.Yaw, got.Pitch, rec.Yaw, rec.Pitch)
	}
}

func TestLoadPlayerMissReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Config{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.LoadPlayer(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil record for a player that was never saved")
	}
}
