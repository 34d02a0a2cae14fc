package column

import (
	"context"
	"testing"
	"time"

	"github.com/unastar/bedrock-core/internal/world/chunk"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir, Config{FlushInterval: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	pos := chunk.Coord{X: 2, Z: -3, Dimension: 0}
	col := &chunk.Column{
		Coord:     pos,
		SubChunks: [][]uint32{{1, 2, 3, 4}, {5, 6, 7, 8}},
		BiomeGrid: []uint8{1, 2, 3, 4, 5},
		Generated: true,
	}

	if err := p.SaveColumn(ctx, pos, col); err != nil {
		t.Fatalf("SaveColumn: %v", err)
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Force a cache miss by reopening against the same directory.
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p2, err := Open(dir, Config{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	got, err := p2.LoadColumn(ctx, pos)
	if err != nil {
		t.Fatalf("LoadColumn: %v", err)
	}
	if got == nil {
		t.Fatal("expected column to be found after reopen")
	}
	if len(got.SubChunks) != len(col.SubChunks) {
		t.Fatalf("subchunk count mismatch: got %d want %d", len(got.SubChunks), len(col.SubChunks))
	}
	for i := range col.SubChunks {
		for j := range col.SubChunks[i] {
			if got.SubChunks[i][j] != col.SubChunks[i][j] {
				t.Fatalf("subchunk %d block %d mismatch: got %d want %d", i, j, got.SubChunks[i][j], col.SubChunks[i][j])
			}
		}
	}
	if len(got.BiomeGrid) != len(col.BiomeGrid) {
		t.Fatalf("biome grid length mismatch: got %d want %d", len(got.BiomeGrid), len(col.BiomeGrid))
	}
}

func TestLoadColumnMissReturnsNil(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir, Config{}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	got, err := p.LoadColumn(context.Background(), chunk.Coord{X: 99, Z: 99})
	if err != nil {
		t.Fatalf("LoadColumn: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil column for a coordinate that was never saved")
	}
}

func TestMortonDistinguishesNearbyCoords(t *testing.T) {
	a := Morton(0, 0, 0)
	b := Morton(1, 0, 0)
	c := Morton(0, 1, 0)
	if a == b || a == c || b == c {
		t.Fatal("expected distinct Morton keys for distinct coordinates")
	}
}
