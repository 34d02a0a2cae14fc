package generator

import (
	"context"
	"testing"

	"github.com/unastar/bedrock-core/internal/world/chunk"
)

func testPalette() Palette {
	return Palette{
		Air:   0,
		Water: 1,
		Lava:  2,
		Named: map[string]uint32{
			"stone":       3,
			"dirt":        4,
			"grass_block": 5,
			"sand":        6,
			"bedrock":     7,
			"deepslate":   8,
		},
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := NewWorldGenerator(42, testPalette())
	pos := chunk.Coord{X: 3, Z: -2, Dimension: 0}

	a, err := g.Generate(context.Background(), pos)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g.Generate(context.Background(), pos)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(a.SubChunks) != len(b.SubChunks) {
		t.Fatalf("subchunk count mismatch: %d vs %d", len(a.SubChunks), len(b.SubChunks))
	}
	for i := range a.SubChunks {
		if len(a.SubChunks[i]) != len(b.SubChunks[i]) {
			t.Fatalf("subchunk %d length mismatch", i)
		}
		for j := range a.SubChunks[i] {
			if a.SubChunks[i][j] != b.SubChunks[i][j] {
				t.Fatalf("subchunk %d block %d differs between runs: %d vs %d", i, j, a.SubChunks[i][j], b.SubChunks[i][j])
			}
		}
	}
}

func TestGenerateProducesFullHeightRange(t *testing.T) {
	g := NewWorldGenerator(7, testPalette())
	col, err := g.Generate(context.Background(), chunk.Coord{X: 0, Z: 0})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(col.SubChunks) != subChunkCount {
		t.Fatalf("expected %d subchunks, got %d", subChunkCount, len(col.SubChunks))
	}
	for i, sc := range col.SubChunks {
		if len(sc) != subChunkSize*subChunkSize*subChunkSize {
			t.Fatalf("subchunk %d has %d blocks, want %d", i, len(sc), subChunkSize*subChunkSize*subChunkSize)
		}
	}
	if !col.Generated {
		t.Fatal("expected Generated to be true for a freshly generated column")
	}
}

func TestGenerateDeepestSubChunkIsMostlySolidOrBedrock(t *testing.T) {
	g := NewWorldGenerator(99, testPalette())
	col, err := g.Generate(context.Background(), chunk.Coord{X: 5, Z: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	bottom := col.SubChunks[0]
	airCount := 0
	for _, id := range bottom {
		if id == 0 {
			airCount++
		}
	}
	if airCount == len(bottom) {
		t.Fatal("bottommost subchunk is entirely air, expected mostly solid ground near the world floor")
	}
}
