// Package chunk implements the coord→column map and its provider contract:
// get-or-create with in-flight generation dedup, backed by an external
// load/save/flush/close provider.
package chunk

import "context"

// Coord identifies a 16x384x16 column by chunk-grid X/Z and dimension.
type Coord struct {
	X, Z      int32
	Dimension int32
}

// Column is one generated or loaded chunk's block data. The block palette
// referenced by SubChunks is declared by the session's StartGame payload.
type Column struct {
	Coord      Coord
	SubChunks  [][]uint32 // one runtime-id slice per 16x16x16 subchunk, bottom to top
	BiomeGrid  []uint8    // one biome id per 4x4x4 subchunk cell, flattened
	Generated  bool       // true if produced by the generator rather than loaded
}

// Provider is the external collaborator that durably persists and restores
// columns . Implementations must be safe for
// concurrent use.
type Provider interface {
	LoadColumn(ctx context.Context, pos Coord) (*Column, error)
	SaveColumn(ctx context.Context, pos Coord, col *Column) error
	Flush(ctx context.Context) error
	Close() error
}

// Generator produces a Column that was never persisted, for LoadColumn
// misses.
type Generator interface {
	Generate(ctx context.Context, pos Coord) (*Column, error)
}
