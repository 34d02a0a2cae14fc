package generator

import (
	"context"

	"github.com/unastar/bedrock-core/internal/world/chunk"
)

const (
	worldBottom   = -64
	worldTop      = 320
	worldHeight   = worldTop - worldBottom
	subChunkSize  = 16
	subChunkCount = worldHeight / subChunkSize
)

// Palette maps the surface rule system's material names to the runtime
// block ids a connected session actually understands (declared by that
// session's StartGame payload).
type Palette struct {
	Named map[string]uint32
	Air   uint32
	Water uint32
	Lava  uint32
}

// ID resolves name to a runtime id, falling back to Air for anything the
// palette doesn't carry rather than failing generation outright.
func (p Palette) ID(name string) uint32 {
	if id, ok := p.Named[name]; ok {
		return id
	}
	return p.Air
}

// WorldGenerator implements chunk.Generator by combining a density-function
// tree, an aquifer, and a surface rule sequence into one per-chunk pass.
type WorldGenerator struct {
	seed    int64
	arena   *Arena
	root    NodeRef
	aquifer *Aquifer
	rules   []SurfaceRule
	palette Palette
}

// NewWorldGenerator builds the default overworld-shaped density tree:
// continentalness and erosion noise combined through a spline into a base
// terrain height, squeezed and offset by a Y-clamped gradient so far-above-
// surface and far-below-bedrock evaluate to strongly negative/positive
// density respectively.
func NewWorldGenerator(seed int64, palette Palette) *WorldGenerator {
	arena := NewArena()

	continentalness := NewOctavePerlin(seed, -7, 4)
	erosion := NewOctavePerlin(seed^0x5DEECE66D, -6, 3)
	detail := NewOctavePerlin(seed^0x2545F4914F6CDD1D, -4, 6)

	contNode := arena.Noise(continentalness, 1.0/256)
	erosionNode := arena.Noise(erosion, 1.0/384)

	heightSpline := NewSpline([]SplinePoint{
		{Location: -1.0, Value: -48},
		{Location: -0.4, Value: -8},
		{Location: 0.0, Value: 64},
		{Location: 0.4, Value: 96},
		{Location: 1.0, Value: 140},
	})
	baseHeight := arena.SplineNode(contNode, heightSpline)

	erosionSpline := NewSpline([]SplinePoint{
		{Location: -1.0, Value: 1.3},
		{Location: 0.0, Value: 1.0},
		{Location: 1.0, Value: 0.6},
	})
	erosionFactor := arena.SplineNode(erosionNode, erosionSpline)

	gradient := arena.YClampedGradient(worldBottom, worldTop, 1, -1)
	detailNode := arena.Noise(detail, 1.0/64)
	detailScaled := arena.Mul(detailNode, arena.Constant(0.2))

	shaped := arena.Mul(arena.Add(gradient, arena.Mul(baseHeight, arena.Constant(0.02))), erosionFactor)
	withDetail := arena.Add(shaped, detailScaled)
	squeezed := arena.Squeeze(withDetail)

	root := arena.FlatCache(arena.Interpolated(squeezed))

	return &WorldGenerator{
		seed:    seed,
		arena:   arena,
		root:    root,
		aquifer: NewAquifer(seed),
		rules:   DefaultSurfaceRules(),
		palette: palette,
	}
}

// Generate fills a full-height column for pos: density evaluated at cell
// corners and trilinearly interpolated per block (CellInterpolator),
// classified into air/solid/water/lava (Aquifer), then the top of each
// column rewritten by the surface rule sequence.
func (g *WorldGenerator) Generate(ctx context.Context, pos chunk.Coord) (*chunk.Column, error) {
	baseX := pos.X * subChunkSize
	baseZ := pos.Z * subChunkSize

	kinds := newBlockGrid()
	g.fillDensity(baseX, baseZ, &kinds)

	materials := newMaterialGrid()
	g.applySurfaceRules(baseX, baseZ, &kinds, &materials)

	col := &chunk.Column{
		Coord:     pos,
		SubChunks: make([][]uint32, subChunkCount),
		BiomeGrid: make([]uint8, subChunkCount*4*4*4),
		Generated: true,
	}
	for sc := 0; sc < subChunkCount; sc++ {
		ids := make([]uint32, subChunkSize*subChunkSize*subChunkSize)
		for ly := 0; ly < subChunkSize; ly++ {
			globalY := sc*subChunkSize + ly
			for lz := 0; lz < subChunkSize; lz++ {
				for lx := 0; lx < subChunkSize; lx++ {
					idx := (ly*subChunkSize+lz)*subChunkSize + lx
					ids[idx] = g.resolveID(kinds[lx][globalY][lz], materials[lx][globalY][lz])
				}
			}
		}
		col.SubChunks[sc] = ids
	}
	return col, nil
}

func (g *WorldGenerator) resolveID(kind BlockKind, material string) uint32 {
	if material != "" {
		return g.palette.ID(material)
	}
	switch kind {
	case BlockWater:
		return g.palette.Water
	case BlockLava:
		return g.palette.Lava
	case BlockSolid:
		return g.palette.ID("stone")
	default:
		return g.palette.Air
	}
}

func newBlockGrid() [subChunkSize][worldHeight][subChunkSize]BlockKind {
	return [subChunkSize][worldHeight][subChunkSize]BlockKind{}
}

func newMaterialGrid() [subChunkSize][worldHeight][subChunkSize]string {
	return [subChunkSize][worldHeight][subChunkSize]string{}
}

func (g *WorldGenerator) fillDensity(baseX, baseZ int32, kinds *[subChunkSize][worldHeight][subChunkSize]BlockKind) {
	interp := NewCellInterpolator(g.arena, g.root)

	cellsX := subChunkSize / CellWidth
	cellsZ := subChunkSize / CellWidth
	cellsY := worldHeight / CellHeight

	baseCellX := floorDiv32(baseX, CellWidth)
	baseCellZ := floorDiv32(baseZ, CellWidth)
	baseCellY := floorDiv32(worldBottom, CellHeight)

	for cy := 0; cy < cellsY; cy++ {
		for cz := 0; cz < cellsZ; cz++ {
			for cx := 0; cx < cellsX; cx++ {
				corners := interp.sampleCorners(baseCellX+int32(cx), baseCellY+int32(cy), baseCellZ+int32(cz))
				for dy := 0; dy < CellHeight; dy++ {
					y := worldBottom + cy*CellHeight + dy
					for dz := 0; dz < CellWidth; dz++ {
						z := baseZ + int32(cz*CellWidth+dz)
						for dx := 0; dx < CellWidth; dx++ {
							x := baseX + int32(cx*CellWidth+dx)
							density := interp.EvalBlock(x, int32(y), z, corners)
							kinds[cx*CellWidth+dx][y-worldBottom][cz*CellWidth+dz] = g.aquifer.Classify(x, int32(y), z, density)
						}
					}
				}
			}
		}
	}
}

func (g *WorldGenerator) applySurfaceRules(baseX, baseZ int32, kinds *[subChunkSize][worldHeight][subChunkSize]BlockKind, materials *[subChunkSize][worldHeight][subChunkSize]string) {
	topY := [subChunkSize][subChunkSize]int32{}
	for lx := 0; lx < subChunkSize; lx++ {
		for lz := 0; lz < subChunkSize; lz++ {
			topY[lx][lz] = worldBottom
			for ly := worldHeight - 1; ly >= 0; ly-- {
				if kinds[lx][ly][lz] == BlockSolid {
					topY[lx][lz] = int32(ly) + worldBottom
					break
				}
			}
		}
	}

	for lx := 0; lx < subChunkSize; lx++ {
		for lz := 0; lz < subChunkSize; lz++ {
			steep := isSteep(topY, lx, lz)
			rng := NewXoroshiro128(PositionalSeed(g.seed, baseX+int32(lx), 0, baseZ+int32(lz)))

			var stoneDepth, waterDepth int32
			for ly := worldHeight - 1; ly >= 0; ly-- {
				switch kinds[lx][ly][lz] {
				case BlockWater:
					waterDepth++
				case BlockLava:
				case BlockSolid:
					sctx := &SurfaceContext{
						X: baseX + int32(lx), Y: int32(ly) + worldBottom, Z: baseZ + int32(lz),
						StoneDepth: stoneDepth, WaterDepth: waterDepth, Steep: steep, Rand: rng,
					}
					materials[lx][ly][lz] = Sequence(g.rules, sctx, "stone")
					stoneDepth++
				}
			}
		}
	}
}

// isSteep flags a column whose topmost solid block differs sharply in
// height from its horizontal neighbors within the same chunk ; it only considers in-chunk neighbors, which is enough
// to drive the surface rule sequence's exposed-stone case.
func isSteep(topY [subChunkSize][subChunkSize]int32, lx, lz int) bool {
	const steepThreshold = 4
	h := topY[lx][lz]
	for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		nx, nz := lx+d[0], lz+d[1]
		if nx < 0 || nx >= subChunkSize || nz < 0 || nz >= subChunkSize {
			continue
		}
		if abs32(topY[nx][nz]-h) >= steepThreshold {
			return true
		}
	}
	return false
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
