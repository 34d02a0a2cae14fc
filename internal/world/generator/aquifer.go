package generator

import "math"

// BlockKind is a coarse material classification the aquifer/surface
// stages operate on; the generator package stays agnostic to the actual
// block-id palette (declared elsewhere by the session's StartGame payload).
type BlockKind int

const (
	BlockAir BlockKind = iota
	BlockSolid
	BlockWater
	BlockLava
)

// aquiferGridXZ and aquiferGridY are the horizontal/vertical spacing of aquifer center
// candidates.
const (
	aquiferGridXZ = 16
	aquiferGridY  = 12
)

// AquiferCenter is one candidate fluid-level anchor within the aquifer
// grid.
type AquiferCenter struct {
	X, Y, Z int32
	IsLava  bool
}

// Aquifer decides, per block, between solid/fluid/air by blending the
// pressure contribution of the nearest aquifer centers.
type Aquifer struct {
	worldSeed int64
}

// NewAquifer builds an Aquifer for worldSeed.
func NewAquifer(worldSeed int64) *Aquifer { return &Aquifer{worldSeed: worldSeed} }

// centerFor derives the deterministic aquifer center for the grid cell
// containing (x,y,z), positional-noise-selected.
func (a *Aquifer) centerFor(gx, gy, gz int32) AquiferCenter {
	rng := NewXoroshiro128(PositionalSeed(a.worldSeed, gx, gy, gz))
	jitterX := int32(rng.NextFloat()*aquiferGridXZ) - aquiferGridXZ/2
	jitterY := int32(rng.NextFloat()*aquiferGridY) - aquiferGridY/2
	jitterZ := int32(rng.NextFloat()*aquiferGridXZ) - aquiferGridXZ/2
	isLava := rng.NextFloat() < 0.05 && gy*aquiferGridY < -32

	return AquiferCenter{
		X:      gx*aquiferGridXZ + jitterX,
		Y:      gy*aquiferGridY + jitterY,
		Z:      gz*aquiferGridXZ + jitterZ,
		IsLava: isLava,
	}
}

// nearestCenters returns the four aquifer centers in the 3x3x3
// neighborhood of grid cells around (x,y,z), nearest first.
func (a *Aquifer) nearestCenters(x, y, z int32) []AquiferCenter {
	gx := floorDiv32(x, aquiferGridXZ)
	gy := floorDiv32(y, aquiferGridY)
	gz := floorDiv32(z, aquiferGridXZ)

	type scored struct {
		c    AquiferCenter
		dist float64
	}
	var candidates []scored
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				c := a.centerFor(gx+dx, gy+dy, gz+dz)
				ddx := float64(c.X - x)
				ddy := float64(c.Y - y)
				ddz := float64(c.Z - z)
				candidates = append(candidates, scored{c, ddx*ddx + ddy*ddy + ddz*ddz})
			}
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].dist < candidates[i].dist {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	out := make([]AquiferCenter, 0, 4)
	for i := 0; i < 4 && i < len(candidates); i++ {
		out = append(out, candidates[i].c)
	}
	return out
}

func floorDiv32(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Classify decides between solid/fluid/air for one block given its raw
// density.
func (a *Aquifer) Classify(x, y, z int32, density float64) BlockKind {
	if density > 0 {
		return BlockSolid
	}

	centers := a.nearestCenters(x, y, z)
	if len(centers) == 0 {
		return BlockAir
	}

	var weightedLevel, weightSum float64
	isLava := false
	for _, c := range centers {
		dx := float64(c.X - x)
		dy := float64(c.Y - y)
		dz := float64(c.Z - z)
		dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
		weight := 1.0 / (1.0 + dist)
		weightedLevel += float64(c.Y) * weight
		weightSum += weight
		if c.IsLava && dist < aquiferGridXZ {
			isLava = true
		}
	}
	if weightSum == 0 {
		return BlockAir
	}
	fluidLevel := weightedLevel / weightSum

	if float64(y) <= fluidLevel {
		if isLava {
			return BlockLava
		}
		return BlockWater
	}
	return BlockAir
}
