package generator

// Cell geometry : density is evaluated at 4x8x4 cell corners,
// then trilinearly interpolated across each cell's 4x8x4 = 128 interior
// block positions (horizontal cell size 4, vertical cell size 8).
const (
	CellWidth  = 4  // blocks per cell on X and Z
	CellHeight = 8  // blocks per cell on Y
)

// CellInterpolator evaluates one density-function tree over a chunk by
// sampling only at cell corners and trilinearly interpolating every block
// in between.
type CellInterpolator struct {
	arena *Arena
	root  NodeRef
}

// NewCellInterpolator binds an interpolator to one arena/root pair.
func NewCellInterpolator(arena *Arena, root NodeRef) *CellInterpolator {
	return &CellInterpolator{arena: arena, root: root}
}

// cornerValues are eight density samples at the corners of one cell, in
// the order (x,y,z), (x+1,y,z), (x,y,z+1), (x+1,y,z+1), (x,y+1,z),
// (x+1,y+1,z), (x,y+1,z+1), (x+1,y+1,z+1).
type cornerValues [8]float64

func (c *CellInterpolator) sampleCorners(cellX, cellY, cellZ int32) cornerValues {
	var v cornerValues
	i := 0
	for dy := int32(0); dy <= 1; dy++ {
		for dz := int32(0); dz <= 1; dz++ {
			for dx := int32(0); dx <= 1; dx++ {
				x := (cellX + dx) * CellWidth
				y := (cellY + dy) * CellHeight
				z := (cellZ + dz) * CellWidth
				v[cellCornerIndex(dx, dy, dz)] = c.arena.Eval(c.root, NewEvalContext(x, y, z))
				_ = i
			}
		}
	}
	return v
}

func cellCornerIndex(dx, dy, dz int32) int {
	return int(dy*4 + dz*2 + dx)
}

// EvalBlock returns the interpolated density at an absolute block position
// from the caller-supplied corner values of its enclosing cell, lerping
// along X, then Z, then Y.
func (c *CellInterpolator) EvalBlock(x, y, z int32, corners cornerValues) float64 {
	cellX, fx := floorDivMod(x, CellWidth)
	cellY, fy := floorDivMod(y, CellHeight)
	cellZ, fz := floorDivMod(z, CellWidth)
	_ = cellX
	_ = cellY
	_ = cellZ

	tx := float64(fx) / CellWidth
	ty := float64(fy) / CellHeight
	tz := float64(fz) / CellWidth

	c00 := lerp(tx, corners[cellCornerIndex(0, 0, 0)], corners[cellCornerIndex(1, 0, 0)])
	c01 := lerp(tx, corners[cellCornerIndex(0, 0, 1)], corners[cellCornerIndex(1, 0, 1)])
	c10 := lerp(tx, corners[cellCornerIndex(0, 1, 0)], corners[cellCornerIndex(1, 1, 0)])
	c11 := lerp(tx, corners[cellCornerIndex(0, 1, 1)], corners[cellCornerIndex(1, 1, 1)])

	c0 := lerp(tz, c00, c01)
	c1 := lerp(tz, c10, c11)

	return lerp(ty, c0, c1)
}

func floorDivMod(a, b int32) (q, r int32) {
	q = a / b
	r = a % b
	if r < 0 {
		q--
		r += b
	}
	return
}
