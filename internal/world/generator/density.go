package generator

import "math"

// Kind tags a Node's evaluation rule. The node kinds mirror the reference
// density-function operation set.
type Kind int

const (
	KindConstant Kind = iota
	KindAdd
	KindMul
	KindMin
	KindMax
	KindAbs
	KindSquare
	KindCube
	KindHalfNegative
	KindQuarterNegative
	KindClamp
	KindSqueeze
	KindYClampedGradient
	KindNoise
	KindShiftedNoise
	KindShiftA
	KindShiftB
	KindFlatCache
	KindCache2D
	KindCacheOnce
	KindInterpolated
	KindBlendAlpha
	KindBlendOffset
	KindBlendDensity
	KindRangeChoice
	KindSpline
	KindWeirdScaledSampler
	KindOldBlendedNoise
	KindEndIslands
	KindFindTopSurface
)

// NodeRef indexes into an Arena; the zero value refers to the first node
// added to the arena.
type NodeRef int

// Node is one entry in the density-function arena. Only the fields
// relevant to Kind are populated; this mirrors a tagged union without
// needing per-kind Go types; references to operands are arena indices so
// the whole tree lives in one contiguous slice.
type Node struct {
	Kind Kind

	Const float64

	A, B NodeRef // binary/unary operand(s); B unused for unary kinds

	ClampMin, ClampMax float64

	FromY, ToY             int32
	FromValue, ToValue     float64

	Noise *OctavePerlin
	Scale float64 // horizontal/vertical input scale applied before sampling

	RangeMin, RangeMax   float64
	RangeThen, RangeElse NodeRef

	Spline *Spline

	WeirdScaleAmp float64
}

// Arena owns every Node in one density-function tree. Building a tree
// appends nodes and returns the NodeRef of the root; evaluation walks refs
// recursively.
type Arena struct {
	nodes []Node
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

func (a *Arena) add(n Node) NodeRef {
	a.nodes = append(a.nodes, n)
	return NodeRef(len(a.nodes) - 1)
}

// Constant adds a node that always evaluates to v.
func (a *Arena) Constant(v float64) NodeRef { return a.add(Node{Kind: KindConstant, Const: v}) }

// Add, Mul, Min, Max combine two operand refs.
func (a *Arena) Add(x, y NodeRef) NodeRef { return a.add(Node{Kind: KindAdd, A: x, B: y}) }
func (a *Arena) Mul(x, y NodeRef) NodeRef { return a.add(Node{Kind: KindMul, A: x, B: y}) }
func (a *Arena) Min(x, y NodeRef) NodeRef { return a.add(Node{Kind: KindMin, A: x, B: y}) }
func (a *Arena) Max(x, y NodeRef) NodeRef { return a.add(Node{Kind: KindMax, A: x, B: y}) }

// Abs, Square, Cube, HalfNegative, QuarterNegative, Squeeze are unary
// transforms.
func (a *Arena) Abs(x NodeRef) NodeRef             { return a.add(Node{Kind: KindAbs, A: x}) }
func (a *Arena) Square(x NodeRef) NodeRef          { return a.add(Node{Kind: KindSquare, A: x}) }
func (a *Arena) Cube(x NodeRef) NodeRef            { return a.add(Node{Kind: KindCube, A: x}) }
func (a *Arena) HalfNegative(x NodeRef) NodeRef    { return a.add(Node{Kind: KindHalfNegative, A: x}) }
func (a *Arena) QuarterNegative(x NodeRef) NodeRef { return a.add(Node{Kind: KindQuarterNegative, A: x}) }

// Squeeze clamps to [-1,1] then applies x/2 - x^3/24.
func (a *Arena) Squeeze(x NodeRef) NodeRef { return a.add(Node{Kind: KindSqueeze, A: x}) }

// Clamp bounds x's output to [lo,hi].
func (a *Arena) Clamp(x NodeRef, lo, hi float64) NodeRef {
	return a.add(Node{Kind: KindClamp, A: x, ClampMin: lo, ClampMax: hi})
}

// YClampedGradient linearly interpolates between fromValue and toValue as
// the evaluated Y ranges over [fromY,toY], clamped outside that range.
func (a *Arena) YClampedGradient(fromY, toY int32, fromValue, toValue float64) NodeRef {
	return a.add(Node{Kind: KindYClampedGradient, FromY: fromY, ToY: toY, FromValue: fromValue, ToValue: toValue})
}

// Noise samples an OctavePerlin at (x*scale, y*scale, z*scale).
func (a *Arena) Noise(n *OctavePerlin, scale float64) NodeRef {
	return a.add(Node{Kind: KindNoise, Noise: n, Scale: scale})
}

// ShiftA/ShiftB sample 2D (XZ-only) noise used to perturb other nodes'
// input coordinates before they sample.
func (a *Arena) ShiftA(n *OctavePerlin, scale float64) NodeRef {
	return a.add(Node{Kind: KindShiftA, Noise: n, Scale: scale})
}
func (a *Arena) ShiftB(n *OctavePerlin, scale float64) NodeRef {
	return a.add(Node{Kind: KindShiftB, Noise: n, Scale: scale})
}

// ShiftedNoise samples n at a position whose X is shifted by shiftX's output
// and whose Z is shifted by shiftZ's output.
func (a *Arena) ShiftedNoise(n *OctavePerlin, scale float64, shiftX, shiftZ NodeRef) NodeRef {
	return a.add(Node{Kind: KindShiftedNoise, Noise: n, Scale: scale, A: shiftX, B: shiftZ})
}

// FlatCache wraps x so its value is cached per (X,Z) and reused across
// every Y in a column — the flat-cache grid precomputed once per chunk.
func (a *Arena) FlatCache(x NodeRef) NodeRef { return a.add(Node{Kind: KindFlatCache, A: x}) }

// Cache2D is a lighter per-(X,Z) memo without the full chunk-wide grid.
func (a *Arena) Cache2D(x NodeRef) NodeRef { return a.add(Node{Kind: KindCache2D, A: x}) }

// CacheOnce memoizes x's value for the lifetime of a single evaluation
// context (one cell corner).
func (a *Arena) CacheOnce(x NodeRef) NodeRef { return a.add(Node{Kind: KindCacheOnce, A: x}) }

// Interpolated marks x to participate in the cell-corner trilinear
// interpolator rather than being evaluated at every block.
func (a *Arena) Interpolated(x NodeRef) NodeRef { return a.add(Node{Kind: KindInterpolated, A: x}) }

// BlendAlpha/BlendOffset/BlendDensity model the old-new chunk border blend
// terms. No blending context exists here: BlendAlpha always evaluates to 1,
// BlendOffset to 0, and BlendDensity passes its operand through unchanged.
func (a *Arena) BlendAlpha() NodeRef          { return a.add(Node{Kind: KindBlendAlpha, Const: 1}) }
func (a *Arena) BlendOffset() NodeRef         { return a.add(Node{Kind: KindBlendOffset, Const: 0}) }
func (a *Arena) BlendDensity(x NodeRef) NodeRef { return a.add(Node{Kind: KindBlendDensity, A: x}) }

// RangeChoice evaluates selector; if its value falls in [lo,hi) it
// evaluates then, else else_.
func (a *Arena) RangeChoice(selector NodeRef, lo, hi float64, then, elseRef NodeRef) NodeRef {
	return a.add(Node{Kind: KindRangeChoice, A: selector, RangeMin: lo, RangeMax: hi, RangeThen: then, RangeElse: elseRef})
}

// SplineNode evaluates s against x's output.
func (a *Arena) SplineNode(x NodeRef, s *Spline) NodeRef {
	return a.add(Node{Kind: KindSpline, A: x, Spline: s})
}

// WeirdScaledSampler samples n at x's output scaled by amp, the "weird
// scaled" noise sampler used for cave-like features.
func (a *Arena) WeirdScaledSampler(x NodeRef, n *OctavePerlin, amp float64) NodeRef {
	return a.add(Node{Kind: KindWeirdScaledSampler, A: x, Noise: n, WeirdScaleAmp: amp})
}

// OldBlendedNoise is the legacy low/high/selector three-octave blend used
// to keep pre-1.18-style terrain continuity at chunk borders.
func (a *Arena) OldBlendedNoise(n *OctavePerlin, scale float64) NodeRef {
	return a.add(Node{Kind: KindOldBlendedNoise, Noise: n, Scale: scale})
}

// EndIslands evaluates the End dimension's island falloff function.
func (a *Arena) EndIslands() NodeRef { return a.add(Node{Kind: KindEndIslands}) }

// FindTopSurface scans x downward from the context's Y to locate the
// highest position whose density is positive; used by surface rules that
// need "depth below surface" rather than raw density.
func (a *Arena) FindTopSurface(x NodeRef) NodeRef {
	return a.add(Node{Kind: KindFindTopSurface, A: x})
}

// EvalContext is the position (and per-corner caches) a Node evaluates
// against.
type EvalContext struct {
	X, Y, Z int32

	flatCache map[NodeRef]map[[2]int32]float64
	cache2D   map[NodeRef]map[[2]int32]float64
	onceCache map[NodeRef]float64
}

// NewEvalContext builds a context for one position.
func NewEvalContext(x, y, z int32) *EvalContext {
	return &EvalContext{
		X: x, Y: y, Z: z,
		flatCache: make(map[NodeRef]map[[2]int32]float64),
		cache2D:   make(map[NodeRef]map[[2]int32]float64),
		onceCache: make(map[NodeRef]float64),
	}
}

// At returns a copy of ctx repositioned to a new (x,y,z), sharing the
// flat/2D caches (they are keyed by XZ so reuse across Y is exactly the
// point) but with a fresh once-cache.
func (ctx *EvalContext) At(x, y, z int32) *EvalContext {
	return &EvalContext{
		X: x, Y: y, Z: z,
		flatCache: ctx.flatCache,
		cache2D:   ctx.cache2D,
		onceCache: make(map[NodeRef]float64),
	}
}

// Eval walks the arena from ref and computes its value at ctx's position.
func (a *Arena) Eval(ref NodeRef, ctx *EvalContext) float64 {
	n := &a.nodes[ref]
	switch n.Kind {
	case KindConstant:
		return n.Const
	case KindAdd:
		return a.Eval(n.A, ctx) + a.Eval(n.B, ctx)
	case KindMul:
		return a.Eval(n.A, ctx) * a.Eval(n.B, ctx)
	case KindMin:
		return math.Min(a.Eval(n.A, ctx), a.Eval(n.B, ctx))
	case KindMax:
		return math.Max(a.Eval(n.A, ctx), a.Eval(n.B, ctx))
	case KindAbs:
		return math.Abs(a.Eval(n.A, ctx))
	case KindSquare:
		v := a.Eval(n.A, ctx)
		return v * v
	case KindCube:
		v := a.Eval(n.A, ctx)
		return v * v * v
	case KindHalfNegative:
		v := a.Eval(n.A, ctx)
		if v > 0 {
			return v
		}
		return v * 0.5
	case KindQuarterNegative:
		v := a.Eval(n.A, ctx)
		if v > 0 {
			return v
		}
		return v * 0.25
	case KindClamp:
		return clampF(a.Eval(n.A, ctx), n.ClampMin, n.ClampMax)
	case KindSqueeze:
		e := clampF(a.Eval(n.A, ctx), -1, 1)
		return e*0.5 - e*e*e/24.0
	case KindYClampedGradient:
		return yClampedGradient(ctx.Y, n.FromY, n.ToY, n.FromValue, n.ToValue)
	case KindNoise:
		return n.Noise.Sample(float64(ctx.X)*n.Scale, float64(ctx.Y)*n.Scale, float64(ctx.Z)*n.Scale)
	case KindShiftA:
		return n.Noise.Sample(float64(ctx.X)*n.Scale, 0, float64(ctx.Z)*n.Scale)
	case KindShiftB:
		return n.Noise.Sample(float64(ctx.Z)*n.Scale, float64(ctx.X)*n.Scale, 0)
	case KindShiftedNoise:
		dx := a.Eval(n.A, ctx)
		dz := a.Eval(n.B, ctx)
		return n.Noise.Sample((float64(ctx.X)+dx)*n.Scale, float64(ctx.Y)*n.Scale, (float64(ctx.Z)+dz)*n.Scale)
	case KindFlatCache:
		return a.cachedXZ(ctx.flatCache, ref, n.A, ctx)
	case KindCache2D:
		return a.cachedXZ(ctx.cache2D, ref, n.A, ctx)
	case KindCacheOnce:
		if v, ok := ctx.onceCache[ref]; ok {
			return v
		}
		v := a.Eval(n.A, ctx)
		ctx.onceCache[ref] = v
		return v
	case KindInterpolated:
		return a.Eval(n.A, ctx)
	case KindBlendAlpha:
		return 1
	case KindBlendOffset:
		return 0
	case KindBlendDensity:
		return a.Eval(n.A, ctx)
	case KindRangeChoice:
		v := a.Eval(n.A, ctx)
		if v >= n.RangeMin && v < n.RangeMax {
			return a.Eval(n.RangeThen, ctx)
		}
		return a.Eval(n.RangeElse, ctx)
	case KindSpline:
		return n.Spline.Eval(a.Eval(n.A, ctx))
	case KindWeirdScaledSampler:
		v := a.Eval(n.A, ctx)
		scaled := n.WeirdScaleAmp / (v + 4)
		return n.Noise.Sample(float64(ctx.X)*scaled, float64(ctx.Y)*scaled, float64(ctx.Z)*scaled)
	case KindOldBlendedNoise:
		return n.Noise.Sample(float64(ctx.X)*n.Scale, float64(ctx.Y)*n.Scale*0.5, float64(ctx.Z)*n.Scale)
	case KindEndIslands:
		return endIslandsFalloff(ctx.X, ctx.Z)
	case KindFindTopSurface:
		return a.findTopSurface(n.A, ctx)
	default:
		return 0
	}
}

func (a *Arena) cachedXZ(cache map[NodeRef]map[[2]int32]float64, self, operand NodeRef, ctx *EvalContext) float64 {
	key := [2]int32{ctx.X, ctx.Z}
	if byKey, ok := cache[self]; ok {
		if v, ok := byKey[key]; ok {
			return v
		}
	} else {
		cache[self] = make(map[[2]int32]float64)
	}
	v := a.Eval(operand, ctx)
	cache[self][key] = v
	return v
}

// findTopSurface scans downward from ctx.Y for the highest block whose
// density is still positive ("solid"), used by surface rules needing
// depth-below-surface rather than raw density.
func (a *Arena) findTopSurface(operand NodeRef, ctx *EvalContext) float64 {
	const worldBottom = -64
	for y := ctx.Y; y >= worldBottom; y-- {
		if a.Eval(operand, ctx.At(ctx.X, y, ctx.Z)) > 0 {
			return float64(y)
		}
	}
	return float64(worldBottom)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func yClampedGradient(y, fromY, toY int32, fromValue, toValue float64) float64 {
	if y <= fromY {
		return fromValue
	}
	if y >= toY {
		return toValue
	}
	t := float64(y-fromY) / float64(toY-fromY)
	return fromValue + t*(toValue-fromValue)
}

// endIslandsFalloff approximates the End dimension's island-density
// falloff as a function of horizontal distance from the origin.
func endIslandsFalloff(x, z int32) float64 {
	d := math.Sqrt(float64(x)*float64(x) + float64(z)*float64(z))
	return clampF(1-(d/1024.0), -1, 1)
}
