package generator

// SurfaceContext carries everything a surface rule needs to decide a
// block's final material, independent of the raw density value: biome,
// stone depth, water depth, slope, and random vertical gradients.
type SurfaceContext struct {
	X, Y, Z    int32
	Biome      string
	StoneDepth int32 // blocks of solid material above this position
	WaterDepth int32 // blocks of water above this position, 0 if none
	Steep      bool
	Rand       *Xoroshiro128 // seeded per-column, for bedrock/deepslate gradients
}

// SurfaceCondition reports whether a rule applies to ctx.
type SurfaceCondition func(ctx *SurfaceContext) bool

// SurfaceRule is one entry in a short-circuit sequence: if Condition
// matches (or is nil, meaning unconditional), Block is returned; otherwise
// evaluation falls through to the next rule in the Sequence.
type SurfaceRule struct {
	Condition SurfaceCondition
	Block     string
}

// Sequence evaluates rules in order, returning the first match's Block, or
// fallback if none match.
func Sequence(rules []SurfaceRule, ctx *SurfaceContext, fallback string) string {
	for _, r := range rules {
		if r.Condition == nil || r.Condition(ctx) {
			return r.Block
		}
	}
	return fallback
}

// StoneDepthAtMost matches when the column has at most n blocks of solid
// material above this position (used for grass/dirt top layers).
func StoneDepthAtMost(n int32) SurfaceCondition {
	return func(ctx *SurfaceContext) bool { return ctx.StoneDepth <= n }
}

// Underwater matches when there is any water above this position.
func Underwater() SurfaceCondition {
	return func(ctx *SurfaceContext) bool { return ctx.WaterDepth > 0 }
}

// SteepSlope matches on the steep-terrain flag.
func SteepSlope() SurfaceCondition {
	return func(ctx *SurfaceContext) bool { return ctx.Steep }
}

// BiomeIs matches a specific biome id.
func BiomeIs(biome string) SurfaceCondition {
	return func(ctx *SurfaceContext) bool { return ctx.Biome == biome }
}

// BedrockGradient matches with probability decreasing across
// [worldBottom, worldBottom+thickness), the randomized bedrock/deepslate
// transition band.
func BedrockGradient(worldBottom, thickness int32) SurfaceCondition {
	return func(ctx *SurfaceContext) bool {
		if ctx.Y < worldBottom || ctx.Y >= worldBottom+thickness {
			return false
		}
		if ctx.Rand == nil {
			return false
		}
		threshold := 1.0 - float64(ctx.Y-worldBottom)/float64(thickness)
		return ctx.Rand.NextFloat() < threshold
	}
}

// DefaultSurfaceRules returns a representative overworld-style rule
// sequence: bedrock gradient, then underwater sand, then steep-slope stone
// exposure, then grass_block at stone depth 0, then dirt within stone depth
// 3, then deepslate below Y -48. Positions no rule matches get the caller's
// fallback block.
func DefaultSurfaceRules() []SurfaceRule {
	return []SurfaceRule{
		{Condition: BedrockGradient(-64, 5), Block: "bedrock"},
		{Condition: func(ctx *SurfaceContext) bool { return Underwater()(ctx) && StoneDepthAtMost(3)(ctx) }, Block: "sand"},
		{Condition: func(ctx *SurfaceContext) bool { return SteepSlope()(ctx) && StoneDepthAtMost(1)(ctx) }, Block: "stone"},
		{Condition: StoneDepthAtMost(0), Block: "grass_block"},
		{Condition: StoneDepthAtMost(3), Block: "dirt"},
		{Condition: func(ctx *SurfaceContext) bool { return ctx.Y < -48 }, Block: "deepslate"},
	}
}
