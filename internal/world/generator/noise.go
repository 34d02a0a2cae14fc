package generator

import "math"

// OctavePerlin samples summed Perlin octaves, each seeded independently
// from the world seed via PositionalSeed, matching the reference
// generator's "sampled Perlin octaves" density source.
type OctavePerlin struct {
	octaves   []perlinOctave
	firstOct  int
	persist   float64
}

type perlinOctave struct {
	perm [256]byte
}

func newPerlinOctave(seed int64) perlinOctave {
	rng := NewXoroshiro128(seed)
	var o perlinOctave
	for i := range o.perm {
		o.perm[i] = byte(i)
	}
	for i := len(o.perm) - 1; i > 0; i-- {
		j := int(rng.Next() % uint64(i+1))
		o.perm[i], o.perm[j] = o.perm[j], o.perm[i]
	}
	return o
}

// NewOctavePerlin builds a multi-octave Perlin sampler. firstOctave is
// typically negative (coarser than block scale); octaveCount counts
// upward from it.
func NewOctavePerlin(worldSeed int64, firstOctave, octaveCount int) *OctavePerlin {
	octs := make([]perlinOctave, octaveCount)
	for i := 0; i < octaveCount; i++ {
		octs[i] = newPerlinOctave(PositionalSeed(worldSeed, int32(firstOctave+i), 0, 0))
	}
	return &OctavePerlin{octaves: octs, firstOct: firstOctave, persist: 0.5}
}

// Sample evaluates the summed octaves at (x,y,z), normalized to roughly
// [-1,1] by the 0.5 persistence falloff.
func (o *OctavePerlin) Sample(x, y, z float64) float64 {
	var sum, amp, freq float64 = 0, 1, math.Exp2(float64(o.firstOct))
	for i := range o.octaves {
		sum += o.octaves[i].noise3(x*freq, y*freq, z*freq) * amp
		amp *= o.persist
		freq *= 2
	}
	return sum
}

func (p *perlinOctave) noise3(x, y, z float64) float64 {
	xi := int(math.Floor(x)) & 255
	yi := int(math.Floor(y)) & 255
	zi := int(math.Floor(z)) & 255
	xf := x - math.Floor(x)
	yf := y - math.Floor(y)
	zf := z - math.Floor(z)

	u, v, w := fade(xf), fade(yf), fade(zf)

	hash := func(a, b, c int) byte {
		return p.perm[(int(p.perm[(int(p.perm[a&255])+b)&255])+c)&255]
	}

	a := hash(xi, yi, zi)
	b := hash(xi+1, yi, zi)
	c := hash(xi, yi+1, zi)
	d := hash(xi+1, yi+1, zi)
	e := hash(xi, yi, zi+1)
	f := hash(xi+1, yi, zi+1)
	g := hash(xi, yi+1, zi+1)
	h := hash(xi+1, yi+1, zi+1)

	return lerp(w,
		lerp(v, lerp(u, grad(a, xf, yf, zf), grad(b, xf-1, yf, zf)),
			lerp(u, grad(c, xf, yf-1, zf), grad(d, xf-1, yf-1, zf))),
		lerp(v, lerp(u, grad(e, xf, yf, zf-1), grad(f, xf-1, yf, zf-1)),
			lerp(u, grad(g, xf, yf-1, zf-1), grad(h, xf-1, yf-1, zf-1))))
}

func fade(t float64) float64 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(t, a, b float64) float64 { return a + t*(b-a) }

func grad(hash byte, x, y, z float64) float64 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	v := z
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	}
	res := 0.0
	if h&1 == 0 {
		res += u
	} else {
		res -= u
	}
	if h&2 == 0 {
		res += v
	} else {
		res -= v
	}
	return res
}
