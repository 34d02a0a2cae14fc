package generator

import "sort"

// SplinePoint is one control point of a Spline: an input coordinate and
// the output value at that coordinate.
type SplinePoint struct {
	Location float64
	Value    float64
}

// Spline evaluates a cubic Catmull-Rom curve through its control points
// , used to
// map a coarse density term (continentalness, erosion, ridges) onto a
// terrain-height contribution.
type Spline struct {
	points []SplinePoint
}

// NewSpline builds a Spline from control points, sorted by Location.
func NewSpline(points []SplinePoint) *Spline {
	sorted := append([]SplinePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Location < sorted[j].Location })
	return &Spline{points: sorted}
}

// Eval returns the curve's value at x, clamping to the endpoint values
// outside the control range.
func (s *Spline) Eval(x float64) float64 {
	pts := s.points
	switch len(pts) {
	case 0:
		return 0
	case 1:
		return pts[0].Value
	}

	if x <= pts[0].Location {
		return pts[0].Value
	}
	if x >= pts[len(pts)-1].Location {
		return pts[len(pts)-1].Value
	}

	i := sort.Search(len(pts), func(i int) bool { return pts[i].Location > x }) - 1
	if i < 0 {
		i = 0
	}
	if i > len(pts)-2 {
		i = len(pts) - 2
	}

	p0, p1 := pts[max0(i-1)], pts[i]
	p2, p3 := pts[i+1], pts[min0(i+2, len(pts)-1)]

	span := p2.Location - p1.Location
	if span == 0 {
		return p1.Value
	}
	t := (x - p1.Location) / span
	return catmullRom(p0.Value, p1.Value, p2.Value, p3.Value, t)
}

func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

func max0(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

func min0(i, max int) int {
	if i > max {
		return max
	}
	return i
}
