package parcels

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether a polygonal geometry with bound gb shares at least
// one point with the rectangle b. Boundaries count as intersecting.
func Intersects(g orb.Geometry, gb orb.Bound, b orb.Bound) bool {
	if !gb.Intersects(b) {
		return false
	}
	// bound fully inside the rectangle
	if b.Contains(gb.Min) && b.Contains(gb.Max) {
		return true
	}

	switch x := g.(type) {
	case orb.Polygon:
		return polygonIntersects(x, b)
	case orb.MultiPolygon:
		for _, p := range x {
			if polygonIntersects(p, b) {
				return true
			}
		}
	}
	return false
}

func polygonIntersects(p orb.Polygon, b orb.Bound) bool {
	for _, r := range p {
		if ringTouches(r, b) {
			return true
		}
	}
	// No ring reaches the rectangle: either it lies entirely within the
	// polygon or they are disjoint.
	return len(p) > 0 && planar.PolygonContains(p, b.Center())
}

// ringTouches reports whether any edge of r has a point in the closed rectangle b.
func ringTouches(r orb.Ring, b orb.Bound) bool {
	if len(r) == 0 {
		return false
	}
	ls := orb.LineString(r)
	if !r.Closed() {
		ls = append(ls[:len(ls):len(ls)], r[0])
	}
	return len(clip.LineString(b, ls)) > 0
}
