package parcels

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"
)

// Collection is an immutable, indexed set of parcels. It is safe for
// concurrent use. A nil *Collection behaves as an empty one.
type Collection struct {
	parcels []*Parcel
	opts    Options
	epsg    int
	source  string

	// tree holds parcel bounds keyed by parcel index.
	tree    rtree.RTreeG[int]
	bounds  orb.Bound
	summary Summary
}

func (c *Collection) index() {
	if len(c.parcels) > 0 {
		c.bounds = c.parcels[0].Bound
	}
	for _, p := range c.parcels {
		c.tree.Insert(p.Bound.Min, p.Bound.Max, p.Index)
		c.bounds = c.bounds.Union(p.Bound)
	}
	c.summary = summarize(c.parcels)
}

// Len returns the number of parcels.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.parcels)
}

// Parcel returns the parcel at index i, or nil when out of range.
func (c *Collection) Parcel(i int) *Parcel {
	if c == nil || i < 0 || i >= len(c.parcels) {
		return nil
	}
	return c.parcels[i]
}

// Parcels returns all parcels in load order. The slice must not be modified.
func (c *Collection) Parcels() []*Parcel {
	if c == nil {
		return nil
	}
	return c.parcels
}

// Bounds returns the union of all parcel bounds.
func (c *Collection) Bounds() orb.Bound {
	if c.Len() == 0 {
		return orb.Bound{}
	}
	return c.bounds
}

// Options returns the attribute roles the collection was built with.
func (c *Collection) Options() Options {
	if c == nil {
		return Options{}
	}
	return c.opts
}

func (c *Collection) CategoryAttribute() string       { return c.Options().CategoryAttribute }
func (c *Collection) ClassificationAttribute() string { return c.Options().ClassificationAttribute }
func (c *Collection) IDAttribute() string             { return c.Options().IDAttribute }

// SourceEPSG is the coordinate system the dataset was stored in before reprojection.
func (c *Collection) SourceEPSG() int {
	if c == nil {
		return 0
	}
	return c.epsg
}

// Source is the file the collection was loaded from, if any.
func (c *Collection) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Summary returns whole-dataset statistics computed at load time.
func (c *Collection) Summary() Summary {
	if c == nil {
		return Summary{}
	}
	return c.summary
}

// Candidates returns the indexes of parcels whose bound overlaps b, ascending.
func (c *Collection) Candidates(b orb.Bound) []int {
	if c.Len() == 0 {
		return nil
	}
	var out []int
	c.tree.Search(b.Min, b.Max, func(_, _ [2]float64, idx int) bool {
		out = append(out, idx)
		return true
	})
	sort.Ints(out)
	return out
}

// Intersecting returns the parcels whose geometry intersects b, ascending by index.
func (c *Collection) Intersecting(b orb.Bound) []*Parcel {
	var out []*Parcel
	for _, idx := range c.Candidates(b) {
		p := c.parcels[idx]
		if Intersects(p.Geometry, p.Bound, b) {
			out = append(out, p)
		}
	}
	return out
}
