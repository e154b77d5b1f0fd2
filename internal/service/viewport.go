package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// Viewport is a lon/lat rectangle requested by a map client.
type Viewport struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Valid reports whether all bounds are finite, North >= South and East >= West.
// Rectangles crossing the antimeridian are not supported.
func (v Viewport) Valid() bool {
	for _, x := range []float64{v.North, v.South, v.East, v.West} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return v.North >= v.South && v.East >= v.West
}

// Bound converts the viewport to an orb.Bound.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{v.West, v.South}, Max: orb.Point{v.East, v.North}}
}

// Round rounds every bound to the given number of decimals.
func (v Viewport) Round(decimals int) Viewport {
	p := math.Pow10(decimals)
	r := func(x float64) float64 { return math.Round(x*p) / p }
	return Viewport{North: r(v.North), South: r(v.South), East: r(v.East), West: r(v.West)}
}

// String formats the viewport as "north,south,east,west" with four decimals.
func (v Viewport) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", v.North, v.South, v.East, v.West)
}

// Request is one viewport query.
type Request struct {
	Viewport    Viewport
	MaxFeatures int
	// Categories restricts matches to these category values. nil means no
	// filter, an empty non-nil slice matches nothing.
	Categories []string
}

// Key identifies a memoized query: the rounded viewport, the clamped cap and the filter.
type Key struct {
	North, South, East, West float64
	MaxFeatures              int
	Filtered                 bool
	Categories               string
}

func (k Key) Viewport() Viewport {
	return Viewport{North: k.North, South: k.South, East: k.East, West: k.West}
}

func (k Key) String() string {
	s := fmt.Sprintf("%v/%v/%v/%v/%d", k.North, k.South, k.East, k.West, k.MaxFeatures)
	if k.Filtered {
		s += "?" + k.Categories
	}
	return s
}

const categorySep = "\x1f"

func filterKey(categories []string) string {
	c := append([]string(nil), categories...)
	sort.Strings(c)
	out := c[:0]
	for i, v := range c {
		if i == 0 || v != c[i-1] {
			out = append(out, v)
		}
	}
	return strings.Join(out, categorySep)
}

func filterSet(key string) map[string]struct{} {
	set := make(map[string]struct{})
	if key == "" {
		return set
	}
	for _, v := range strings.Split(key, categorySep) {
		set[v] = struct{}{}
	}
	return set
}
