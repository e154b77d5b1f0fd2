// Package crs converts projected parcel coordinates to geographic WGS84 degrees.
package crs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/wroge/wgs84"
)

// WGS84 is the EPSG code every loaded dataset ends up in.
const WGS84 = 4326

// ErrUnsupported is returned for coordinate systems without a known inverse.
var ErrUnsupported = errors.New("unsupported coordinate reference system")

// Transformer maps a coordinate of a source system to lon/lat degrees.
type Transformer interface {
	ToWGS84(p orb.Point) orb.Point
	// Identity reports whether ToWGS84 leaves coordinates untouched.
	Identity() bool
}

type identity struct{}

func (identity) ToWGS84(p orb.Point) orb.Point { return p }
func (identity) Identity() bool                { return true }

// transform runs a wgs84 conversion at zero height.
type transform struct {
	fn wgs84.Func
}

func (t transform) ToWGS84(p orb.Point) orb.Point {
	lon, lat, _ := t.fn(p[0], p[1], 0)
	return orb.Point{lon, lat}
}

func (transform) Identity() bool { return false }

// Monte Mario (Rome 1940) on the International 1924 ellipsoid, shifted to
// WGS84 with the Italy mainland parameters (EPSG:1660).
var monteMario = wgs84.Helmert(6378388, 297, -104.1, -49.1, -9.9, 0.971, -2.917, 0.714, -11.68)

var registry = newRegistry()

func newRegistry() *wgs84.Repository {
	r := wgs84.EPSG()
	r.Add(3785, wgs84.WebMercator())
	r.Add(102100, wgs84.WebMercator())
	// RDN2008 / UTM zones 32N-34N
	for zone := 32; zone <= 34; zone++ {
		r.Add(6675+zone, wgs84.ETRS89UTM(float64(zone)))
	}
	r.Add(4265, monteMario.LonLat())
	r.Add(3003, monteMario.TransverseMercator(9, 0, 0.9996, 1500000, 0))
	r.Add(3004, monteMario.TransverseMercator(15, 0, 0.9996, 2520000, 0))
	return r
}

// ForEPSG returns the transformer for an EPSG code.
// Codes <= 0 mean "undefined" in GeoPackage and are treated as geographic.
func ForEPSG(code int) (Transformer, error) {
	switch {
	case code <= 0, code == WGS84, code == 4258, code == 4019, code == 6706:
		return identity{}, nil
	}
	src := registry.Code(code)
	if src == nil {
		return nil, fmt.Errorf("EPSG:%d: %w", code, ErrUnsupported)
	}
	return transform{fn: wgs84.Transform(src, wgs84.LonLat())}, nil
}

var epsgPattern = regexp.MustCompile(`(?i)EPSG:{1,2}(?:[0-9.]*:)?(\d+)$`)

// ParseName extracts an EPSG code from names such as "EPSG:32632",
// "urn:ogc:def:crs:EPSG::3857" or "urn:ogc:def:crs:OGC:1.3:CRS84".
func ParseName(name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	if strings.HasSuffix(strings.ToUpper(name), "CRS84") {
		return WGS84, nil
	}
	m := epsgPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("crs name %q: %w", name, ErrUnsupported)
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("crs name %q: %w", name, err)
	}
	return code, nil
}

// Reproject converts every coordinate of g in place and returns it.
func Reproject(g orb.Geometry, t Transformer) orb.Geometry {
	if g == nil || t == nil || t.Identity() {
		return g
	}
	return project.Geometry(g, t.ToWGS84)
}
