package parcels

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/agromap/server/internal/crs"
	"github.com/agromap/server/internal/data/geojsonfile"
	"github.com/agromap/server/internal/data/gpkg"
)

// Load reads a .gpkg or .geojson/.json (optionally .gz/.zst) parcel dataset.
// Every failure is a *LoadError.
func Load(path string, opts Options) (*Collection, error) {
	if opts.CategoryAttribute == "" {
		return nil, loadErrf(path, ErrUnresolvedAttribute, "no category attribute configured")
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, loadErr(path, ErrNotFound, nil)
	}
	if err != nil {
		return nil, loadErr(path, ErrUnparseable, err)
	}
	if info.IsDir() {
		return nil, loadErrf(path, ErrUnparseable, "is a directory")
	}
	if info.Size() == 0 {
		return nil, loadErr(path, ErrEmpty, nil)
	}

	features, epsg, err := readFeatures(path, opts.Layer)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, loadErr(path, ErrUnparseable, err)
	}

	c, err := FromFeatures(features, epsg, opts)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	c.source = path
	return c, nil
}

func readFeatures(path, layer string) ([]*geojson.Feature, int, error) {
	switch {
	case strings.EqualFold(filepath.Ext(path), ".gpkg"):
		ds, err := gpkg.Read(path, layer)
		if errors.Is(err, gpkg.ErrNoFeatureTable) {
			return nil, 0, loadErr(path, ErrEmpty, err)
		}
		if err != nil {
			return nil, 0, err
		}
		return ds.Features, ds.Layer.EPSG, nil

	case geojsonfile.Supported(path):
		ds, err := geojsonfile.Read(path)
		if errors.Is(err, crs.ErrUnsupported) {
			return nil, 0, loadErr(path, ErrUnsupportedCRS, err)
		}
		if err != nil {
			return nil, 0, err
		}
		return ds.Features, ds.EPSG, nil
	}
	return nil, 0, fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
}

// FromFeatures builds a collection from decoded features in the given EPSG system.
// Geometries are reprojected in place.
func FromFeatures(features []*geojson.Feature, epsg int, opts Options) (*Collection, error) {
	if opts.CategoryAttribute == "" {
		return nil, loadErrf("", ErrUnresolvedAttribute, "no category attribute configured")
	}

	tr, err := crs.ForEPSG(epsg)
	if err != nil {
		return nil, loadErr("", ErrUnsupportedCRS, err)
	}

	var polys []*geojson.Feature
	schema := make(map[string]struct{})
	for _, f := range features {
		if f == nil || !isPolygonal(f.Geometry) {
			continue
		}
		polys = append(polys, f)
		for k := range f.Properties {
			schema[k] = struct{}{}
		}
	}
	if len(polys) == 0 {
		return nil, loadErr("", ErrEmpty, nil)
	}

	for _, role := range opts.roles() {
		if _, ok := schema[role]; !ok {
			return nil, loadErrf("", ErrUnresolvedAttribute, "column %q", role)
		}
	}

	c := &Collection{
		parcels: make([]*Parcel, 0, len(polys)),
		opts:    opts,
		epsg:    epsg,
	}
	for i, f := range polys {
		g := crs.Reproject(f.Geometry, tr)
		p := &Parcel{
			Index:      i,
			Geometry:   g,
			Bound:      g.Bound(),
			Category:   attrString(f.Properties[opts.CategoryAttribute]),
			Properties: map[string]any(f.Properties),
		}
		p.Centroid = centroid(g, p.Bound)
		if opts.ClassificationAttribute != "" {
			p.Classification = attrString(f.Properties[opts.ClassificationAttribute])
		}
		p.ID = parcelID(f, opts.IDAttribute, i)
		c.parcels = append(c.parcels, p)
	}

	c.index()
	return c, nil
}

func isPolygonal(g orb.Geometry) bool {
	switch x := g.(type) {
	case orb.Polygon:
		return len(x) > 0 && len(x[0]) > 0
	case orb.MultiPolygon:
		for _, p := range x {
			if len(p) > 0 && len(p[0]) > 0 {
				return true
			}
		}
	}
	return false
}

// centroid returns the area-weighted centroid, kept inside the parcel bound
// so the pre-filter margin stays a valid superset.
func centroid(g orb.Geometry, b orb.Bound) orb.Point {
	c, area := planar.CentroidArea(g)
	if area == 0 || !b.Contains(c) {
		return b.Center()
	}
	return c
}

func parcelID(f *geojson.Feature, attr string, i int) string {
	if attr != "" {
		if id := attrString(f.Properties[attr]); id != "" {
			return id
		}
	}
	if f.ID != nil {
		if id := attrString(f.ID); id != "" {
			return id
		}
	}
	return strconv.Itoa(i)
}
