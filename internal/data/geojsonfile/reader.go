// Package geojsonfile reads parcel FeatureCollections from (optionally compressed) GeoJSON files.
package geojsonfile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"github.com/agromap/server/internal/crs"
)

// Dataset is the decoded content of a GeoJSON file.
type Dataset struct {
	Features []*geojson.Feature
	// EPSG is taken from a legacy "crs" member; RFC 7946 files are always 4326.
	EPSG int
}

// Supported reports whether path looks like a GeoJSON file this package can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(trimCompression(path))) {
	case ".geojson", ".json":
		return true
	}
	return false
}

func trimCompression(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range []string{".gz", ".zst"} {
		if strings.HasSuffix(lower, ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}

// Read loads a FeatureCollection, transparently decompressing .gz and .zst files.
func Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := readAll(f, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(data)
}

func readAll(r io.Reader, ext string) ([]byte, error) {
	switch ext {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case ".zst":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	}
	return io.ReadAll(r)
}

type legacyCRS struct {
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// Decode parses a FeatureCollection document.
func Decode(data []byte) (*Dataset, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("invalid feature collection: %w", err)
	}

	ds := &Dataset{Features: fc.Features, EPSG: crs.WGS84}

	raw, ok := fc.ExtraMembers["crs"]
	if !ok || raw == nil {
		return ds, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid crs member: %w", err)
	}
	var member legacyCRS
	if err := json.Unmarshal(b, &member); err != nil {
		return nil, fmt.Errorf("invalid crs member: %w", err)
	}
	code, err := crs.ParseName(member.Properties.Name)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		ds.EPSG = code
	}
	return ds, nil
}
