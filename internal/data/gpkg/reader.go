// Package gpkg provides read-only access to the feature tables of an OGC GeoPackage.
//
// Only what the parcel loader needs is supported: one feature table, its
// geometry column, its SRS and the plain attribute columns.
package gpkg

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	_ "modernc.org/sqlite"
)

var (
	// ErrNoFeatureTable is returned when gpkg_contents lists no features table.
	ErrNoFeatureTable = errors.New("geopackage has no feature table")
	// ErrInvalidGeometry is returned for blobs that are not GeoPackage binary geometries.
	ErrInvalidGeometry = errors.New("invalid geopackage geometry blob")
)

// Layer describes the feature table that was read.
type Layer struct {
	Table          string
	GeometryColumn string
	SRSID          int
	// EPSG is the organization code of the SRS, or SRSID when the organization is not EPSG.
	EPSG int
}

// Dataset is the decoded content of one feature table.
type Dataset struct {
	Layer    Layer
	Features []*geojson.Feature
}

// Reader wraps an open GeoPackage.
type Reader struct {
	path string
	db   *sql.DB
}

// Open opens a GeoPackage read-only.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open geopackage: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open geopackage: %w", err)
	}
	return &Reader{path: path, db: db}, nil
}

// readOnlyDSN builds a read-only SQLite URI with the path escaped, so names
// containing '?', '#' or '%' reach the file system unchanged.
func readOnlyDSN(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
	return u.String()
}

// Close closes the underlying database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Layers returns the feature tables in gpkg_contents order.
func (r *Reader) Layers() ([]string, error) {
	rows, err := r.db.Query(`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Layer resolves geometry column and SRS for a table. An empty name selects the first feature table.
func (r *Reader) Layer(name string) (Layer, error) {
	if name == "" {
		layers, err := r.Layers()
		if err != nil {
			return Layer{}, err
		}
		if len(layers) == 0 {
			return Layer{}, ErrNoFeatureTable
		}
		name = layers[0]
	}

	l := Layer{Table: name}
	err := r.db.QueryRow(
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, name,
	).Scan(&l.GeometryColumn, &l.SRSID)
	if errors.Is(err, sql.ErrNoRows) {
		return Layer{}, fmt.Errorf("table %q: %w", name, ErrNoFeatureTable)
	}
	if err != nil {
		return Layer{}, fmt.Errorf("failed to read geometry column of %q: %w", name, err)
	}

	l.EPSG = l.SRSID
	var (
		org  sql.NullString
		code sql.NullInt64
	)
	err = r.db.QueryRow(
		`SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, l.SRSID,
	).Scan(&org, &code)
	if err == nil && strings.EqualFold(org.String, "EPSG") && code.Valid {
		l.EPSG = int(code.Int64)
	}
	return l, nil
}

// ReadLayer decodes every row of the named (or first) feature table.
func (r *Reader) ReadLayer(name string) (*Dataset, error) {
	layer, err := r.Layer(name)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT * FROM ` + quoteIdent(layer.Table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", layer.Table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Layer: layer}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %q: %w", layer.Table, err)
		}

		f := geojson.NewFeature(nil)
		for i, col := range columns {
			if strings.EqualFold(col, layer.GeometryColumn) {
				blob, _ := values[i].([]byte)
				if len(blob) == 0 {
					continue
				}
				g, err := DecodeGeometry(blob)
				if err != nil {
					return nil, fmt.Errorf("row %d of %q: %w", len(ds.Features)+1, layer.Table, err)
				}
				f.Geometry = g.Geometry
				continue
			}
			f.Properties[col] = normalizeValue(values[i])
		}
		if fid, ok := f.Properties["fid"]; ok {
			f.ID = fid
		}
		ds.Features = append(ds.Features, f)
	}
	return ds, rows.Err()
}

// Read opens path, reads one layer and closes the file.
func Read(path, layer string) (*Dataset, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadLayer(layer)
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	default:
		return x
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Geometry is a decoded GeoPackage binary geometry.
type Geometry struct {
	SRSID    int32
	Empty    bool
	Geometry orb.Geometry
}

// envelope sizes in bytes, indexed by the envelope indicator of the flags byte.
var envelopeSizes = [...]int{0, 32, 48, 48, 64}

// DecodeGeometry parses a GeoPackage binary geometry: header, optional envelope, then WKB.
func DecodeGeometry(blob []byte) (*Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, ErrInvalidGeometry
	}
	flags := blob[3]

	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 == 1 {
		order = binary.LittleEndian
	}

	indicator := int(flags>>1) & 0x07
	if indicator >= len(envelopeSizes) {
		return nil, fmt.Errorf("%w: envelope indicator %d", ErrInvalidGeometry, indicator)
	}
	offset := 8 + envelopeSizes[indicator]
	if len(blob) < offset {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidGeometry)
	}

	g := &Geometry{
		SRSID: int32(order.Uint32(blob[4:8])),
		Empty: flags&0x10 != 0,
	}
	if g.Empty && len(blob) == offset {
		return g, nil
	}

	geom, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	g.Geometry = geom
	return g, nil
}
