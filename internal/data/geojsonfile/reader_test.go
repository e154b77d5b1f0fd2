package geojsonfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoParcels = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"English_Name": "Maize", "gsa_par_id": "IT-1"},
     "geometry": {"type": "Polygon", "coordinates": [[[10,45],[10.01,45],[10.01,45.01],[10,45.01],[10,45]]]}},
    {"type": "Feature", "properties": {"English_Name": "Olive", "gsa_par_id": "IT-2"},
     "geometry": {"type": "Polygon", "coordinates": [[[10.02,45],[10.03,45],[10.03,45.01],[10.02,45.01],[10.02,45]]]}}
  ]
}`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRead_Plain(t *testing.T) {
	ds, err := Read(writeFile(t, "parcels.geojson", []byte(twoParcels)))
	require.NoError(t, err)

	assert.Len(t, ds.Features, 2)
	assert.Equal(t, 4326, ds.EPSG)
	assert.Equal(t, "Maize", ds.Features[0].Properties["English_Name"])
}

func TestRead_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(twoParcels))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ds, err := Read(writeFile(t, "parcels.geojson.gz", buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, ds.Features, 2)
}

func TestRead_Zstd(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(twoParcels), nil)
	require.NoError(t, enc.Close())

	ds, err := Read(writeFile(t, "parcels.geojson.zst", compressed))
	require.NoError(t, err)
	assert.Len(t, ds.Features, 2)
}

func TestDecode_LegacyCRSMember(t *testing.T) {
	doc := `{"type": "FeatureCollection",
	  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32632"}},
	  "features": []}`

	ds, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 32632, ds.EPSG)
	assert.Empty(t, ds.Features)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"type": "FeatureCollection", "features": [`))
	assert.Error(t, err)
}

func TestSupported(t *testing.T) {
	tests := map[string]bool{
		"a.geojson":     true,
		"a.json":        true,
		"a.GEOJSON.gz":  true,
		"a.geojson.zst": true,
		"a.gpkg":        false,
		"a.shp":         false,
	}
	for path, want := range tests {
		assert.Equal(t, want, Supported(path), path)
	}
}
