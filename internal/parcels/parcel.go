// Package parcels loads agricultural parcel datasets into an immutable,
// spatially indexed collection in WGS84 degrees.
package parcels

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
)

// Parcel is one land unit. Geometry is an orb.Polygon or orb.MultiPolygon in lon/lat.
type Parcel struct {
	Index          int
	ID             string
	Geometry       orb.Geometry
	Bound          orb.Bound
	Centroid       orb.Point
	Category       string
	Classification string
	Properties     map[string]any
}

// Options maps logical attribute roles to dataset columns.
type Options struct {
	// CategoryAttribute is the column aggregated per viewport (e.g. crop name). Required.
	CategoryAttribute string
	// ClassificationAttribute is an optional second categorical column.
	ClassificationAttribute string
	// IDAttribute is the parcel identifier column. The feature id or row
	// number is used when empty.
	IDAttribute string
	// Layer selects a GeoPackage feature table. The first one is used when empty.
	Layer string
}

func (o Options) roles() []string {
	roles := []string{o.CategoryAttribute}
	if o.ClassificationAttribute != "" {
		roles = append(roles, o.ClassificationAttribute)
	}
	if o.IDAttribute != "" {
		roles = append(roles, o.IDAttribute)
	}
	return roles
}

// attrString renders a property value as a category label. Null values yield "".
func attrString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
