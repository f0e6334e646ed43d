// Package aggregate validates per-tile feature collections and merges them
// into combined outputs.
package aggregate

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// crsWGS84 is the coordinate reference system stamped onto every surviving
// collection (geographic, EPSG:4326).
var crsWGS84 = map[string]interface{}{
	"type": "name",
	"properties": map[string]interface{}{
		"name": "urn:ogc:def:crs:EPSG::4326",
	},
}

// NewCollection returns an empty feature collection stamped with the
// pipeline's fixed CRS.
func NewCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	stampCRS(fc)
	return fc
}

func stampCRS(fc *geojson.FeatureCollection) {
	if fc.ExtraMembers == nil {
		fc.ExtraMembers = map[string]interface{}{}
	}
	fc.ExtraMembers["crs"] = crsWGS84
}

// ValidateAndMerge parses a raw GeoJSON collection, drops records whose
// geometry is missing or invalid, and stamps the survivors with the fixed
// CRS. An empty or unparseable input yields an empty collection; the parse
// error is returned alongside so the caller can record the cause without
// failing the tile.
func ValidateAndMerge(raw []byte) (*geojson.FeatureCollection, error) {
	if len(raw) == 0 {
		return NewCollection(), nil
	}

	parsed, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return NewCollection(), fmt.Errorf("geometry validation failed: %w", err)
	}

	out := NewCollection()
	for _, f := range parsed.Features {
		if f == nil || !validGeometry(f.Geometry) {
			continue
		}
		out.Features = append(out.Features, f)
	}

	return out, nil
}

// validGeometry applies standard polygon/line validity rules: lines need at
// least two points, rings must be closed with at least four points, and
// polygons must enclose a non-zero area.
func validGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return false
	case orb.Point:
		return true
	case orb.MultiPoint:
		return len(g) > 0
	case orb.LineString:
		return len(g) >= 2
	case orb.MultiLineString:
		if len(g) == 0 {
			return false
		}
		for _, ls := range g {
			if len(ls) < 2 {
				return false
			}
		}
		return true
	case orb.Ring:
		return validRing(g)
	case orb.Polygon:
		return validPolygon(g)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return false
		}
		for _, p := range g {
			if !validPolygon(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		if len(g) == 0 {
			return false
		}
		for _, sub := range g {
			if !validGeometry(sub) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func validRing(r orb.Ring) bool {
	return len(r) >= 4 && r.Closed()
}

func validPolygon(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, ring := range p {
		if !validRing(ring) {
			return false
		}
	}
	return planar.Area(p) != 0
}
