package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection renders the grid as GeoJSON points with a "value"
// property. Absent cells carry a null value.
func (g *Grid) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range g.Cells {
		f := geojson.NewFeature(orb.Point{c.Lon, c.Lat})
		if math.IsNaN(c.Value) {
			f.Properties["value"] = nil
		} else {
			f.Properties["value"] = c.Value
		}
		fc.Append(f)
	}
	return fc
}
