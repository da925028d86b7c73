package geo

import (
	"github.com/paulmach/orb/geojson"
)

// Placemark is a labelled position for GeoJSON export.
type Placemark struct {
	ID         string
	Position   LatLng
	Properties map[string]interface{}
}

// ToGeoJSON exports placemarks as a feature collection of points.
func ToGeoJSON(marks []Placemark) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range marks {
		f := geojson.NewFeature(m.Position.Point())
		f.ID = m.ID
		for k, v := range m.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}
