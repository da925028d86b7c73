package geo

import (
	orbgeo "github.com/paulmach/orb/geo"
)

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b LatLng) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point())
}
