// Package geo holds the coordinate model shared by every placement component:
// Coordinate values, the static region table, caller-supplied Location values
// and great-circle distance.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// Coordinate is a latitude/longitude pair in degrees. Ranges are not enforced.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

func rad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine great-circle distance between a and b in km.
// The sqrt term is clamped to 1 so floating point overshoot near antipodal
// points cannot push asin out of its domain.
func Distance(a, b Coordinate) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
