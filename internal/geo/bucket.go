package geo

import (
	"math"

	"github.com/uber/h3-go/v4"
)

// BucketResolution is H3 resolution 5 (~252 km² hexagons). Coordinates are
// reported as buckets so exact node locations stay out of logs and API output.
const BucketResolution = 5

// Bucket is a coarse H3 cell with its centroid.
type Bucket struct {
	H3Index  string     `json:"h3_index"`
	Centroid Coordinate `json:"centroid"`
}

// BucketOf returns the H3 bucket containing c. Returns false for coordinates
// outside the valid ranges.
func BucketOf(c Coordinate) (Bucket, bool) {
	if !IsValid(c) {
		return Bucket{}, false
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lon), BucketResolution)
	if err != nil || cell == 0 {
		return Bucket{}, false
	}
	centroid, err := h3.CellToLatLng(cell)
	if err != nil {
		return Bucket{}, false
	}
	return Bucket{
		H3Index:  cell.String(),
		Centroid: Coordinate{Lat: centroid.Lat, Lon: centroid.Lng},
	}, true
}

// IsValid validates geographic coordinates.
func IsValid(c Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
