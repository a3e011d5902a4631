package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// Location is a caller-supplied position: either a literal coordinate or a
// region code resolved through the region table. The zero value is empty.
type Location struct {
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Region     string      `json:"region,omitempty"`
}

// At wraps a literal coordinate.
func At(lat, lon float64) Location {
	return Location{Coordinate: &Coordinate{Lat: lat, Lon: lon}}
}

// InRegion wraps a region code.
func InRegion(code string) Location {
	return Location{Region: code}
}

// IsZero reports whether l carries neither a coordinate nor a region.
func (l Location) IsZero() bool {
	return l.Coordinate == nil && l.Region == ""
}

// Resolve normalizes l to a coordinate. Literal coordinates pass through;
// region codes go through the region table. Unknown regions report false.
func (l Location) Resolve() (Coordinate, bool) {
	if l.Coordinate != nil {
		return *l.Coordinate, true
	}
	if l.Region != "" {
		return RegionCoordinate(l.Region)
	}
	return Coordinate{}, false
}

func (l Location) String() string {
	switch {
	case l.Coordinate != nil:
		return l.Coordinate.String()
	case l.Region != "":
		return "region:" + l.Region
	default:
		return "none"
	}
}

// ParseLocation reads "lat:lon" as a literal coordinate and anything else as a
// region code.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	latStr, lonStr, found := strings.Cut(s, ":")
	if !found {
		return InRegion(s), nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q: %w", lonStr, err)
	}
	return At(lat, lon), nil
}
