package geo

import (
	"math"
	"testing"

	"github.com/golang/geo/s2"
)

func TestDistanceSymmetric(t *testing.T) {
	points := []Coordinate{
		{0, 0}, {0, 10}, {0, 90}, {51.5074, -0.1278}, {-33.8688, 151.2093},
		{90, 0}, {-90, 0}, {0, 180}, {0, -180}, {45, 45},
	}
	for _, a := range points {
		for _, b := range points {
			if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
				t.Fatalf("distance(%v,%v)=%v but distance(%v,%v)=%v", a, b, d1, b, a, d2)
			}
		}
	}
}

func TestDistanceZeroOnlyForEqualPoints(t *testing.T) {
	a := Coordinate{Lat: 50.1109, Lon: 8.6821}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected zero distance for identical points, got %v", d)
	}
	b := Coordinate{Lat: 50.1110, Lon: 8.6821}
	if d := Distance(a, b); d <= 0 {
		t.Fatalf("expected positive distance for distinct points, got %v", d)
	}
}

func TestDistanceAntipodalIsFinite(t *testing.T) {
	d := Distance(Coordinate{0, 0}, Coordinate{0, 180})
	if math.IsNaN(d) || math.IsInf(d, 0) {
		t.Fatalf("expected finite antipodal distance, got %v", d)
	}
	if want := math.Pi * EarthRadiusKm; math.Abs(d-want) > 1e-6 {
		t.Fatalf("expected half circumference %v, got %v", want, d)
	}
}

func TestDistanceMatchesS2(t *testing.T) {
	pairs := [][2]Coordinate{
		{{51.5074, -0.1278}, {40.7128, -74.0060}},
		{{35.6762, 139.6503}, {-33.8688, 151.2093}},
		{{0, 0}, {0, 1}},
		{{1.3521, 103.8198}, {19.0760, 72.8777}},
	}
	for _, p := range pairs {
		want := s2.LatLngFromDegrees(p[0].Lat, p[0].Lon).
			Distance(s2.LatLngFromDegrees(p[1].Lat, p[1].Lon)).Radians() * EarthRadiusKm
		got := Distance(p[0], p[1])
		if math.Abs(got-want) > 1e-6*want+1e-9 {
			t.Fatalf("distance %v -> %v: got %v want %v", p[0], p[1], got, want)
		}
	}
}

func TestRegionCoordinate(t *testing.T) {
	tests := []struct {
		code string
		ok   bool
	}{
		{"us-east", true},
		{"US-EAST", true},
		{" frankfurt ", true},
		{"us-eas", false},
		{"mars", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, ok := RegionCoordinate(tt.code)
			if ok != tt.ok {
				t.Fatalf("RegionCoordinate(%q) ok=%v, want %v", tt.code, ok, tt.ok)
			}
		})
	}
	if Regions() < 30 {
		t.Fatalf("expected at least 30 regions, got %d", Regions())
	}
}

func TestLocationResolve(t *testing.T) {
	frankfurt, _ := RegionCoordinate("frankfurt")
	tests := []struct {
		name string
		loc  Location
		want Coordinate
		ok   bool
	}{
		{name: "literal passes through", loc: At(1, 2), want: Coordinate{1, 2}, ok: true},
		{name: "literal out of range is not validated", loc: At(123, 456), want: Coordinate{123, 456}, ok: true},
		{name: "region resolves", loc: InRegion("Frankfurt"), want: frankfurt, ok: true},
		{name: "unknown region", loc: InRegion("atlantis"), ok: false},
		{name: "empty", loc: Location{}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.loc.Resolve()
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Resolve() = %v,%v want %v,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("52.37:4.90")
	if err != nil || loc.Coordinate == nil || loc.Coordinate.Lat != 52.37 || loc.Coordinate.Lon != 4.90 {
		t.Fatalf("unexpected literal parse: %+v %v", loc, err)
	}
	loc, err = ParseLocation("rotterdam")
	if err != nil || loc.Region != "rotterdam" {
		t.Fatalf("unexpected region parse: %+v %v", loc, err)
	}
	if _, err := ParseLocation("north:4"); err == nil {
		t.Fatal("expected latitude parse error")
	}
	if _, err := ParseLocation(" "); err == nil {
		t.Fatal("expected empty location error")
	}
}

func TestBucketOf(t *testing.T) {
	b, ok := BucketOf(Coordinate{Lat: 52.3676, Lon: 4.9041})
	if !ok || b.H3Index == "" {
		t.Fatalf("expected bucket for valid coordinate")
	}
	if Distance(b.Centroid, Coordinate{Lat: 52.3676, Lon: 4.9041}) > 20 {
		t.Fatalf("expected centroid near input, got %v", b.Centroid)
	}
	if _, ok := BucketOf(Coordinate{Lat: 123, Lon: 0}); ok {
		t.Fatal("expected no bucket for invalid coordinate")
	}
}
