package geo

import (
	"math"
	"testing"

	"touristguard/internal/domain"
)

var square = []domain.Coordinate{
	{Lat: 0, Lng: 0},
	{Lat: 0, Lng: 1},
	{Lat: 1, Lng: 1},
	{Lat: 1, Lng: 0},
}

// oldCity is the danger zone shape used by the original mock data.
var oldCity = []domain.Coordinate{
	{Lat: 28.6139, Lng: 77.2090},
	{Lat: 28.6150, Lng: 77.2100},
	{Lat: 28.6160, Lng: 77.2110},
	{Lat: 28.6170, Lng: 77.2105},
	{Lat: 28.6155, Lng: 77.2085},
}

func TestPointInPolygon(t *testing.T) {
	tests := []struct {
		name string
		ring []domain.Coordinate
		p    domain.Coordinate
		want bool
	}{
		{"center of square", square, domain.Coordinate{Lat: 0.5, Lng: 0.5}, true},
		{"outside square", square, domain.Coordinate{Lat: 1.5, Lng: 0.5}, false},
		{"on edge counts as inside", square, domain.Coordinate{Lat: 0, Lng: 0.5}, true},
		{"on vertex counts as inside", square, domain.Coordinate{Lat: 1, Lng: 1}, true},
		{"centroid of old city", oldCity, Centroid(oldCity), true},
		{"far outside old city", oldCity, domain.Coordinate{Lat: 28.70, Lng: 77.30}, false},
		{"degenerate ring", square[:2], domain.Coordinate{Lat: 0, Lng: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInPolygon(tt.p, tt.ring); got != tt.want {
				t.Fatalf("PointInPolygon(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestPointInPolygonConcave(t *testing.T) {
	// U shape: the notch between the arms is outside.
	u := []domain.Coordinate{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 3}, {Lat: 3, Lng: 3}, {Lat: 3, Lng: 2},
		{Lat: 1, Lng: 2}, {Lat: 1, Lng: 1}, {Lat: 3, Lng: 1}, {Lat: 3, Lng: 0},
	}
	if PointInPolygon(domain.Coordinate{Lat: 2, Lng: 1.5}, u) {
		t.Fatal("point in the notch reported inside")
	}
	if !PointInPolygon(domain.Coordinate{Lat: 2, Lng: 0.5}, u) {
		t.Fatal("point in the left arm reported outside")
	}
}

func TestPointInPolygonBoundaryIsStable(t *testing.T) {
	p := domain.Coordinate{Lat: 0.25, Lng: 1}
	first := PointInPolygon(p, square)
	for i := 0; i < 100; i++ {
		if PointInPolygon(p, square) != first {
			t.Fatal("boundary answer changed between calls")
		}
	}
	if !first {
		t.Fatal("boundary point should count as inside")
	}
}

func TestBounds(t *testing.T) {
	bb := Bounds(oldCity)
	want := domain.BoundingBox{MinLat: 28.6139, MinLng: 77.2085, MaxLat: 28.6170, MaxLng: 77.2110}
	if bb != want {
		t.Fatalf("Bounds = %+v, want %+v", bb, want)
	}
	if Bounds(nil).Contains(domain.Coordinate{}) {
		t.Fatal("empty bounds should contain nothing")
	}
}

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude on the mean sphere.
	a := domain.Coordinate{Lat: 28, Lng: 77}
	b := domain.Coordinate{Lat: 29, Lng: 77}
	want := EarthRadiusMeters * math.Pi / 180
	if got := HaversineMeters(a, b); math.Abs(got-want) > 0.01 {
		t.Fatalf("HaversineMeters = %v, want %v", got, want)
	}
	if got := HaversineMeters(a, a); got != 0 {
		t.Fatalf("distance to self = %v, want 0", got)
	}
}

func TestDistanceToPathMeters(t *testing.T) {
	path := []domain.Coordinate{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.01}}
	p := domain.Coordinate{Lat: 0.001, Lng: 0.005}
	want := HaversineMeters(p, domain.Coordinate{Lat: 0, Lng: 0.005})
	if got := DistanceToPathMeters(p, path); math.Abs(got-want) > 0.5 {
		t.Fatalf("DistanceToPathMeters = %v, want ~%v", got, want)
	}

	// Beyond the end of the segment the nearest point is the endpoint.
	beyond := domain.Coordinate{Lat: 0, Lng: 0.02}
	want = HaversineMeters(beyond, path[1])
	if got := DistanceToPathMeters(beyond, path); math.Abs(got-want) > 0.5 {
		t.Fatalf("DistanceToPathMeters past end = %v, want ~%v", got, want)
	}

	if !math.IsInf(DistanceToPathMeters(p, nil), 1) {
		t.Fatal("empty path should be infinitely far")
	}
}

func TestAreaAndSelfIntersects(t *testing.T) {
	if got := math.Abs(Area(square)); got != 1 {
		t.Fatalf("Area(square) = %v, want 1", got)
	}
	collinear := []domain.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}
	if Area(collinear) != 0 {
		t.Fatal("collinear ring should have zero area")
	}

	bowtie := []domain.Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0}, {Lat: 0, Lng: 1}}
	if !SelfIntersects(bowtie) {
		t.Fatal("bowtie should self-intersect")
	}
	if SelfIntersects(square) || SelfIntersects(oldCity) {
		t.Fatal("simple rings reported as self-intersecting")
	}
}
