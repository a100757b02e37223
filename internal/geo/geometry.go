// Package geo holds the planar and spherical helpers the zone registry and
// the alert evaluator share. Rings are open: the last vertex connects back
// to the first implicitly.
package geo

import (
	"math"

	"touristguard/internal/domain"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

// onEdgeEpsilon is the tolerance, in squared degrees, for treating a point
// as lying on a polygon edge.
const onEdgeEpsilon = 1e-18

// PointInPolygon reports whether p lies inside ring using the even-odd rule.
// Points exactly on an edge or a vertex count as inside.
func PointInPolygon(p domain.Coordinate, ring []domain.Coordinate) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(p, ring[j], ring[i]) {
			return true
		}
	}

	inside := false
	x, y := p.Lng, p.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lng, ring[i].Lat
		xj, yj := ring[j].Lng, ring[j].Lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onSegment(p, a, b domain.Coordinate) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if cross*cross > onEdgeEpsilon {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng) && p.Lng <= math.Max(a.Lng, b.Lng) &&
		p.Lat >= math.Min(a.Lat, b.Lat) && p.Lat <= math.Max(a.Lat, b.Lat)
}

// Bounds returns the bounding box of ring. An empty ring yields an inverted
// box that contains nothing.
func Bounds(ring []domain.Coordinate) domain.BoundingBox {
	bb := domain.BoundingBox{MinLat: 90, MinLng: 180, MaxLat: -90, MaxLng: -180}
	for _, c := range ring {
		bb.MinLat = math.Min(bb.MinLat, c.Lat)
		bb.MinLng = math.Min(bb.MinLng, c.Lng)
		bb.MaxLat = math.Max(bb.MaxLat, c.Lat)
		bb.MaxLng = math.Max(bb.MaxLng, c.Lng)
	}
	return bb
}

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b domain.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceToPathMeters returns the shortest distance from p to the polyline
// path. Each segment is projected onto a local equirectangular plane centred
// on p, which is accurate to well under a metre for segments of a few km.
func DistanceToPathMeters(p domain.Coordinate, path []domain.Coordinate) float64 {
	switch len(path) {
	case 0:
		return math.Inf(1)
	case 1:
		return HaversineMeters(p, path[0])
	}

	cosLat := math.Cos(toRad(p.Lat))
	project := func(c domain.Coordinate) (float64, float64) {
		return toRad(c.Lng-p.Lng) * cosLat * EarthRadiusMeters, toRad(c.Lat-p.Lat) * EarthRadiusMeters
	}

	best := math.Inf(1)
	for i := 1; i < len(path); i++ {
		ax, ay := project(path[i-1])
		bx, by := project(path[i])
		dx, dy := bx-ax, by-ay
		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = -(ax*dx + ay*dy) / l2
			t = math.Max(0, math.Min(1, t))
		}
		cx, cy := ax+t*dx, ay+t*dy
		best = math.Min(best, math.Hypot(cx, cy))
	}
	return best
}

// Centroid returns the vertex average of ring. For convex rings it is an
// interior point.
func Centroid(ring []domain.Coordinate) domain.Coordinate {
	if len(ring) == 0 {
		return domain.Coordinate{}
	}
	var lat, lng float64
	for _, c := range ring {
		lat += c.Lat
		lng += c.Lng
	}
	n := float64(len(ring))
	return domain.Coordinate{Lat: lat / n, Lng: lng / n}
}

// Area returns the signed planar area of ring in squared degrees (shoelace).
func Area(ring []domain.Coordinate) float64 {
	var sum float64
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		sum += ring[j].Lng*ring[i].Lat - ring[i].Lng*ring[j].Lat
	}
	return sum / 2
}

// SelfIntersects reports whether any two non-adjacent edges of ring cross
// or touch.
func SelfIntersects(ring []domain.Coordinate) bool {
	n := len(ring)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(a1, a2, ring[j], ring[(j+1)%n]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 domain.Coordinate) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(p1, q1, q2)) ||
		(d2 == 0 && onSegment(p2, q1, q2)) ||
		(d3 == 0 && onSegment(q1, p1, p2)) ||
		(d4 == 0 && onSegment(q2, p1, p2))
}

func orientation(a, b, c domain.Coordinate) float64 {
	return (b.Lng-a.Lng)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lng-a.Lng)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
