package geo

import (
	"fmt"
	"math"

	"touristguard/internal/domain"
)

// Tile is a Web Mercator (slippy map) tile address.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileAt returns the tile containing c at the given zoom level. Latitudes
// beyond the Mercator limit clamp to the edge rows.
func TileAt(c domain.Coordinate, zoom int) Tile {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((c.Lng + 180.0) / 360.0 * n))
	latRad := c.Lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return Tile{Z: zoom, X: clamp(x, 0, maxTile), Y: clamp(y, 0, maxTile)}
}

// Bounds returns the geographic extent of the tile.
func (t Tile) Bounds() domain.BoundingBox {
	n := math.Pow(2, float64(t.Z))
	minLng := float64(t.X)/n*360.0 - 180.0
	maxLng := float64(t.X+1)/n*360.0 - 180.0

	minLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(t.Y+1)/n)))
	maxLatRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(t.Y)/n)))
	return domain.BoundingBox{
		MinLat: minLatRad * 180.0 / math.Pi,
		MinLng: minLng,
		MaxLat: maxLatRad * 180.0 / math.Pi,
		MaxLng: maxLng,
	}
}

// ParseTile extracts zoom, x, y from a "z/x/y" tile id.
func ParseTile(id string) (Tile, bool) {
	var t Tile
	n, err := fmt.Sscanf(id, "%d/%d/%d", &t.Z, &t.X, &t.Y)
	if err != nil || n != 3 {
		return Tile{}, false
	}
	maxTile := int(math.Pow(2, float64(t.Z))) - 1
	if t.Z < 0 || t.X < 0 || t.Y < 0 || t.X > maxTile || t.Y > maxTile {
		return Tile{}, false
	}
	return t, true
}

// Adjacent returns the tile plus its (up to) 8 neighbours.
func (t Tile) Adjacent() []Tile {
	maxTile := int(math.Pow(2, float64(t.Z))) - 1
	tiles := make([]Tile, 0, 9)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			nx, ny := t.X+dx, t.Y+dy
			if nx < 0 || nx > maxTile || ny < 0 || ny > maxTile {
				continue
			}
			tiles = append(tiles, Tile{Z: t.Z, X: nx, Y: ny})
		}
	}
	return tiles
}

// TilesInBounds returns all tiles intersecting bb at zoom. It returns nil
// if the result would exceed limit tiles (limit <= 0 means unbounded).
func TilesInBounds(bb domain.BoundingBox, zoom, limit int) []Tile {
	topLeft := TileAt(domain.Coordinate{Lat: bb.MaxLat, Lng: bb.MinLng}, zoom)
	bottomRight := TileAt(domain.Coordinate{Lat: bb.MinLat, Lng: bb.MaxLng}, zoom)

	count := (bottomRight.X - topLeft.X + 1) * (bottomRight.Y - topLeft.Y + 1)
	if count <= 0 || (limit > 0 && count > limit) {
		return nil
	}

	tiles := make([]Tile, 0, count)
	for x := topLeft.X; x <= bottomRight.X; x++ {
		for y := topLeft.Y; y <= bottomRight.Y; y++ {
			tiles = append(tiles, Tile{Z: zoom, X: x, Y: y})
		}
	}
	return tiles
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
