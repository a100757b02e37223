package geo

import (
	"testing"

	"touristguard/internal/domain"
)

func TestTileAtRoundTrip(t *testing.T) {
	c := domain.Coordinate{Lat: 28.6139, Lng: 77.2090}
	tile := TileAt(c, 14)
	if !tile.Bounds().Contains(c) {
		t.Fatalf("tile %s bounds %+v do not contain %v", tile, tile.Bounds(), c)
	}

	parsed, ok := ParseTile(tile.String())
	if !ok || parsed != tile {
		t.Fatalf("ParseTile(%q) = %v, %v", tile.String(), parsed, ok)
	}
}

func TestParseTileRejectsGarbage(t *testing.T) {
	for _, id := range []string{"", "abc", "14/1", "2/9/0"} {
		if _, ok := ParseTile(id); ok {
			t.Errorf("ParseTile(%q) accepted", id)
		}
	}
}

func TestAdjacentAtCorner(t *testing.T) {
	if got := len(Tile{Z: 3, X: 0, Y: 0}.Adjacent()); got != 4 {
		t.Fatalf("corner tile neighbours = %d, want 4", got)
	}
	if got := len(Tile{Z: 3, X: 4, Y: 4}.Adjacent()); got != 9 {
		t.Fatalf("inner tile neighbours = %d, want 9", got)
	}
}

func TestTilesInBounds(t *testing.T) {
	bb := Bounds(oldCity)
	tiles := TilesInBounds(bb, 14, 0)
	if len(tiles) == 0 {
		t.Fatal("expected at least one tile")
	}
	want := TileAt(Centroid(oldCity), 14)
	found := false
	for _, tile := range tiles {
		if tile == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("tiles %v missing centroid tile %v", tiles, want)
	}

	world := domain.BoundingBox{MinLat: -80, MinLng: -170, MaxLat: 80, MaxLng: 170}
	if TilesInBounds(world, 10, 64) != nil {
		t.Fatal("expected nil when limit exceeded")
	}
}
