// Package zone holds the set of named zones the engine evaluates samples
// against. The registry is filled once at startup and is safe for concurrent
// reads afterwards.
package zone

import (
	"fmt"
	"sync"

	"touristguard/internal/domain"
	"touristguard/internal/geo"
)

const (
	defaultTileZoom = 14
	// Zones spanning more tiles than this are kept out of the tile index and
	// scanned on every lookup instead.
	defaultMaxTilesPerZone = 256
)

type entry struct {
	zone   domain.Zone
	bounds domain.BoundingBox
	order  int
}

type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	byTile  map[geo.Tile][]*entry
	wide    []*entry

	tileZoom        int
	maxTilesPerZone int
}

type Option func(*Registry)

// WithTileZoom sets the zoom level of the tile index. Zero disables the
// index so every lookup scans all bounding boxes.
func WithTileZoom(zoom int) Option {
	return func(r *Registry) { r.tileZoom = zoom }
}

func WithMaxTilesPerZone(n int) Option {
	return func(r *Registry) { r.maxTilesPerZone = n }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:            make(map[string]*entry),
		byTile:          make(map[geo.Tile][]*entry),
		tileZoom:        defaultTileZoom,
		maxTilesPerZone: defaultMaxTilesPerZone,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates z and adds it to the registry. The boundary is copied
// so later changes to the caller's slice have no effect.
func (r *Registry) Register(z domain.Zone) error {
	boundary, err := normalizeBoundary(z.Boundary)
	if err != nil {
		return fmt.Errorf("zone %q: %w", z.ID, err)
	}
	if z.ID == "" {
		return fmt.Errorf("%w: empty zone id", domain.ErrInvalidZoneGeometry)
	}
	if !z.Kind.Valid() {
		return fmt.Errorf("zone %q: %w: unknown kind %q", z.ID, domain.ErrInvalidZoneGeometry, z.Kind)
	}
	z.Boundary = boundary

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[z.ID]; exists {
		return fmt.Errorf("zone %q: %w", z.ID, domain.ErrDuplicateZoneID)
	}

	e := &entry{zone: z, bounds: geo.Bounds(boundary), order: len(r.entries)}
	r.entries = append(r.entries, e)
	r.byID[z.ID] = e
	r.addToIndex(e)
	return nil
}

// Load registers zones in order and stops at the first failure.
func (r *Registry) Load(zones []domain.Zone) error {
	for _, z := range zones {
		if err := r.Register(z); err != nil {
			return err
		}
	}
	return nil
}

// All returns the zones in registration order.
func (r *Registry) All() []domain.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Zone, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, copyZone(e.zone))
	}
	return result
}

func (r *Registry) Find(id string) (domain.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return domain.Zone{}, fmt.Errorf("zone %q: %w", id, domain.ErrNotFound)
	}
	return copyZone(e.zone), nil
}

// Kind returns the kind of zone id without copying its boundary.
func (r *Registry) Kind(id string) (domain.ZoneKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return e.zone.Kind, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountByKind returns how many registered zones have the given kind.
func (r *Registry) CountByKind(kind domain.ZoneKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.zone.Kind == kind {
			n++
		}
	}
	return n
}

// Locate returns the ids of every zone containing c, in registration order.
func (r *Registry) Locate(c domain.Coordinate) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.candidates(c)
	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		if !e.bounds.Contains(c) {
			continue
		}
		if geo.PointInPolygon(c, e.zone.Boundary) {
			ids = append(ids, e.zone.ID)
		}
	}
	return ids
}

func (r *Registry) candidates(c domain.Coordinate) []*entry {
	if r.tileZoom <= 0 {
		return r.entries
	}

	indexed := r.byTile[geo.TileAt(c, r.tileZoom)]
	if len(r.wide) == 0 {
		return indexed
	}

	merged := make([]*entry, 0, len(indexed)+len(r.wide))
	i, j := 0, 0
	for i < len(indexed) || j < len(r.wide) {
		switch {
		case j == len(r.wide) || (i < len(indexed) && indexed[i].order < r.wide[j].order):
			merged = append(merged, indexed[i])
			i++
		default:
			merged = append(merged, r.wide[j])
			j++
		}
	}
	return merged
}

func (r *Registry) addToIndex(e *entry) {
	if r.tileZoom <= 0 {
		return
	}
	tiles := geo.TilesInBounds(e.bounds, r.tileZoom, r.maxTilesPerZone)
	if tiles == nil {
		r.wide = append(r.wide, e)
		return
	}
	for _, t := range tiles {
		r.byTile[t] = append(r.byTile[t], e)
	}
}

// normalizeBoundary drops an explicit closing vertex and consecutive
// duplicates, then checks the ring is a simple polygon with area.
func normalizeBoundary(in []domain.Coordinate) ([]domain.Coordinate, error) {
	ring := make([]domain.Coordinate, 0, len(in))
	for _, c := range in {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidZoneGeometry, err)
		}
		if len(ring) > 0 && ring[len(ring)-1] == c {
			continue
		}
		ring = append(ring, c)
	}
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}

	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 distinct vertices, got %d", domain.ErrInvalidZoneGeometry, len(ring))
	}
	if geo.Area(ring) == 0 {
		return nil, fmt.Errorf("%w: polygon has zero area", domain.ErrInvalidZoneGeometry)
	}
	if geo.SelfIntersects(ring) {
		return nil, fmt.Errorf("%w: polygon self-intersects", domain.ErrInvalidZoneGeometry)
	}
	return ring, nil
}

func copyZone(z domain.Zone) domain.Zone {
	z.Boundary = append([]domain.Coordinate(nil), z.Boundary...)
	return z
}
