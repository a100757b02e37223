package zone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"touristguard/internal/domain"
)

// LoadFile reads zone definitions from path. Two layouts are accepted:
//
//   - a JSON array of zones, coordinates as [lat, lng] pairs:
//     [{"id":"zone_1","name":"...","type":"danger","coordinates":[[28.61,77.20],...]}]
//   - a GeoJSON FeatureCollection (or single Feature) of Polygons, coordinates
//     as [lng, lat] per RFC 7946, with id/name/type/description in properties.
//     Only the outer ring of each polygon is used.
func LoadFile(path string) ([]domain.Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading zones file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]domain.Zone, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty zones document")
	}
	if trimmed[0] == '[' {
		return parseZoneArray(trimmed)
	}
	return parseGeoJSON(trimmed)
}

type zoneDoc struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
	Description string       `json:"description"`
}

func parseZoneArray(data []byte) ([]domain.Zone, error) {
	var docs []zoneDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decoding zones: %w", err)
	}

	zones := make([]domain.Zone, 0, len(docs))
	for _, d := range docs {
		boundary := make([]domain.Coordinate, 0, len(d.Coordinates))
		for _, p := range d.Coordinates {
			boundary = append(boundary, domain.Coordinate{Lat: p[0], Lng: p[1]})
		}
		zones = append(zones, domain.Zone{
			ID:          d.ID,
			Name:        d.Name,
			Kind:        domain.ZoneKind(strings.ToLower(d.Type)),
			Boundary:    boundary,
			Description: d.Description,
		})
	}
	return zones, nil
}

type geoJSONDoc struct {
	Type       string           `json:"type"`
	Features   []geoJSONFeature `json:"features"`
	ID         json.RawMessage  `json:"id"`
	Properties map[string]any   `json:"properties"`
	Geometry   *geoJSONGeometry `json:"geometry"`
}

type geoJSONFeature struct {
	ID         json.RawMessage  `json:"id"`
	Properties map[string]any   `json:"properties"`
	Geometry   *geoJSONGeometry `json:"geometry"`
}

type geoJSONGeometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

func parseGeoJSON(data []byte) ([]domain.Zone, error) {
	var doc geoJSONDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}

	var features []geoJSONFeature
	switch strings.ToLower(doc.Type) {
	case "featurecollection":
		features = doc.Features
	case "feature":
		features = []geoJSONFeature{{ID: doc.ID, Properties: doc.Properties, Geometry: doc.Geometry}}
	default:
		return nil, fmt.Errorf("unsupported geojson type %q", doc.Type)
	}

	zones := make([]domain.Zone, 0, len(features))
	for i, f := range features {
		if f.Geometry == nil || !strings.EqualFold(f.Geometry.Type, "polygon") {
			return nil, fmt.Errorf("feature %d: only Polygon geometries are supported", i)
		}
		if len(f.Geometry.Coordinates) == 0 {
			return nil, fmt.Errorf("feature %d: %w: no rings", i, domain.ErrInvalidZoneGeometry)
		}

		outer := f.Geometry.Coordinates[0]
		boundary := make([]domain.Coordinate, 0, len(outer))
		for _, p := range outer {
			boundary = append(boundary, domain.Coordinate{Lat: p[1], Lng: p[0]})
		}

		id := getStr(f.Properties, "id")
		if id == "" {
			id = rawID(f.ID)
		}
		zones = append(zones, domain.Zone{
			ID:          id,
			Name:        getStr(f.Properties, "name"),
			Kind:        domain.ZoneKind(strings.ToLower(getStr(f.Properties, "type"))),
			Boundary:    boundary,
			Description: getStr(f.Properties, "description"),
		})
	}
	return zones, nil
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

// rawID accepts both string and numeric GeoJSON feature ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
