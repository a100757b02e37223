package domain

// ZoneKind classifies a zone by the risk it carries for a tourist inside it.
type ZoneKind string

const (
	ZoneSafe    ZoneKind = "safe"
	ZoneWarning ZoneKind = "warning"
	ZoneDanger  ZoneKind = "danger"
)

func (k ZoneKind) Valid() bool {
	switch k {
	case ZoneSafe, ZoneWarning, ZoneDanger:
		return true
	default:
		return false
	}
}

// Risky reports whether entering the zone is worth an alert.
func (k ZoneKind) Risky() bool {
	return k == ZoneWarning || k == ZoneDanger
}

// Zone is a named polygonal region. Boundary is an open ring: the closing
// vertex is implied and must not be repeated.
type Zone struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        ZoneKind     `json:"type"`
	Boundary    []Coordinate `json:"coordinates"`
	Description string       `json:"description,omitempty"`
}
