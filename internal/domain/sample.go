package domain

import "time"

// Sample is a single position fix reported for a tourist.
type Sample struct {
	TouristID      string     `json:"touristId"`
	Coordinate     Coordinate `json:"coordinate"`
	Timestamp      time.Time  `json:"timestamp"`
	AccuracyMeters *float64   `json:"accuracyMeters,omitempty"`
}

// MembershipDelta lists the zones a tourist entered and exited between two
// consecutive samples.
type MembershipDelta struct {
	TouristID string   `json:"touristId"`
	Entered   []string `json:"entered"`
	Exited    []string `json:"exited"`
}

func (d MembershipDelta) Empty() bool {
	return len(d.Entered) == 0 && len(d.Exited) == 0
}

// TouristStatus is the coarse safety state shown on the admin dashboard.
type TouristStatus string

const (
	StatusSafe      TouristStatus = "safe"
	StatusAtRisk    TouristStatus = "at_risk"
	StatusEmergency TouristStatus = "emergency"
)
