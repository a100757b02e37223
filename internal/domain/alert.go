package domain

import "time"

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertGeofenceEnter  AlertType = "geofence_enter"
	AlertGeofenceExit   AlertType = "geofence_exit"
	AlertRouteDeviation AlertType = "route_deviation"
	AlertSuddenStop     AlertType = "sudden_stop"
	AlertInactive       AlertType = "inactive"
	AlertPanic          AlertType = "panic"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertGeofenceEnter, AlertGeofenceExit, AlertRouteDeviation,
		AlertSuddenStop, AlertInactive, AlertPanic:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Alert is an event emitted by the evaluator. Everything except the
// resolution fields is fixed at emission time.
type Alert struct {
	ID            string      `json:"id"`
	TouristID     string      `json:"touristId"`
	Type          AlertType   `json:"type"`
	Severity      Severity    `json:"severity"`
	Message       string      `json:"message"`
	Timestamp     time.Time   `json:"timestamp"`
	Location      *Coordinate `json:"location,omitempty"`
	Resolved      bool        `json:"resolved"`
	ResolvedAt    *time.Time  `json:"resolvedAt,omitempty"`
	RelatedZoneID string      `json:"relatedZoneId,omitempty"`
}

type DeltaType string

const (
	DeltaNew      DeltaType = "new"
	DeltaResolved DeltaType = "resolved"
)

// AlertDelta is a change to the alert log pushed to live subscribers.
type AlertDelta struct {
	Type  DeltaType `json:"type"`
	Alert Alert     `json:"alert"`
}
