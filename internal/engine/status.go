package engine

import "touristguard/internal/domain"

// Status derives the dashboard status of a tourist from its snapshot and its
// unresolved alerts. An open panic or critical alert means emergency; being
// inside a risky zone, inactivity or any other open alert of medium severity
// or above means at risk.
func Status(snap Snapshot, open []domain.Alert, zones Zones) domain.TouristStatus {
	atRisk := snap.Inactive
	for _, a := range open {
		if a.Resolved || a.TouristID != snap.TouristID {
			continue
		}
		if a.Type == domain.AlertPanic || a.Severity == domain.SeverityCritical {
			return domain.StatusEmergency
		}
		if a.Severity.Rank() >= domain.SeverityMedium.Rank() {
			atRisk = true
		}
	}
	if atRisk {
		return domain.StatusAtRisk
	}
	for _, id := range snap.ActiveZones {
		if z, err := zones.Find(id); err == nil && z.Kind.Risky() {
			return domain.StatusAtRisk
		}
	}
	return domain.StatusSafe
}
