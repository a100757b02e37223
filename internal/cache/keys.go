package cache

import "fmt"

const (
	KeyZones        = "zones:snapshot"
	KeyZonesVersion = "zones:version"

	// ChannelAlerts carries every alert change as JSON.
	ChannelAlerts = "alerts"
)

func KeyAlert(alertID string) string {
	return fmt.Sprintf("alert:%s", alertID)
}

func KeyTouristAlerts(touristID string) string {
	return fmt.Sprintf("tourist:%s:alerts", touristID)
}

func KeyZone(zoneID string) string {
	return fmt.Sprintf("zone:%s", zoneID)
}
