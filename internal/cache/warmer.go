package cache

import (
	"context"
	"log/slog"
	"time"

	"touristguard/internal/domain"
)

// ZoneSource lists the registered zones.
type ZoneSource interface {
	All() []domain.Zone
}

// ZoneWarmer publishes the zone set to redis so other instances and clients
// can read it without the zones file.
type ZoneWarmer struct {
	cache  *RedisCache
	zones  ZoneSource
	ttl    time.Duration
	logger *slog.Logger
}

func NewZoneWarmer(cache *RedisCache, zones ZoneSource, ttl time.Duration, logger *slog.Logger) *ZoneWarmer {
	return &ZoneWarmer{
		cache:  cache,
		zones:  zones,
		ttl:    ttl,
		logger: logger.With("component", "zone_warmer"),
	}
}

type ZoneSnapshot struct {
	Zones       []domain.Zone `json:"zones"`
	GeneratedAt time.Time     `json:"generated_at"`
}

func (w *ZoneWarmer) WarmAll(ctx context.Context) error {
	start := time.Now()
	zones := w.zones.All()

	snap := ZoneSnapshot{Zones: zones, GeneratedAt: start.UTC()}
	if err := w.cache.SetJSONCompressed(ctx, KeyZones, snap, w.ttl); err != nil {
		return err
	}
	if err := w.cache.Set(ctx, KeyZonesVersion, []byte(snap.GeneratedAt.Format(time.RFC3339)), w.ttl); err != nil {
		return err
	}

	// Drop zones that are no longer registered.
	if err := w.cache.DeletePattern(ctx, KeyZone("*")); err != nil {
		w.logger.Warn("failed to clear stale zone keys", "error", err)
	}

	warmed := 0
	for _, z := range zones {
		if err := w.cache.SetJSON(ctx, KeyZone(z.ID), z, w.ttl); err != nil {
			w.logger.Debug("failed to cache zone", "zone_id", z.ID, "error", err)
			continue
		}
		warmed++
	}

	w.logger.Info("warmed zones",
		"zones_warmed", warmed,
		"total_zones", len(zones),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// LoadSnapshot reads the last published zone set. found is false when no
// snapshot exists.
func LoadSnapshot(ctx context.Context, cache *RedisCache) (zones []domain.Zone, found bool, err error) {
	var snap ZoneSnapshot
	found, err = cache.GetJSONCompressed(ctx, KeyZones, &snap)
	if err != nil || !found {
		return nil, found, err
	}
	return snap.Zones, true, nil
}

// ScheduleRefresh re-publishes the snapshot every interval so it never
// expires while the service runs.
func (w *ZoneWarmer) ScheduleRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WarmAll(ctx); err != nil {
				w.logger.Error("zone cache refresh failed", "error", err)
			}
		}
	}
}
