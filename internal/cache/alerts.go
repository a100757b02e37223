package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"touristguard/internal/domain"
)

// AlertSink mirrors alerts into redis: each alert under its own key, a
// capped per-tourist list of ids and a pub/sub notification.
type AlertSink struct {
	cache   *RedisCache
	ttl     time.Duration
	maxList int64
	timeout time.Duration
	logger  *slog.Logger
}

func NewAlertSink(cache *RedisCache, ttl time.Duration, maxList int, logger *slog.Logger) *AlertSink {
	if maxList <= 0 {
		maxList = 100
	}
	return &AlertSink{
		cache:   cache,
		ttl:     ttl,
		maxList: int64(maxList),
		timeout: 2 * time.Second,
		logger:  logger.With("component", "redis_alert_sink"),
	}
}

type alertEvent struct {
	Type  domain.DeltaType `json:"type"`
	Alert domain.Alert     `json:"alert"`
}

func encodeEvent(t domain.DeltaType, a domain.Alert) ([]byte, []byte, error) {
	alertJSON, err := json.Marshal(a)
	if err != nil {
		return nil, nil, fmt.Errorf("json marshal alert: %w", err)
	}
	eventJSON, err := json.Marshal(alertEvent{Type: t, Alert: a})
	if err != nil {
		return nil, nil, fmt.Errorf("json marshal event: %w", err)
	}
	return alertJSON, eventJSON, nil
}

func (s *AlertSink) Publish(a domain.Alert) {
	if err := s.write(domain.DeltaNew, a, true); err != nil {
		s.logger.Error("failed to mirror alert", "alert_id", a.ID, "error", err)
	}
}

func (s *AlertSink) AlertResolved(a domain.Alert) {
	if err := s.write(domain.DeltaResolved, a, false); err != nil {
		s.logger.Error("failed to mirror resolution", "alert_id", a.ID, "error", err)
	}
}

func (s *AlertSink) write(t domain.DeltaType, a domain.Alert, index bool) error {
	alertJSON, eventJSON, err := encodeEvent(t, a)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	c := s.cache
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(KeyAlert(a.ID)), alertJSON, s.ttl)
	if index {
		listKey := c.key(KeyTouristAlerts(a.TouristID))
		pipe.LPush(ctx, listKey, a.ID)
		pipe.LTrim(ctx, listKey, 0, s.maxList-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, listKey, s.ttl)
		}
	}
	pipe.Publish(ctx, c.key(ChannelAlerts), eventJSON)
	_, err = pipe.Exec(ctx)
	return err
}
