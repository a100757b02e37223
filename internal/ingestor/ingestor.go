// Package ingestor drives the engine from outside the HTTP surface: a
// polling location feed and the periodic tick that fires time-based rules.
package ingestor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"touristguard/internal/domain"
	"touristguard/internal/engine"
)

// Feed is a source of location samples, such as locationfeed.Client.
type Feed interface {
	Fetch(ctx context.Context, since time.Time) ([]domain.Sample, error)
}

type Ingester interface {
	Ingest(s domain.Sample) (engine.Result, error)
}

type Ingestor struct {
	feed     Feed
	engine   Ingester
	interval time.Duration
	logger   *slog.Logger

	since time.Time
	last  map[string]time.Time

	ready   bool
	readyMu sync.RWMutex
}

func New(feed Feed, e Ingester, interval time.Duration, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		feed:     feed,
		engine:   e,
		interval: interval,
		logger:   logger.With("component", "ingestor"),
		last:     make(map[string]time.Time),
	}
}

func (i *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	i.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.poll(ctx)
		}
	}
}

// PollStats summarises one poll.
type PollStats struct {
	Fetched    int
	Ingested   int
	Duplicate  int
	OutOfOrder int
	Invalid    int
	Alerts     int
}

func (i *Ingestor) poll(ctx context.Context) PollStats {
	var stats PollStats

	samples, err := i.feed.Fetch(ctx, i.since)
	if err != nil {
		i.logger.Error("failed to fetch locations", "error", err)
		return stats
	}
	stats.Fetched = len(samples)

	// Feeds may interleave tourists or return records out of order.
	sort.SliceStable(samples, func(a, b int) bool {
		return samples[a].Timestamp.Before(samples[b].Timestamp)
	})

	for _, s := range samples {
		// The cursor is inclusive, so the previous batch's tail comes back.
		if last, ok := i.last[s.TouristID]; ok && !s.Timestamp.After(last) {
			stats.Duplicate++
			continue
		}
		res, err := i.engine.Ingest(s)
		switch {
		case err == nil:
			stats.Ingested++
			stats.Alerts += len(res.Alerts)
			i.last[s.TouristID] = s.Timestamp
		case errors.Is(err, domain.ErrOutOfOrderSample):
			stats.OutOfOrder++
		default:
			stats.Invalid++
			i.logger.Warn("rejected feed sample", "tourist_id", s.TouristID, "error", err)
		}
		if s.Timestamp.After(i.since) {
			i.since = s.Timestamp
		}
	}

	if !i.IsReady() {
		i.setReady(true)
		i.logger.Info("ingestor ready", "samples", stats.Fetched)
	}

	i.logger.Debug("poll completed",
		"fetched", stats.Fetched,
		"ingested", stats.Ingested,
		"duplicate", stats.Duplicate,
		"out_of_order", stats.OutOfOrder,
		"invalid", stats.Invalid,
		"alerts", stats.Alerts,
	)
	return stats
}

func (i *Ingestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *Ingestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}
