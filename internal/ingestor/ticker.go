package ingestor

import (
	"context"
	"log/slog"
	"time"

	"touristguard/internal/domain"
)

type Ticker interface {
	Tick(now time.Time) []domain.Alert
}

type Pruner interface {
	PruneResolved(cutoff time.Time) int
}

// TickDriver calls Tick on a fixed interval and prunes resolved alerts older
// than the retention period.
type TickDriver struct {
	engine        Ticker
	alerts        Pruner
	tickInterval  time.Duration
	pruneInterval time.Duration
	retention     time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func NewTickDriver(e Ticker, alerts Pruner, tickInterval, pruneInterval, retention time.Duration, logger *slog.Logger) *TickDriver {
	return &TickDriver{
		engine:        e,
		alerts:        alerts,
		tickInterval:  tickInterval,
		pruneInterval: pruneInterval,
		retention:     retention,
		now:           time.Now,
		logger:        logger.With("component", "tick_driver"),
	}
}

func (d *TickDriver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	var pruneC <-chan time.Time
	if d.alerts != nil && d.pruneInterval > 0 && d.retention > 0 {
		pruneTicker := time.NewTicker(d.pruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick()
		case <-pruneC:
			d.prune()
		}
	}
}

func (d *TickDriver) tick() int {
	alerts := d.engine.Tick(d.now())
	if len(alerts) > 0 {
		d.logger.Info("tick emitted alerts", "count", len(alerts))
	}
	return len(alerts)
}

func (d *TickDriver) prune() int {
	n := d.alerts.PruneResolved(d.now().Add(-d.retention))
	if n > 0 {
		d.logger.Info("pruned resolved alerts", "count", n)
	}
	return n
}
