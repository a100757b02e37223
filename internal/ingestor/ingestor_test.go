package ingestor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"touristguard/internal/alert"
	"touristguard/internal/domain"
	"touristguard/internal/engine"
	"touristguard/internal/store"
	"touristguard/internal/zone"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFeed struct {
	mu      sync.Mutex
	batches [][]domain.Sample
	err     error
	since   []time.Time
}

func (f *fakeFeed) Fetch(_ context.Context, since time.Time) ([]domain.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func sample(id string, lat, lng float64, offset time.Duration) domain.Sample {
	return domain.Sample{TouristID: id, Coordinate: domain.Coordinate{Lat: lat, Lng: lng}, Timestamp: t0.Add(offset)}
}

func newEngine(t *testing.T, sink alert.Sink) *engine.Engine {
	t.Helper()
	reg := zone.NewRegistry()
	if err := reg.Register(domain.Zone{
		ID:   "Z1",
		Kind: domain.ZoneDanger,
		Boundary: []domain.Coordinate{
			{Lat: 28.6129, Lng: 77.2080},
			{Lat: 28.6129, Lng: 77.2100},
			{Lat: 28.6149, Lng: 77.2100},
			{Lat: 28.6149, Lng: 77.2080},
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	e, err := engine.New(reg, alert.DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func TestPollSortsAndIngests(t *testing.T) {
	alerts := store.New()
	e := newEngine(t, alerts)
	feed := &fakeFeed{batches: [][]domain.Sample{{
		sample("T1", 28.6139, 77.2090, time.Minute),
		sample("T1", 28.70, 77.30, 0),
		sample("", 28.70, 77.30, 0),
	}}}
	ing := New(feed, e, time.Second, testLogger())

	if ing.IsReady() {
		t.Fatal("ready before first poll")
	}
	stats := ing.poll(context.Background())
	if stats.Fetched != 3 || stats.Ingested != 2 || stats.Invalid != 1 || stats.OutOfOrder != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Alerts != 1 || alerts.Count() != 1 {
		t.Fatalf("expected one enter alert, got stats %+v and %d stored", stats, alerts.Count())
	}
	if !ing.IsReady() {
		t.Fatal("not ready after successful poll")
	}
}

func TestPollAdvancesCursorAndSkipsReplayedTail(t *testing.T) {
	e := newEngine(t, alert.Discard{})
	tail := sample("T1", 28.70, 77.30, 2*time.Minute)
	feed := &fakeFeed{batches: [][]domain.Sample{
		{sample("T1", 28.70, 77.30, 0), tail},
		{tail, sample("T1", 28.70, 77.31, 3*time.Minute)},
	}}
	ing := New(feed, e, time.Second, testLogger())

	ing.poll(context.Background())
	stats := ing.poll(context.Background())

	if !feed.since[0].IsZero() || !feed.since[1].Equal(tail.Timestamp) {
		t.Fatalf("unexpected cursors %v", feed.since)
	}
	if stats.Duplicate != 1 || stats.Ingested != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPollFetchErrorKeepsNotReady(t *testing.T) {
	feed := &fakeFeed{err: errors.New("upstream down")}
	ing := New(feed, newEngine(t, alert.Discard{}), time.Second, testLogger())

	if stats := ing.poll(context.Background()); stats.Fetched != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if ing.IsReady() {
		t.Fatal("ready after failed poll")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	feed := &fakeFeed{}
	ing := New(feed, newEngine(t, alert.Discard{}), 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ing.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTickDriver(t *testing.T) {
	now := t0.Add(31 * time.Minute)
	alerts := store.New(store.WithClock(func() time.Time { return now }))
	e := newEngine(t, alerts)
	if _, err := e.Ingest(sample("T1", 28.70, 77.30, 0)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	d := NewTickDriver(e, alerts, time.Second, time.Minute, time.Hour, testLogger())
	d.now = func() time.Time { return now }

	if n := d.tick(); n != 1 {
		t.Fatalf("expected one inactive alert, got %d", n)
	}
	if n := d.tick(); n != 0 {
		t.Fatalf("inactive alert re-fired: %d", n)
	}

	list := alerts.List(store.ListOptions{})
	if len(list) != 1 || list[0].Type != domain.AlertInactive {
		t.Fatalf("unexpected alerts %+v", list)
	}
	if _, err := alerts.Resolve(list[0].ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if n := d.prune(); n != 0 {
		t.Fatalf("pruned alert inside retention: %d", n)
	}
	now = now.Add(2 * time.Hour)
	if n := d.prune(); n != 1 {
		t.Fatalf("expected one pruned alert, got %d", n)
	}
}
