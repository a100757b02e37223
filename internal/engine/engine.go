// Package engine wires zone lookup, membership tracking and alert evaluation
// into the single entry point used by the HTTP API and the location feed.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"touristguard/internal/alert"
	"touristguard/internal/domain"
	"touristguard/internal/membership"
)

// Zones is the read-only view of the zone registry the engine needs.
type Zones interface {
	Locate(c domain.Coordinate) []string
	Find(id string) (domain.Zone, error)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder receives engine measurements. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	SampleIngested()
	SampleRejected(reason string)
	AlertEmitted(a domain.Alert)
	ObserveEvaluation(d time.Duration)
	SetTourists(n int)
}

type nopRecorder struct{}

func (nopRecorder) SampleIngested()                 {}
func (nopRecorder) SampleRejected(string)           {}
func (nopRecorder) AlertEmitted(domain.Alert)       {}
func (nopRecorder) ObserveEvaluation(time.Duration) {}
func (nopRecorder) SetTourists(int)                 {}

// Result is what a single ingested sample produced.
type Result struct {
	Delta  domain.MembershipDelta `json:"delta"`
	Alerts []domain.Alert         `json:"alerts"`
}

// Snapshot is a point-in-time view of one tourist.
type Snapshot struct {
	TouristID   string              `json:"touristId"`
	Last        *domain.Sample      `json:"last,omitempty"`
	ActiveZones []string            `json:"activeZones"`
	Route       []domain.Coordinate `json:"route,omitempty"`
	Inactive    bool                `json:"inactive"`
}

type session struct {
	mu      sync.Mutex
	removed bool
}

type Engine struct {
	zones     Zones
	tracker   *membership.Tracker
	evaluator *alert.Evaluator
	sink      alert.Sink

	clock    Clock
	recorder Recorder
	logger   *slog.Logger
	evalOpts []alert.Option

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the UUID generator used for alert ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.evalOpts = append(e.evalOpts, alert.WithIDGenerator(fn)) }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an engine over a populated zone registry. A nil sink discards
// alerts.
func New(zones Zones, cfg alert.Config, sink alert.Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("alert config: %w", err)
	}
	if sink == nil {
		sink = alert.Discard{}
	}

	e := &Engine{
		zones:    zones,
		tracker:  membership.NewTracker(zones),
		sink:     sink,
		clock:    systemClock{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	e.evaluator = alert.NewEvaluator(cfg, zones, e.evalOpts...)
	return e, nil
}

func (e *Engine) Config() alert.Config { return e.evaluator.Config() }

// Ingest processes one location sample: membership is recomputed, the
// evaluator runs and the resulting alerts are published. Samples older than
// the tourist's last one fail with ErrOutOfOrderSample and change nothing.
func (e *Engine) Ingest(s domain.Sample) (Result, error) {
	if err := validateSample(s); err != nil {
		e.recorder.SampleRejected("invalid")
		return Result{}, err
	}

	start := time.Now()
	sess := e.acquire(s.TouristID, true)

	if err := e.evaluator.CheckOrder(s.TouristID, s.Timestamp); err != nil {
		sess.mu.Unlock()
		e.recorder.SampleRejected("out_of_order")
		return Result{}, err
	}

	delta := e.tracker.Update(s.TouristID, s.Coordinate)
	active, _ := e.tracker.Active(s.TouristID)
	alerts, err := e.evaluator.OnLocation(s, delta, active)
	sess.mu.Unlock()
	if err != nil {
		e.recorder.SampleRejected("out_of_order")
		return Result{}, err
	}

	e.recorder.ObserveEvaluation(time.Since(start))
	e.recorder.SampleIngested()
	e.publish(alerts)

	if !delta.Empty() {
		e.logger.Debug("membership changed",
			"tourist_id", s.TouristID,
			"entered", delta.Entered,
			"exited", delta.Exited,
		)
	}
	return Result{Delta: delta, Alerts: alerts}, nil
}

// TriggerPanic emits a critical panic alert at c and returns its id.
func (e *Engine) TriggerPanic(touristID string, c domain.Coordinate) (string, error) {
	if touristID == "" {
		return "", fmt.Errorf("%w: empty tourist id", domain.ErrInvalidSample)
	}
	if err := c.Validate(); err != nil {
		return "", err
	}

	sess := e.acquire(touristID, true)
	a := e.evaluator.Panic(touristID, c, e.clock.Now())
	sess.mu.Unlock()

	e.logger.Warn("panic triggered", "tourist_id", touristID, "alert_id", a.ID, "location", c.String())
	e.publish([]domain.Alert{a})
	return a.ID, nil
}

// Tick runs the time-driven rules for every known tourist at now.
func (e *Engine) Tick(now time.Time) []domain.Alert {
	var alerts []domain.Alert
	for _, id := range e.touristIDs() {
		sess := e.acquire(id, false)
		if sess == nil {
			continue
		}
		alerts = append(alerts, e.evaluator.OnTick(id, now)...)
		sess.mu.Unlock()
	}
	e.publish(alerts)
	return alerts
}

func (e *Engine) SetRoute(touristID string, route []domain.Coordinate) error {
	if touristID == "" {
		return fmt.Errorf("%w: empty tourist id", domain.ErrInvalidRoute)
	}
	sess := e.acquire(touristID, true)
	defer sess.mu.Unlock()
	return e.evaluator.SetRoute(touristID, route)
}

func (e *Engine) ClearRoute(touristID string) {
	sess := e.acquire(touristID, false)
	if sess == nil {
		return
	}
	defer sess.mu.Unlock()
	e.evaluator.ClearRoute(touristID)
}

// RemoveTourist forgets all state held for the tourist. Alerts already
// published are left alone.
func (e *Engine) RemoveTourist(touristID string) error {
	e.mu.Lock()
	sess, ok := e.sessions[touristID]
	if ok {
		delete(e.sessions, touristID)
	}
	n := len(e.sessions)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("tourist %q: %w", touristID, domain.ErrNotFound)
	}

	sess.mu.Lock()
	sess.removed = true
	e.tracker.Remove(touristID)
	e.evaluator.Remove(touristID)
	sess.mu.Unlock()

	e.recorder.SetTourists(n)
	e.logger.Info("tourist removed", "tourist_id", touristID)
	return nil
}

func (e *Engine) Tourist(touristID string) (Snapshot, error) {
	sess := e.acquire(touristID, false)
	if sess == nil {
		return Snapshot{}, fmt.Errorf("tourist %q: %w", touristID, domain.ErrNotFound)
	}
	defer sess.mu.Unlock()
	return e.snapshot(touristID), nil
}

// Tourists returns a snapshot of every known tourist ordered by id.
func (e *Engine) Tourists() []Snapshot {
	ids := e.touristIDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		sess := e.acquire(id, false)
		if sess == nil {
			continue
		}
		out = append(out, e.snapshot(id))
		sess.mu.Unlock()
	}
	return out
}

func (e *Engine) TouristCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) snapshot(touristID string) Snapshot {
	snap := Snapshot{
		TouristID: touristID,
		Route:     e.evaluator.Route(touristID),
		Inactive:  e.evaluator.Inactive(touristID),
	}
	if last, ok := e.evaluator.Last(touristID); ok {
		snap.Last = &last
	}
	snap.ActiveZones, _ = e.tracker.Active(touristID)
	if snap.ActiveZones == nil {
		snap.ActiveZones = []string{}
	}
	return snap
}

// acquire returns the tourist's session with its lock held. When create is
// false and the tourist is unknown it returns nil.
func (e *Engine) acquire(touristID string, create bool) *session {
	for {
		e.mu.Lock()
		sess, ok := e.sessions[touristID]
		if !ok {
			if !create {
				e.mu.Unlock()
				return nil
			}
			sess = &session{}
			e.sessions[touristID] = sess
			n := len(e.sessions)
			e.mu.Unlock()
			e.recorder.SetTourists(n)
		} else {
			e.mu.Unlock()
		}

		sess.mu.Lock()
		if !sess.removed {
			return sess
		}
		// Removed between lookup and lock.
		sess.mu.Unlock()
		if !create {
			return nil
		}
	}
}

func (e *Engine) touristIDs() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (e *Engine) publish(alerts []domain.Alert) {
	for _, a := range alerts {
		e.recorder.AlertEmitted(a)
		e.sink.Publish(a)
	}
}

func validateSample(s domain.Sample) error {
	if s.TouristID == "" {
		return fmt.Errorf("%w: empty tourist id", domain.ErrInvalidSample)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", domain.ErrInvalidSample)
	}
	if err := s.Coordinate.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSample, err)
	}
	if s.AccuracyMeters != nil && *s.AccuracyMeters < 0 {
		return fmt.Errorf("%w: negative accuracy", domain.ErrInvalidSample)
	}
	return nil
}
