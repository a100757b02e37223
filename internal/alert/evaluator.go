// Package alert turns membership changes, clock ticks and panic triggers into
// typed alerts, and defines the sink boundary alerts are published to.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"touristguard/internal/domain"
	"touristguard/internal/geo"
)

// maxRecentSamples bounds the sudden-stop window for high-rate sources.
const maxRecentSamples = 64

type Config struct {
	InactivityTimeout             time.Duration
	SuddenStopThresholdMeters     float64
	SuddenStopWindow              time.Duration
	RouteDeviationThresholdMeters float64
}

func DefaultConfig() Config {
	return Config{
		InactivityTimeout:             30 * time.Minute,
		SuddenStopThresholdMeters:     5,
		SuddenStopWindow:              2 * time.Minute,
		RouteDeviationThresholdMeters: 500,
	}
}

func (c Config) Validate() error {
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity timeout must be positive, got %s", c.InactivityTimeout)
	}
	if c.SuddenStopThresholdMeters <= 0 {
		return fmt.Errorf("sudden stop threshold must be positive, got %v", c.SuddenStopThresholdMeters)
	}
	if c.SuddenStopWindow <= 0 {
		return fmt.Errorf("sudden stop window must be positive, got %s", c.SuddenStopWindow)
	}
	if c.RouteDeviationThresholdMeters <= 0 {
		return fmt.Errorf("route deviation threshold must be positive, got %v", c.RouteDeviationThresholdMeters)
	}
	return nil
}

// Zones resolves zone ids carried in membership deltas.
type Zones interface {
	Find(id string) (domain.Zone, error)
}

type touristState struct {
	seen   bool
	last   domain.Sample
	recent []domain.Sample

	route     []domain.Coordinate
	deviating bool
	inactive  bool
}

// Evaluator holds the per-tourist alert state machine. It is safe for
// concurrent use across tourists; calls for the same tourist must be
// serialised by the caller.
type Evaluator struct {
	cfg   Config
	zones Zones
	newID func() string

	mu     sync.Mutex
	states map[string]*touristState
}

type Option func(*Evaluator)

// WithIDGenerator replaces the UUID generator used for alert ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Evaluator) { e.newID = fn }
}

func NewEvaluator(cfg Config, zones Zones, opts ...Option) *Evaluator {
	e := &Evaluator{
		cfg:    cfg,
		zones:  zones,
		newID:  uuid.NewString,
		states: make(map[string]*touristState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Config() Config { return e.cfg }

// CheckOrder fails with ErrOutOfOrderSample if ts precedes the last sample
// processed for the tourist. Equal timestamps are accepted.
func (e *Evaluator) CheckOrder(touristID string, ts time.Time) error {
	st := e.lookup(touristID)
	if st == nil || !st.seen {
		return nil
	}
	if ts.Before(st.last.Timestamp) {
		return fmt.Errorf("tourist %q: sample at %s precedes %s: %w",
			touristID, ts.Format(time.RFC3339Nano), st.last.Timestamp.Format(time.RFC3339Nano), domain.ErrOutOfOrderSample)
	}
	return nil
}

// OnLocation applies a processed sample and its membership delta. active is
// the tourist's membership after the update. Nothing is mutated when the
// sample is out of order.
func (e *Evaluator) OnLocation(s domain.Sample, delta domain.MembershipDelta, active []string) ([]domain.Alert, error) {
	if err := e.CheckOrder(s.TouristID, s.Timestamp); err != nil {
		return nil, err
	}
	st := e.getOrCreate(s.TouristID)

	var alerts []domain.Alert
	loc := s.Coordinate

	for _, id := range delta.Entered {
		z, err := e.zones.Find(id)
		if err != nil || !z.Kind.Risky() {
			continue
		}
		severity := domain.SeverityMedium
		if z.Kind == domain.ZoneDanger {
			severity = domain.SeverityCritical
		}
		a := e.newAlert(s.TouristID, domain.AlertGeofenceEnter, severity, s.Timestamp, &loc)
		a.RelatedZoneID = z.ID
		a.Message = fmt.Sprintf("Entered %s zone: %s", z.Kind, zoneLabel(z))
		alerts = append(alerts, a)
	}

	for _, id := range delta.Exited {
		z, err := e.zones.Find(id)
		if err != nil || z.Kind != domain.ZoneDanger {
			continue
		}
		a := e.newAlert(s.TouristID, domain.AlertGeofenceExit, domain.SeverityLow, s.Timestamp, &loc)
		a.RelatedZoneID = z.ID
		a.Message = fmt.Sprintf("Left danger zone: %s", zoneLabel(z))
		alerts = append(alerts, a)
	}

	if len(st.route) >= 2 {
		d := geo.DistanceToPathMeters(loc, st.route)
		switch {
		case d > e.cfg.RouteDeviationThresholdMeters && !st.deviating:
			st.deviating = true
			a := e.newAlert(s.TouristID, domain.AlertRouteDeviation, domain.SeverityMedium, s.Timestamp, &loc)
			a.Message = fmt.Sprintf("You have deviated from your planned route by %.0f m", d)
			alerts = append(alerts, a)
		case d <= e.cfg.RouteDeviationThresholdMeters:
			st.deviating = false
		}
	}

	if e.suddenStop(st, s) {
		severity := domain.SeverityLow
		if e.anyRisky(active) {
			severity = domain.SeverityMedium
		}
		a := e.newAlert(s.TouristID, domain.AlertSuddenStop, severity, s.Timestamp, &loc)
		a.Message = "Sudden stop detected after continuous movement"
		alerts = append(alerts, a)
	}

	st.seen = true
	st.last = s
	st.inactive = false
	st.recent = trimWindow(append(st.recent, s), s.Timestamp.Add(-e.cfg.SuddenStopWindow))
	return alerts, nil
}

// OnTick emits an inactive alert once per inactivity episode when no sample
// has arrived for longer than the configured timeout.
func (e *Evaluator) OnTick(touristID string, now time.Time) []domain.Alert {
	st := e.lookup(touristID)
	if st == nil || !st.seen || st.inactive {
		return nil
	}
	if now.Sub(st.last.Timestamp) <= e.cfg.InactivityTimeout {
		return nil
	}

	st.inactive = true
	loc := st.last.Coordinate
	a := e.newAlert(touristID, domain.AlertInactive, domain.SeverityLow, now, &loc)
	a.Message = fmt.Sprintf("No movement detected for %s", humanDuration(e.cfg.InactivityTimeout))
	return []domain.Alert{a}
}

// Panic builds the critical alert for an explicit panic trigger. It never
// touches tourist state.
func (e *Evaluator) Panic(touristID string, c domain.Coordinate, now time.Time) domain.Alert {
	loc := c
	a := e.newAlert(touristID, domain.AlertPanic, domain.SeverityCritical, now, &loc)
	a.Message = "Panic button pressed: immediate assistance requested"
	return a
}

// SetRoute declares the planned route used for deviation checks.
func (e *Evaluator) SetRoute(touristID string, route []domain.Coordinate) error {
	if len(route) < 2 {
		return fmt.Errorf("%w: need at least 2 points, got %d", domain.ErrInvalidRoute, len(route))
	}
	for _, c := range route {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidRoute, err)
		}
	}
	st := e.getOrCreate(touristID)
	st.route = append([]domain.Coordinate(nil), route...)
	st.deviating = false
	return nil
}

func (e *Evaluator) ClearRoute(touristID string) {
	if st := e.lookup(touristID); st != nil {
		st.route = nil
		st.deviating = false
	}
}

func (e *Evaluator) Route(touristID string) []domain.Coordinate {
	if st := e.lookup(touristID); st != nil {
		return append([]domain.Coordinate(nil), st.route...)
	}
	return nil
}

// Last returns the most recent sample processed for the tourist.
func (e *Evaluator) Last(touristID string) (domain.Sample, bool) {
	st := e.lookup(touristID)
	if st == nil || !st.seen {
		return domain.Sample{}, false
	}
	return st.last, true
}

// Inactive reports whether the tourist is inside an inactivity episode.
func (e *Evaluator) Inactive(touristID string) bool {
	st := e.lookup(touristID)
	return st != nil && st.inactive
}

func (e *Evaluator) Remove(touristID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, touristID)
}

// suddenStop reports whether s ends a stretch of continuous movement: the
// step to s is below the threshold, and every step inside the window before
// it (at least one) was at or above it.
func (e *Evaluator) suddenStop(st *touristState, s domain.Sample) bool {
	if len(st.recent) == 0 {
		return false
	}
	prev := st.recent[len(st.recent)-1]
	if !s.Timestamp.After(prev.Timestamp) {
		return false
	}
	if geo.HaversineMeters(prev.Coordinate, s.Coordinate) >= e.cfg.SuddenStopThresholdMeters {
		return false
	}
	if s.Timestamp.Sub(prev.Timestamp) > e.cfg.SuddenStopWindow {
		return false
	}

	start := s.Timestamp.Add(-e.cfg.SuddenStopWindow)
	moving := 0
	for i := 1; i < len(st.recent); i++ {
		a, b := st.recent[i-1], st.recent[i]
		if a.Timestamp.Before(start) {
			continue
		}
		if geo.HaversineMeters(a.Coordinate, b.Coordinate) < e.cfg.SuddenStopThresholdMeters {
			return false
		}
		moving++
	}
	return moving > 0
}

func (e *Evaluator) anyRisky(active []string) bool {
	for _, id := range active {
		if z, err := e.zones.Find(id); err == nil && z.Kind.Risky() {
			return true
		}
	}
	return false
}

func (e *Evaluator) newAlert(touristID string, t domain.AlertType, sev domain.Severity, ts time.Time, loc *domain.Coordinate) domain.Alert {
	a := domain.Alert{
		ID:        e.newID(),
		TouristID: touristID,
		Type:      t,
		Severity:  sev,
		Timestamp: ts,
	}
	if loc != nil {
		c := *loc
		a.Location = &c
	}
	return a
}

func (e *Evaluator) lookup(touristID string) *touristState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[touristID]
}

func (e *Evaluator) getOrCreate(touristID string) *touristState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[touristID]
	if !ok {
		st = &touristState{}
		e.states[touristID] = st
	}
	return st
}

// trimWindow drops samples older than start, always keeping the last two.
func trimWindow(recent []domain.Sample, start time.Time) []domain.Sample {
	drop := 0
	for drop < len(recent)-2 && (recent[drop].Timestamp.Before(start) || len(recent)-drop > maxRecentSamples) {
		drop++
	}
	if drop == 0 {
		return recent
	}
	return append(recent[:0], recent[drop:]...)
}

func zoneLabel(z domain.Zone) string {
	if z.Name != "" {
		return z.Name
	}
	return z.ID
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
