package alert

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"touristguard/internal/domain"
)

type zoneMap map[string]domain.Zone

func (m zoneMap) Find(id string) (domain.Zone, error) {
	z, ok := m[id]
	if !ok {
		return domain.Zone{}, domain.ErrNotFound
	}
	return z, nil
}

var testZones = zoneMap{
	"danger":  {ID: "danger", Name: "Old City", Kind: domain.ZoneDanger},
	"warning": {ID: "warning", Name: "Night Market", Kind: domain.ZoneWarning},
	"safe":    {ID: "safe", Name: "Connaught Place", Kind: domain.ZoneSafe},
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	})
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig(), testZones, sequentialIDs())
}

func sample(id string, lat, lng float64, at time.Duration) domain.Sample {
	return domain.Sample{
		TouristID:  id,
		Coordinate: domain.Coordinate{Lat: lat, Lng: lng},
		Timestamp:  t0.Add(at),
	}
}

func TestGeofenceEnterSeverity(t *testing.T) {
	tests := []struct {
		zone string
		want []domain.Severity
	}{
		{"danger", []domain.Severity{domain.SeverityCritical}},
		{"warning", []domain.Severity{domain.SeverityMedium}},
		{"safe", nil},
	}

	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			e := newTestEvaluator()
			delta := domain.MembershipDelta{TouristID: "t1", Entered: []string{tt.zone}}
			alerts, err := e.OnLocation(sample("t1", 1, 1, 0), delta, []string{tt.zone})
			if err != nil {
				t.Fatalf("OnLocation: %v", err)
			}
			if len(alerts) != len(tt.want) {
				t.Fatalf("got %d alerts, want %d: %+v", len(alerts), len(tt.want), alerts)
			}
			for i, a := range alerts {
				if a.Type != domain.AlertGeofenceEnter || a.Severity != tt.want[i] || a.RelatedZoneID != tt.zone {
					t.Fatalf("unexpected alert %+v", a)
				}
				if a.Resolved {
					t.Fatal("new alert should be unresolved")
				}
			}
		})
	}
}

func TestGeofenceExitOnlyForDanger(t *testing.T) {
	e := newTestEvaluator()
	delta := domain.MembershipDelta{TouristID: "t1", Exited: []string{"danger", "warning", "safe"}}
	alerts, err := e.OnLocation(sample("t1", 1, 1, 0), delta, nil)
	if err != nil {
		t.Fatalf("OnLocation: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.Type != domain.AlertGeofenceExit || a.Severity != domain.SeverityLow || a.RelatedZoneID != "danger" {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestEmptyDeltaProducesNoAlerts(t *testing.T) {
	e := newTestEvaluator()
	for i := 0; i < 3; i++ {
		alerts, err := e.OnLocation(sample("t1", 1, 1, time.Duration(i)*time.Hour), domain.MembershipDelta{}, []string{"danger"})
		if err != nil {
			t.Fatalf("OnLocation: %v", err)
		}
		if len(alerts) != 0 {
			t.Fatalf("step %d: unexpected alerts %+v", i, alerts)
		}
	}
}

func TestOutOfOrderSampleLeavesStateUntouched(t *testing.T) {
	e := newTestEvaluator()
	if _, err := e.OnLocation(sample("t1", 1, 1, time.Minute), domain.MembershipDelta{}, nil); err != nil {
		t.Fatalf("OnLocation: %v", err)
	}

	_, err := e.OnLocation(sample("t1", 2, 2, 0), domain.MembershipDelta{}, nil)
	if !errors.Is(err, domain.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}
	last, _ := e.Last("t1")
	if last.Coordinate != (domain.Coordinate{Lat: 1, Lng: 1}) {
		t.Fatalf("state changed after rejected sample: %+v", last)
	}

	if err := e.CheckOrder("t1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("equal timestamp rejected: %v", err)
	}
	if err := e.CheckOrder("unknown", t0); err != nil {
		t.Fatalf("unknown tourist rejected: %v", err)
	}
}

func TestInactiveFiresOncePerEpisode(t *testing.T) {
	e := newTestEvaluator()
	timeout := e.Config().InactivityTimeout

	if got := e.OnTick("t1", t0.Add(2*timeout)); got != nil {
		t.Fatalf("tick before any sample emitted %+v", got)
	}

	if _, err := e.OnLocation(sample("t1", 1, 1, 0), domain.MembershipDelta{}, nil); err != nil {
		t.Fatal(err)
	}
	if got := e.OnTick("t1", t0.Add(timeout)); got != nil {
		t.Fatalf("tick at exactly the timeout emitted %+v", got)
	}

	got := e.OnTick("t1", t0.Add(timeout+time.Second))
	if len(got) != 1 || got[0].Type != domain.AlertInactive || got[0].Severity != domain.SeverityLow {
		t.Fatalf("expected one inactive alert, got %+v", got)
	}
	if got[0].Message != "No movement detected for 30 minutes" {
		t.Fatalf("unexpected message %q", got[0].Message)
	}
	if got := e.OnTick("t1", t0.Add(timeout+2*time.Second)); got != nil {
		t.Fatalf("second tick re-emitted %+v", got)
	}
	if !e.Inactive("t1") {
		t.Fatal("tourist should be marked inactive")
	}

	// A new sample ends the episode and re-arms the rule.
	if _, err := e.OnLocation(sample("t1", 1, 1, 2*timeout), domain.MembershipDelta{}, nil); err != nil {
		t.Fatal(err)
	}
	if e.Inactive("t1") {
		t.Fatal("sample should end the inactivity episode")
	}
	if got := e.OnTick("t1", t0.Add(3*timeout+time.Second)); len(got) != 1 {
		t.Fatalf("expected a new episode alert, got %+v", got)
	}
}

// walk feeds samples moving north by stepDeg every interval.
func walk(t *testing.T, e *Evaluator, id string, steps int, stepDeg float64, interval time.Duration, active []string) []domain.Alert {
	t.Helper()
	var all []domain.Alert
	for i := 0; i < steps; i++ {
		alerts, err := e.OnLocation(sample(id, 28+float64(i)*stepDeg, 77, time.Duration(i)*interval), domain.MembershipDelta{}, active)
		if err != nil {
			t.Fatalf("OnLocation step %d: %v", i, err)
		}
		all = append(all, alerts...)
	}
	return all
}

func TestSuddenStop(t *testing.T) {
	e := newTestEvaluator()
	// ~111 m per step every 10 s.
	if got := walk(t, e, "t1", 4, 0.001, 10*time.Second, nil); len(got) != 0 {
		t.Fatalf("movement emitted %+v", got)
	}

	last, _ := e.Last("t1")
	stop := domain.Sample{TouristID: "t1", Coordinate: last.Coordinate, Timestamp: last.Timestamp.Add(10 * time.Second)}
	alerts, err := e.OnLocation(stop, domain.MembershipDelta{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Type != domain.AlertSuddenStop || alerts[0].Severity != domain.SeverityLow {
		t.Fatalf("expected one low sudden_stop, got %+v", alerts)
	}

	// Staying put does not re-fire.
	stop.Timestamp = stop.Timestamp.Add(10 * time.Second)
	alerts, _ = e.OnLocation(stop, domain.MembershipDelta{}, nil)
	if len(alerts) != 0 {
		t.Fatalf("stationary sample re-fired %+v", alerts)
	}
}

func TestSuddenStopEscalatesInRiskyZone(t *testing.T) {
	e := newTestEvaluator()
	walk(t, e, "t1", 3, 0.001, 10*time.Second, []string{"warning"})

	last, _ := e.Last("t1")
	stop := domain.Sample{TouristID: "t1", Coordinate: last.Coordinate, Timestamp: last.Timestamp.Add(5 * time.Second)}
	alerts, _ := e.OnLocation(stop, domain.MembershipDelta{}, []string{"safe", "warning"})
	if len(alerts) != 1 || alerts[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected medium sudden_stop, got %+v", alerts)
	}
}

func TestSuddenStopNeedsRecentMovement(t *testing.T) {
	e := newTestEvaluator()
	// Only one prior sample: no movement history.
	walk(t, e, "t1", 1, 0.001, 10*time.Second, nil)
	last, _ := e.Last("t1")
	alerts, _ := e.OnLocation(domain.Sample{TouristID: "t1", Coordinate: last.Coordinate, Timestamp: last.Timestamp.Add(time.Second)}, domain.MembershipDelta{}, nil)
	if len(alerts) != 0 {
		t.Fatalf("stop without movement emitted %+v", alerts)
	}

	// Movement long before the window, then a long gap: not a sudden stop.
	e = newTestEvaluator()
	walk(t, e, "t2", 3, 0.001, 10*time.Second, nil)
	last, _ = e.Last("t2")
	alerts, _ = e.OnLocation(domain.Sample{TouristID: "t2", Coordinate: last.Coordinate, Timestamp: last.Timestamp.Add(time.Hour)}, domain.MembershipDelta{}, nil)
	if len(alerts) != 0 {
		t.Fatalf("stop after gap emitted %+v", alerts)
	}
}

func TestRepeatedSampleIsNotASuddenStop(t *testing.T) {
	e := newTestEvaluator()
	walk(t, e, "t1", 3, 0.001, 10*time.Second, nil)

	last, _ := e.Last("t1")
	alerts, err := e.OnLocation(last, domain.MembershipDelta{}, nil)
	if err != nil {
		t.Fatalf("repeated sample rejected: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("repeated sample emitted %+v", alerts)
	}
}

func TestRouteDeviationOncePerEpisode(t *testing.T) {
	e := newTestEvaluator()
	route := []domain.Coordinate{{Lat: 28.0, Lng: 77.0}, {Lat: 28.1, Lng: 77.0}}
	if err := e.SetRoute("t1", route); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}

	on := func(lng float64, at time.Duration) []domain.Alert {
		alerts, err := e.OnLocation(sample("t1", 28.05, lng, at), domain.MembershipDelta{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		return alerts
	}

	if got := on(77.0, 0); len(got) != 0 {
		t.Fatalf("on-route sample emitted %+v", got)
	}
	got := on(77.02, time.Minute) // ~2 km east
	if len(got) != 1 || got[0].Type != domain.AlertRouteDeviation || got[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected one route_deviation, got %+v", got)
	}
	if got := on(77.03, 2*time.Minute); len(got) != 0 {
		t.Fatalf("continued deviation re-fired %+v", got)
	}
	on(77.0, 3*time.Minute)
	if got := on(77.02, 4*time.Minute); len(got) != 1 {
		t.Fatalf("new deviation episode should fire, got %+v", got)
	}

	e.ClearRoute("t1")
	if got := on(78.0, 5*time.Minute); len(got) != 0 {
		t.Fatalf("cleared route still evaluated: %+v", got)
	}
}

func TestSetRouteValidation(t *testing.T) {
	e := newTestEvaluator()
	if err := e.SetRoute("t1", []domain.Coordinate{{Lat: 1, Lng: 1}}); !errors.Is(err, domain.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
	if err := e.SetRoute("t1", []domain.Coordinate{{Lat: 1, Lng: 1}, {Lat: 100, Lng: 1}}); !errors.Is(err, domain.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestPanicIsCritical(t *testing.T) {
	e := newTestEvaluator()
	c := domain.Coordinate{Lat: 28.6, Lng: 77.2}
	a := e.Panic("t1", c, t0)
	if a.ID == "" || a.Type != domain.AlertPanic || a.Severity != domain.SeverityCritical {
		t.Fatalf("unexpected panic alert %+v", a)
	}
	if a.Location == nil || *a.Location != c {
		t.Fatalf("panic location = %v, want %v", a.Location, c)
	}
	if _, ok := e.Last("t1"); ok {
		t.Fatal("panic should not create location state")
	}
}

func TestRemoveForgetsTourist(t *testing.T) {
	e := newTestEvaluator()
	walk(t, e, "t1", 2, 0.001, time.Minute, nil)
	e.Remove("t1")
	if _, ok := e.Last("t1"); ok {
		t.Fatal("Last after Remove")
	}
	if err := e.CheckOrder("t1", t0.Add(-time.Hour)); err != nil {
		t.Fatalf("removed tourist should accept any timestamp: %v", err)
	}
}
