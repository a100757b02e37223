// Package membership tracks which zones each tourist currently occupies and
// reports the zones entered and exited on every position update.
package membership

import (
	"sync"

	"touristguard/internal/domain"
)

// Locator resolves a coordinate to the ids of the zones containing it.
type Locator interface {
	Locate(c domain.Coordinate) []string
}

type state struct {
	mu      sync.Mutex
	active  []string
	removed bool
}

// Tracker owns the membership state of every tourist. Updates for one
// tourist are serialised; different tourists proceed in parallel.
type Tracker struct {
	locator Locator

	mu     sync.Mutex
	states map[string]*state
}

func NewTracker(locator Locator) *Tracker {
	return &Tracker{
		locator: locator,
		states:  make(map[string]*state),
	}
}

// Update locates c, stores the resulting zone set as the tourist's current
// membership and returns the difference from the previous set. The first
// update for a tourist starts from an empty set.
func (t *Tracker) Update(touristID string, c domain.Coordinate) domain.MembershipDelta {
	current := t.locator.Locate(c)

	for {
		s := t.getOrCreate(touristID)
		s.mu.Lock()
		if s.removed {
			// Lost a race with Remove; retry against a fresh entry.
			s.mu.Unlock()
			continue
		}

		delta := diff(touristID, s.active, current)
		s.active = current
		s.mu.Unlock()
		return delta
	}
}

// Active returns the zone ids the tourist is currently inside.
func (t *Tracker) Active(touristID string) ([]string, bool) {
	t.mu.Lock()
	s, ok := t.states[touristID]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil, false
	}
	return append([]string(nil), s.active...), true
}

// Remove discards the tourist's membership. It reports whether any state
// existed.
func (t *Tracker) Remove(touristID string) bool {
	t.mu.Lock()
	s, ok := t.states[touristID]
	if ok {
		delete(t.states, touristID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	s.removed = true
	s.active = nil
	s.mu.Unlock()
	return true
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func (t *Tracker) getOrCreate(touristID string) *state {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[touristID]
	if !ok {
		s = &state{}
		t.states[touristID] = s
	}
	return s
}

// diff keeps the order of its inputs, which the registry returns in
// registration order.
func diff(touristID string, previous, current []string) domain.MembershipDelta {
	delta := domain.MembershipDelta{TouristID: touristID}

	prevSet := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	currSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currSet[id] = struct{}{}
		if _, ok := prevSet[id]; !ok {
			delta.Entered = append(delta.Entered, id)
		}
	}
	for _, id := range previous {
		if _, ok := currSet[id]; !ok {
			delta.Exited = append(delta.Exited, id)
		}
	}
	return delta
}
