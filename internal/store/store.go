// Package store keeps the in-memory alert log the admin API reads from.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"touristguard/internal/domain"
)

type ListOptions struct {
	TouristID string
	Type      *domain.AlertType
	Severity  *domain.Severity
	Resolved  *bool
	Since     time.Time
	Limit     int
}

// ResolveListener is notified after an alert has been marked resolved.
type ResolveListener interface {
	AlertResolved(a domain.Alert)
}

type Store struct {
	mu         sync.RWMutex
	alerts     map[string]*domain.Alert
	seq        map[string]uint64
	next       uint64
	byTourist  map[string]map[string]struct{}
	byType     map[domain.AlertType]map[string]struct{}
	unresolved int

	maxAlerts int
	now       func() time.Time
	listeners []ResolveListener
}

type Option func(*Store)

// WithMaxAlerts caps the number of retained alerts. The oldest resolved
// alerts are evicted first. Zero means unbounded.
func WithMaxAlerts(n int) Option {
	return func(s *Store) { s.maxAlerts = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		alerts:    make(map[string]*domain.Alert),
		seq:       make(map[string]uint64),
		byTourist: make(map[string]map[string]struct{}),
		byType:    make(map[domain.AlertType]map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l for resolution events. Not safe to call once the
// store is in use.
func (s *Store) AddListener(l ResolveListener) {
	s.listeners = append(s.listeners, l)
}

// Publish records a newly emitted alert. Re-publishing a known id is a no-op.
func (s *Store) Publish(a domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[a.ID]; exists {
		return
	}
	stored := copyAlert(&a)
	s.alerts[a.ID] = stored
	s.next++
	s.seq[a.ID] = s.next
	s.addToIndices(stored)
	if !stored.Resolved {
		s.unresolved++
	}

	if s.maxAlerts > 0 && len(s.alerts) > s.maxAlerts {
		s.evictOldest()
	}
}

func (s *Store) Get(id string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.Alert{}, fmt.Errorf("alert %q: %w", id, domain.ErrNotFound)
	}
	return *copyAlert(a), nil
}

// Resolve marks the alert resolved. Resolving an already resolved alert
// returns it unchanged and does not notify listeners again.
func (s *Store) Resolve(id string) (domain.Alert, error) {
	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return domain.Alert{}, fmt.Errorf("alert %q: %w", id, domain.ErrNotFound)
	}
	if a.Resolved {
		out := *copyAlert(a)
		s.mu.Unlock()
		return out, nil
	}

	at := s.now()
	a.Resolved = true
	a.ResolvedAt = &at
	s.unresolved--
	out := *copyAlert(a)
	s.mu.Unlock()

	for _, l := range s.listeners {
		l.AlertResolved(out)
	}
	return out, nil
}

// List returns matching alerts, newest first.
func (s *Store) List(opts ListOptions) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.getCandidates(opts)

	matched := make([]*domain.Alert, 0, len(candidates))
	for id := range candidates {
		a := s.alerts[id]
		if opts.Severity != nil && a.Severity != *opts.Severity {
			continue
		}
		if opts.Resolved != nil && a.Resolved != *opts.Resolved {
			continue
		}
		if !opts.Since.IsZero() && a.Timestamp.Before(opts.Since) {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		return s.seq[matched[i].ID] > s.seq[matched[j].ID]
	})
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]domain.Alert, len(matched))
	for i, a := range matched {
		result[i] = *copyAlert(a)
	}
	return result
}

// Unresolved returns the open alerts of one tourist, newest first.
func (s *Store) Unresolved(touristID string) []domain.Alert {
	open := false
	return s.List(ListOptions{TouristID: touristID, Resolved: &open})
}

// UnreadCount is the number of unresolved alerts.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unresolved
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// CountBySeverity counts unresolved alerts per severity.
func (s *Store) CountBySeverity() map[domain.Severity]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.Severity]int)
	for _, a := range s.alerts {
		if !a.Resolved {
			counts[a.Severity]++
		}
	}
	return counts
}

// PruneResolved drops alerts resolved before cutoff and returns how many
// were removed.
func (s *Store) PruneResolved(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, a := range s.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			s.remove(id)
			removed++
		}
	}
	return removed
}

func (s *Store) evictOldest() {
	var victim string
	var victimSeq uint64
	var fallback string
	var fallbackSeq uint64
	for id, a := range s.alerts {
		n := s.seq[id]
		if a.Resolved && (victim == "" || n < victimSeq) {
			victim, victimSeq = id, n
		}
		if fallback == "" || n < fallbackSeq {
			fallback, fallbackSeq = id, n
		}
	}
	if victim == "" {
		victim = fallback
	}
	s.remove(victim)
}

func (s *Store) remove(id string) {
	a, ok := s.alerts[id]
	if !ok {
		return
	}
	if !a.Resolved {
		s.unresolved--
	}
	s.removeFromIndices(a)
	delete(s.alerts, id)
	delete(s.seq, id)
}

func (s *Store) getCandidates(opts ListOptions) map[string]struct{} {
	if opts.Type != nil && opts.TouristID != "" {
		return intersect(s.byType[*opts.Type], s.byTourist[opts.TouristID])
	}
	if opts.Type != nil {
		return copySet(s.byType[*opts.Type])
	}
	if opts.TouristID != "" {
		return copySet(s.byTourist[opts.TouristID])
	}

	result := make(map[string]struct{}, len(s.alerts))
	for id := range s.alerts {
		result[id] = struct{}{}
	}
	return result
}

func (s *Store) addToIndices(a *domain.Alert) {
	if s.byTourist[a.TouristID] == nil {
		s.byTourist[a.TouristID] = make(map[string]struct{})
	}
	s.byTourist[a.TouristID][a.ID] = struct{}{}

	if s.byType[a.Type] == nil {
		s.byType[a.Type] = make(map[string]struct{})
	}
	s.byType[a.Type][a.ID] = struct{}{}
}

func (s *Store) removeFromIndices(a *domain.Alert) {
	if s.byTourist[a.TouristID] != nil {
		delete(s.byTourist[a.TouristID], a.ID)
		if len(s.byTourist[a.TouristID]) == 0 {
			delete(s.byTourist, a.TouristID)
		}
	}

	if s.byType[a.Type] != nil {
		delete(s.byType[a.Type], a.ID)
		if len(s.byType[a.Type]) == 0 {
			delete(s.byType, a.Type)
		}
	}
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil || b == nil {
		return make(map[string]struct{})
	}

	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}

	result := make(map[string]struct{})
	for id := range smaller {
		if _, ok := larger[id]; ok {
			result[id] = struct{}{}
		}
	}
	return result
}

func copySet(src map[string]struct{}) map[string]struct{} {
	result := make(map[string]struct{}, len(src))
	for id := range src {
		result[id] = struct{}{}
	}
	return result
}

func copyAlert(a *domain.Alert) *domain.Alert {
	c := *a
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
