package alerts

import (
	"strings"
	"sync"
	"time"

	"homeguard/internal/model"
)

// Store is a bounded in-memory ring of the most recent alerts.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.AddBatch([]model.Alert{alert})
}

// AddBatch appends alerts under one lock so readers never observe part of a
// batch.
func (s *Store) AddBatch(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, alerts...)
	if over := len(s.buf) - s.limit; over > 0 {
		s.buf = append(s.buf[:0:0], s.buf[over:]...)
	}
}

// List returns up to limit alerts, oldest first.
func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

// Filter selects alerts from the ring. Zero fields match everything; set
// fields combine with AND.
type Filter struct {
	RuleID    string
	EventID   string
	EventKind string
	DeviceID  string
	Severity  model.Severity
	Since     time.Time
	// Limit keeps only the newest matches when positive.
	Limit int
}

func (f Filter) Match(a model.Alert) bool {
	switch {
	case f.RuleID != "" && a.RuleID != f.RuleID:
		return false
	case f.EventID != "" && a.EventID != f.EventID:
		return false
	case f.EventKind != "" && !strings.EqualFold(a.EventKind, f.EventKind):
		return false
	case f.DeviceID != "" && a.DeviceID != f.DeviceID:
		return false
	case f.Severity != "" && a.Severity != f.Severity:
		return false
	case !f.Since.IsZero() && a.CreatedAt.Before(f.Since):
		return false
	}
	return true
}

// Apply filters list in place order and trims it to the newest Limit matches.
func (f Filter) Apply(list []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(list))
	for _, a := range list {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Query returns the alerts matching f, oldest first.
func (s *Store) Query(f Filter) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f.Apply(s.buf)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
