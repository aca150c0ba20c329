package storage

import (
	"context"
	"sort"
	"sync"

	"homeguard/internal/model"
)

// Memory is a process-local Store for tests and single-node setups without a
// database.
type Memory struct {
	mu     sync.RWMutex
	rules  map[string]model.Rule
	alerts []model.Alert
}

func NewMemory() *Memory {
	return &Memory{rules: make(map[string]model.Rule)}
}

func (m *Memory) Init(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) LoadRules(context.Context) ([]model.Rule, error) {
	m.mu.RLock()
	out := make([]model.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) InsertRule(_ context.Context, rule model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; ok {
		return model.ErrDuplicate
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

func (m *Memory) UpdateRule(_ context.Context, rule model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return model.ErrNotFound
	}
	m.rules[rule.ID] = rule.Clone()
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) SaveAlerts(_ context.Context, alerts []model.Alert) error {
	m.mu.Lock()
	for _, a := range alerts {
		a.Persisted = true
		m.alerts = append(m.alerts, a)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, limit int) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]model.Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}
