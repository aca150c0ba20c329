package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"homeguard/internal/model"
	"homeguard/internal/stream"
)

const DefaultLoadTimeout = 5 * time.Second

// Persistence is the durable backend behind the Store. InsertRule must
// report model.ErrDuplicate and Update/Delete model.ErrNotFound; every other
// error is treated as the backend being unavailable.
type Persistence interface {
	LoadRules(ctx context.Context) ([]model.Rule, error)
	InsertRule(ctx context.Context, rule model.Rule) error
	UpdateRule(ctx context.Context, rule model.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// Patch holds optional rule field changes.
type Patch struct {
	Name             *string                 `json:"name,omitempty"`
	Condition        *model.Condition        `json:"condition,omitempty"`
	Sensitivity      *model.Sensitivity      `json:"sensitivity,omitempty"`
	NotificationType *model.NotificationType `json:"notification_type,omitempty"`
	Actions          *[]model.Action         `json:"actions,omitempty"`
	Enabled          *bool                   `json:"enabled,omitempty"`
}

type Filter struct {
	Enabled       *bool
	ConditionType model.ConditionType
	ActionType    model.ActionType
	Name          string
}

func (f Filter) match(r model.Rule) bool {
	if f.Enabled != nil && r.Enabled != *f.Enabled {
		return false
	}
	if f.ConditionType != "" && r.Condition.Type != f.ConditionType {
		return false
	}
	if f.ActionType != "" && !r.HasAction(f.ActionType) {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Name)) {
		return false
	}
	return true
}

// Store caches rules in front of a Persistence. Mutations are written
// through first and reach the cache only once persisted. Readers work on
// immutable snapshots.
type Store struct {
	mu      sync.Mutex
	persist Persistence
	snap    atomic.Pointer[Snapshot]
	version atomic.Uint64
	checked atomic.Int64
	maxAge  time.Duration
	timeout time.Duration
	loading atomic.Bool
	logger  *slog.Logger
	bus     *stream.Bus
	now     func() time.Time
}

type Option func(*Store)

// WithMaxAge sets how old a snapshot may get before Current reloads it.
func WithMaxAge(d time.Duration) Option { return func(s *Store) { s.maxAge = d } }

// WithLoadTimeout bounds every reload from persistence. Zero waits for the
// backend indefinitely.
func WithLoadTimeout(d time.Duration) Option { return func(s *Store) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithBus(b *stream.Bus) Option { return func(s *Store) { s.bus = b } }

func NewStore(persist Persistence, opts ...Option) *Store {
	s := &Store{
		persist: persist,
		maxAge:  time.Minute,
		timeout: DefaultLoadTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(newSnapshot(nil, 0, time.Time{}))
	return s
}

// Snapshot returns the cached snapshot without touching persistence.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Current returns the cached snapshot and never waits on persistence. Once
// the snapshot is older than the max age a single background reload is
// started; a failed reload leaves the previous rules in place, degraded.
func (s *Store) Current(ctx context.Context) *Snapshot {
	if s.maxAge > 0 {
		last := s.checked.Load()
		if s.now().Sub(time.Unix(0, last)) >= s.maxAge && s.loading.CompareAndSwap(false, true) {
			go func() {
				defer s.loading.Store(false)
				_ = s.Refresh(context.WithoutCancel(ctx))
			}()
		}
	}
	return s.snap.Load()
}

// Refresh reloads all rules from persistence, waiting at most the load
// timeout.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.checked.Store(now.UnixNano())
	loaded, err := s.load(ctx)
	if err != nil {
		s.markDegradedLocked(err)
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	rules := make([]model.Rule, 0, len(loaded))
	for _, r := range loaded {
		rules = append(rules, r.Clone())
	}
	prev := s.snap.Load()
	s.snap.Store(newSnapshot(rules, s.version.Add(1), now))
	if prev.Degraded {
		if s.logger != nil {
			s.logger.Info("rule store recovered", "rules", len(rules))
		}
		s.publish(stream.SnapshotRestored, "rule store recovered", nil)
	}
	return nil
}

// load returns when the timeout expires even if the backend ignores ctx.
func (s *Store) load(ctx context.Context) ([]model.Rule, error) {
	if s.timeout <= 0 {
		return s.persist.LoadRules(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	type result struct {
		rules []model.Rule
		err   error
	}
	done := make(chan result, 1)
	go func() {
		rules, err := s.persist.LoadRules(ctx)
		done <- result{rules, err}
	}()
	select {
	case r := <-done:
		return r.rules, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("load rules: %w", ctx.Err())
	}
}

func (s *Store) markDegradedLocked(err error) {
	prev := s.snap.Load()
	s.snap.Store(prev.degradedCopy(s.version.Add(1), err))
	if s.logger != nil {
		s.logger.Warn("rule store unavailable, using cached snapshot", "err", err, "rules", prev.Len(), "snapshot_age", s.now().Sub(prev.TakenAt).String())
	}
	if !prev.Degraded {
		s.publish(stream.SnapshotDegraded, "rule store unavailable", err.Error())
	}
}

// applyLocked swaps in a snapshot with fn applied to a copy of the current rules.
func (s *Store) applyLocked(fn func([]model.Rule) []model.Rule) {
	prev := s.snap.Load()
	rules := make([]model.Rule, len(prev.Rules))
	copy(rules, prev.Rules)
	rules = fn(rules)
	next := newSnapshot(rules, s.version.Add(1), prev.TakenAt)
	next.Degraded = prev.Degraded
	next.Err = prev.Err
	s.snap.Store(next)
}

func (s *Store) persistErr(op string, err error) error {
	if errors.Is(err, model.ErrDuplicate) || errors.Is(err, model.ErrNotFound) {
		return err
	}
	s.markDegradedLocked(err)
	return fmt.Errorf("%s: %w: %v", op, model.ErrStoreUnavailable, err)
}

// Add validates and persists a new rule and returns its id. An empty id is
// assigned a UUID.
func (s *Store) Add(ctx context.Context, rule model.Rule) (string, error) {
	rule, err := Normalize(rule)
	if err != nil {
		return "", err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if len(rule.Actions) == 0 && s.logger != nil {
		s.logger.Warn("rule has no actions", "rule_id", rule.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Load().Get(rule.ID); ok {
		return "", model.ErrDuplicate
	}
	now := s.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if err := s.persist.InsertRule(ctx, rule); err != nil {
		return "", s.persistErr("add rule", err)
	}
	s.applyLocked(func(rules []model.Rule) []model.Rule { return append(rules, rule) })
	s.publish(stream.RuleChanged, "rule added", rule)
	return rule.ID, nil
}

// Update applies patch to the rule with id.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.snap.Load().Get(id)
	if !ok {
		return model.Rule{}, model.ErrNotFound
	}
	next := current.Clone()
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Condition != nil {
		next.Condition = *patch.Condition
	}
	if patch.Sensitivity != nil {
		next.Sensitivity = *patch.Sensitivity
	}
	if patch.NotificationType != nil {
		next.NotificationType = *patch.NotificationType
	}
	if patch.Actions != nil {
		next.Actions = append([]model.Action(nil), (*patch.Actions)...)
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	return s.replaceLocked(ctx, next)
}

func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (model.Rule, error) {
	return s.Update(ctx, id, Patch{Enabled: &enabled})
}

func (s *Store) replaceLocked(ctx context.Context, next model.Rule) (model.Rule, error) {
	next, err := Normalize(next)
	if err != nil {
		return model.Rule{}, err
	}
	next.UpdatedAt = s.now()
	if err := s.persist.UpdateRule(ctx, next); err != nil {
		return model.Rule{}, s.persistErr("update rule", err)
	}
	s.applyLocked(func(rules []model.Rule) []model.Rule {
		for i := range rules {
			if rules[i].ID == next.ID {
				rules[i] = next
			}
		}
		return rules
	})
	s.publish(stream.RuleChanged, "rule updated", next)
	return next.Clone(), nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Load().Get(id); !ok {
		return model.ErrNotFound
	}
	if err := s.persist.DeleteRule(ctx, id); err != nil {
		return s.persistErr("remove rule", err)
	}
	s.applyLocked(func(rules []model.Rule) []model.Rule {
		out := rules[:0]
		for _, r := range rules {
			if r.ID != id {
				out = append(out, r)
			}
		}
		return out
	})
	s.publish(stream.RuleChanged, "rule removed", map[string]string{"id": id})
	return nil
}

func (s *Store) Get(id string) (model.Rule, error) {
	r, ok := s.snap.Load().Get(id)
	if !ok {
		return model.Rule{}, model.ErrNotFound
	}
	return r.Clone(), nil
}

// List returns matching rules, newest first.
func (s *Store) List(filter Filter) []model.Rule {
	snap := s.snap.Load()
	out := make([]model.Rule, 0, len(snap.Rules))
	for _, r := range snap.Rules {
		if filter.match(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (s *Store) publish(t stream.Type, summary string, detail any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(stream.Message{Type: t, Summary: summary, Detail: detail})
}
