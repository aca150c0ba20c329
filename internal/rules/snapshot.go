package rules

import (
	"sort"
	"time"

	"homeguard/internal/model"
)

// Snapshot is an immutable view of the rule set. Callers must not modify the
// returned rules.
type Snapshot struct {
	Rules    []model.Rule `json:"rules"`
	Version  uint64       `json:"version"`
	TakenAt  time.Time    `json:"taken_at"`
	Degraded bool         `json:"degraded"`
	Err      string       `json:"error,omitempty"`

	byID    map[string]int
	invalid map[string]error
}

func newSnapshot(rules []model.Rule, version uint64, takenAt time.Time) *Snapshot {
	sortRules(rules)
	s := &Snapshot{Rules: rules, Version: version, TakenAt: takenAt, byID: make(map[string]int, len(rules))}
	for i, r := range rules {
		s.byID[r.ID] = i
		// Persistence can hold rules written by other tools or older
		// versions; they are kept visible but never evaluated.
		if _, err := Normalize(r); err != nil {
			if s.invalid == nil {
				s.invalid = make(map[string]error)
			}
			s.invalid[r.ID] = err
		}
	}
	return s
}

// degradedCopy shares the rule slice; snapshots never mutate it.
func (s *Snapshot) degradedCopy(version uint64, err error) *Snapshot {
	cp := *s
	cp.Version = version
	cp.Degraded = true
	if err != nil {
		cp.Err = err.Error()
	}
	return &cp
}

func (s *Snapshot) Get(id string) (model.Rule, bool) {
	if s == nil {
		return model.Rule{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return model.Rule{}, false
	}
	return s.Rules[i], true
}

// Invalid returns the validation error of the rule with the given id, or nil
// when the rule is valid or unknown.
func (s *Snapshot) Invalid(id string) error {
	if s == nil {
		return nil
	}
	return s.invalid[id]
}

func (s *Snapshot) Enabled() []model.Rule {
	if s == nil {
		return nil
	}
	out := make([]model.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rules)
}

// sortRules orders newest first, then by id.
func sortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.After(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}
