package match

import (
	"errors"
	"strings"
	"time"

	"homeguard/internal/model"
)

// DeviceRegistry answers device validity and liveness for device conditions.
type DeviceRegistry interface {
	Known(id string) bool
	Live(id string) bool
}

// Reasons a rule did not match.
const (
	ReasonDisabled      = "disabled"
	ReasonCondition     = "condition"
	ReasonSource        = "source"
	ReasonSensitivity   = "sensitivity"
	ReasonUnknownDevice = "unknown_device"
)

// Match is the outcome of evaluating one rule against one event.
type Match struct {
	Matched    bool
	Reason     string
	Confidence float64
	Threshold  float64
	DeviceLive bool
}

type Matcher struct {
	loc     *time.Location
	devices DeviceRegistry
}

// NewMatcher evaluates time conditions in loc (UTC when nil). devices may be nil.
func NewMatcher(loc *time.Location, devices DeviceRegistry) *Matcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Matcher{loc: loc, devices: devices}
}

// Match checks enabled state, the condition and the sensitivity gate, in that
// order. A malformed condition yields a *model.ConfigError and no match.
func (m *Matcher) Match(rule model.Rule, ev model.Event) (Match, error) {
	res := Match{Confidence: ev.Confidence, Threshold: rule.Sensitivity.Threshold()}
	if !rule.Enabled {
		res.Reason = ReasonDisabled
		return res, nil
	}
	ok, reason, err := m.matchCondition(rule.Condition, ev)
	if err != nil {
		var ce *model.ConfigError
		if errors.As(err, &ce) && ce.RuleID == "" {
			ce.RuleID = rule.ID
		}
		res.Reason = ReasonCondition
		return res, err
	}
	if rule.Condition.Type == model.ConditionDevice && m.devices != nil && ev.DeviceID != "" {
		res.DeviceLive = m.devices.Live(ev.DeviceID)
	}
	if !ok {
		res.Reason = reason
		return res, nil
	}
	// Written so that a NaN confidence fails the gate.
	if !(ev.Confidence >= res.Threshold) {
		res.Reason = ReasonSensitivity
		return res, nil
	}
	res.Matched = true
	return res, nil
}

// Matches reports whether cond holds for ev, ignoring sensitivity.
func (m *Matcher) Matches(cond model.Condition, ev model.Event) (bool, error) {
	ok, _, err := m.matchCondition(cond, ev)
	return ok, err
}

func (m *Matcher) matchCondition(cond model.Condition, ev model.Event) (bool, string, error) {
	if err := ValidateCondition(cond); err != nil {
		return false, ReasonCondition, err
	}
	switch cond.Type {
	case model.ConditionFace:
		if ev.Source != model.SourceFace {
			return false, ReasonSource, nil
		}
		return compareString(cond.Operator, ev.Kind, cond.Value), ReasonCondition, nil
	case model.ConditionBehavior:
		return compareString(cond.Operator, ev.Kind, cond.Value), ReasonCondition, nil
	case model.ConditionDevice:
		if ev.DeviceID == "" {
			return false, ReasonCondition, nil
		}
		if m.devices != nil && !m.devices.Known(ev.DeviceID) {
			return false, ReasonUnknownDevice, nil
		}
		return compareString(cond.Operator, ev.DeviceID, cond.Value), ReasonCondition, nil
	case model.ConditionTime:
		return m.matchTime(cond, ev.Timestamp), ReasonCondition, nil
	}
	return false, ReasonCondition, nil
}

func (m *Matcher) matchTime(cond model.Condition, ts time.Time) bool {
	now := clockOf(ts, m.loc)
	value := strings.TrimSpace(cond.Value)
	if strings.Contains(value, "-") {
		w, err := ParseWindow(value)
		if err != nil {
			return false
		}
		return w.Contains(now)
	}
	at, err := ParseTimeOfDay(value)
	if err != nil {
		return false
	}
	if cond.Operator == model.OpAfter {
		return now >= at
	}
	return now < at
}

func compareString(op model.Operator, got, want string) bool {
	switch op {
	case model.OpEquals:
		return got == want
	case model.OpContains:
		return strings.Contains(got, want)
	}
	return false
}

// ValidateCondition rejects unknown types, operators that do not apply to the
// type, empty values and unparseable times.
func ValidateCondition(cond model.Condition) error {
	if strings.TrimSpace(cond.Value) == "" {
		return &model.ConfigError{Field: "condition.value", Reason: "must not be empty"}
	}
	switch cond.Type {
	case model.ConditionFace, model.ConditionBehavior, model.ConditionDevice:
		if cond.Operator != model.OpEquals && cond.Operator != model.OpContains {
			return &model.ConfigError{Field: "condition.operator", Reason: "operator " + string(cond.Operator) + " does not apply to " + string(cond.Type) + " conditions"}
		}
	case model.ConditionTime:
		switch cond.Operator {
		case model.OpAfter:
			value := strings.TrimSpace(cond.Value)
			if strings.Contains(value, "-") {
				if _, err := ParseWindow(value); err != nil {
					return &model.ConfigError{Field: "condition.value", Reason: err.Error()}
				}
				return nil
			}
			if _, err := ParseTimeOfDay(value); err != nil {
				return &model.ConfigError{Field: "condition.value", Reason: err.Error()}
			}
		case model.OpBefore:
			if _, err := ParseTimeOfDay(cond.Value); err != nil {
				return &model.ConfigError{Field: "condition.value", Reason: err.Error()}
			}
		default:
			return &model.ConfigError{Field: "condition.operator", Reason: "operator " + string(cond.Operator) + " does not apply to time conditions"}
		}
	default:
		return &model.ConfigError{Field: "condition.type", Reason: "unknown condition type " + string(cond.Type)}
	}
	return nil
}
