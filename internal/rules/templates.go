package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"homeguard/internal/model"
)

// Template is a named starting point for a rule.
type Template struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Condition model.Condition `json:"condition"`
	Actions   []model.Action  `json:"actions"`
}

var templates = []Template{
	{
		Key:       "vexor-warning",
		Name:      "VEXOR Warning",
		Condition: model.Condition{Type: model.ConditionFace, Operator: model.OpEquals, Value: model.FaceFoe},
		Actions: []model.Action{
			{Type: model.ActionSpeaker, Value: "Leave the property now."},
			{Type: model.ActionLight, Value: "red_flash"},
			{Type: model.ActionNotification, Value: "Intruder detected"},
		},
	},
	{
		Key:       "silent-alert",
		Name:      "Silent Alert",
		Condition: model.Condition{Type: model.ConditionFace, Operator: model.OpEquals, Value: model.FaceUnknown},
		Actions: []model.Action{
			{Type: model.ActionNotification, Value: "Unknown person detected"},
			{Type: model.ActionLight, Value: "yellow_flash"},
		},
	},
	{
		Key:       "auto-police-contact",
		Name:      "Auto Police Contact",
		Condition: model.Condition{Type: model.ConditionBehavior, Operator: model.OpEquals, Value: "theft"},
		Actions: []model.Action{
			{Type: model.ActionPolice, Value: "emergency"},
			{Type: model.ActionNotification, Value: "Police contacted"},
			{Type: model.ActionLight, Value: "red_flash"},
		},
	},
}

func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.Actions = append([]model.Action(nil), t.Actions...)
		out[i] = t
	}
	return out
}

func LookupTemplate(key string) (Template, bool) {
	for _, t := range Templates() {
		if strings.EqualFold(t.Key, key) || strings.EqualFold(t.Name, key) {
			return t, true
		}
	}
	return Template{}, false
}

// Rule builds an enabled rule from the template.
func (t Template) Rule(id string, sensitivity model.Sensitivity) model.Rule {
	if sensitivity == "" {
		sensitivity = model.SensitivityHigh
	}
	return model.Rule{
		ID:          id,
		Name:        t.Name,
		Condition:   t.Condition,
		Sensitivity: sensitivity,
		Actions:     append([]model.Action(nil), t.Actions...),
		Enabled:     true,
	}
}

// DefaultRules is the monitoring rule set installed on a fresh system.
func DefaultRules() []model.Rule {
	behavior := func(id, kind string, s model.Sensitivity, n model.NotificationType, actions ...model.Action) model.Rule {
		return model.Rule{
			ID:               "default-" + id,
			Name:             strings.ReplaceAll(id, "_", " "),
			Condition:        model.Condition{Type: model.ConditionBehavior, Operator: model.OpEquals, Value: kind},
			Sensitivity:      s,
			NotificationType: n,
			Actions:          actions,
			Enabled:          true,
		}
	}
	notify := func(msg string) model.Action { return model.Action{Type: model.ActionNotification, Value: msg} }
	light := func(p string) model.Action { return model.Action{Type: model.ActionLight, Value: p} }
	speak := func(u string) model.Action { return model.Action{Type: model.ActionSpeaker, Value: u} }

	unknownFace := behavior("unknown_face", model.FaceUnknown, model.SensitivityHigh, model.NotifyBoth,
		notify("Unknown face detected"), light("yellow_flash"))
	unknownFace.Condition.Type = model.ConditionFace

	return []model.Rule{
		behavior("intrusion", "intrusion", model.SensitivityHigh, model.NotifyBoth,
			notify("Intrusion detected"), light("red_flash")),
		behavior("fire", "fire", model.SensitivityHigh, model.NotifyEmergency,
			notify("Fire detected"), speak("Fire alert! Evacuate immediately!")),
		behavior("fall", "fall", model.SensitivityHigh, model.NotifyBoth,
			notify("Fall detected"), speak("Help needed! Fall detected!")),
		behavior("hazard", "hazard", model.SensitivityMedium, model.NotifyAlert,
			notify("Hazard detected")),
		behavior("inactivity", "inactivity", model.SensitivityMedium, model.NotifyAlert,
			notify("Unusual inactivity detected")),
		unknownFace,
		behavior("threatening_behavior", "threatening", model.SensitivityHigh, model.NotifyBoth,
			notify("Threatening behavior detected"), light("red_flash"), speak("Warning: Threatening behavior detected")),
	}
}

// SeedDefaults installs DefaultRules when the store holds no rules.
func (s *Store) SeedDefaults(ctx context.Context) (int, error) {
	if s.Snapshot().Len() > 0 {
		return 0, nil
	}
	n := 0
	for _, r := range DefaultRules() {
		if _, err := s.Add(ctx, r); err != nil {
			if errors.Is(err, model.ErrDuplicate) {
				continue
			}
			return n, fmt.Errorf("seed %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}

// ApplyTemplate adds a rule built from the named template.
func (s *Store) ApplyTemplate(ctx context.Context, key, id string, sensitivity model.Sensitivity) (model.Rule, error) {
	t, ok := LookupTemplate(key)
	if !ok {
		return model.Rule{}, fmt.Errorf("template %q: %w", key, model.ErrNotFound)
	}
	newID, err := s.Add(ctx, t.Rule(id, sensitivity))
	if err != nil {
		return model.Rule{}, err
	}
	return s.Get(newID)
}
