package rules

import (
	"errors"
	"strconv"
	"strings"

	"homeguard/internal/match"
	"homeguard/internal/model"
)

// Normalize fills defaults and validates a rule. Every violation is a
// *model.ConfigError.
func Normalize(r model.Rule) (model.Rule, error) {
	r = r.Clone()
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Condition.Value = strings.TrimSpace(r.Condition.Value)
	if r.Sensitivity == "" {
		r.Sensitivity = model.SensitivityMedium
	}
	if r.NotificationType == "" {
		r.NotificationType = model.NotifyAlert
	}
	if err := Validate(r); err != nil {
		return r, err
	}
	if r.Name == "" {
		r.Name = string(r.Condition.Type) + " " + r.Condition.Value
	}
	return r, nil
}

func Validate(r model.Rule) error {
	if err := match.ValidateCondition(r.Condition); err != nil {
		return withRule(err, r.ID)
	}
	if !r.Sensitivity.Valid() {
		return &model.ConfigError{RuleID: r.ID, Field: "sensitivity", Reason: "unknown sensitivity " + string(r.Sensitivity)}
	}
	switch r.NotificationType {
	case model.NotifyAlert, model.NotifyEmergency, model.NotifyBoth:
	default:
		return &model.ConfigError{RuleID: r.ID, Field: "notification_type", Reason: "unknown notification type " + string(r.NotificationType)}
	}
	for i, a := range r.Actions {
		if !a.Type.Valid() {
			return &model.ConfigError{RuleID: r.ID, Field: actionField(i), Reason: "unknown action type " + string(a.Type)}
		}
		if _, err := a.Payload(); err != nil {
			return &model.ConfigError{RuleID: r.ID, Field: actionField(i), Reason: err.Error()}
		}
	}
	return nil
}

func withRule(err error, id string) error {
	var ce *model.ConfigError
	if errors.As(err, &ce) && ce.RuleID == "" {
		ce.RuleID = id
	}
	return err
}

func actionField(i int) string {
	return "actions[" + strconv.Itoa(i) + "]"
}
