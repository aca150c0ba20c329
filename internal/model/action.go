package model

import (
	"fmt"
	"strings"
	"time"
)

type ActionType string

const (
	ActionNotification ActionType = "notification"
	ActionLight        ActionType = "light"
	ActionSpeaker      ActionType = "speaker"
	ActionAlarm        ActionType = "alarm"
	ActionPolice       ActionType = "police"
)

var ActionTypes = []ActionType{ActionNotification, ActionLight, ActionSpeaker, ActionAlarm, ActionPolice}

func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action is the stored form of a rule action. Payload decodes Value into the
// typed variant for Type.
type Action struct {
	Type  ActionType `json:"type" yaml:"type"`
	Value string     `json:"value" yaml:"value"`
}

// Payload is implemented by every typed action payload.
type Payload interface {
	ActionType() ActionType
}

type NotificationPayload struct {
	Message string
}

type LightPayload struct {
	Pattern string
}

type SpeakerPayload struct {
	Utterance string
}

type AlarmPayload struct {
	Mode string
}

type PolicePayload struct {
	Reason string
}

func (NotificationPayload) ActionType() ActionType { return ActionNotification }
func (LightPayload) ActionType() ActionType        { return ActionLight }
func (SpeakerPayload) ActionType() ActionType      { return ActionSpeaker }
func (AlarmPayload) ActionType() ActionType        { return ActionAlarm }
func (PolicePayload) ActionType() ActionType       { return ActionPolice }

var alarmModes = map[string]struct{}{"siren": {}, "chime": {}, "silent": {}}

// Payload returns the typed payload for the action.
func (a Action) Payload() (Payload, error) {
	value := strings.TrimSpace(a.Value)
	switch a.Type {
	case ActionNotification:
		if value == "" {
			return nil, fmt.Errorf("notification message is empty")
		}
		return NotificationPayload{Message: value}, nil
	case ActionLight:
		if value == "" {
			return nil, fmt.Errorf("light pattern is empty")
		}
		return LightPayload{Pattern: strings.ToLower(value)}, nil
	case ActionSpeaker:
		if value == "" {
			return nil, fmt.Errorf("speaker utterance is empty")
		}
		return SpeakerPayload{Utterance: value}, nil
	case ActionAlarm:
		mode := strings.ToLower(value)
		if mode == "" {
			mode = "siren"
		}
		if _, ok := alarmModes[mode]; !ok {
			return nil, fmt.Errorf("unknown alarm mode %q", value)
		}
		return AlarmPayload{Mode: mode}, nil
	case ActionPolice:
		if value == "" {
			value = "emergency"
		}
		return PolicePayload{Reason: value}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type ActionOutcome struct {
	Index    int           `json:"index"`
	Type     ActionType    `json:"type"`
	Value    string        `json:"value,omitempty"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type DispatchResult struct {
	Outcomes []ActionOutcome `json:"outcomes"`
}

func (r DispatchResult) Attempted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusSkipped {
			n++
		}
	}
	return n
}

func (r DispatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSucceeded {
			n++
		}
	}
	return n
}

// Outcome returns the outcome recorded for the action at index i.
func (r DispatchResult) Outcome(i int) (ActionOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Index == i {
			return o, true
		}
	}
	return ActionOutcome{}, false
}
