package model

import "time"

type ConditionType string

const (
	ConditionFace     ConditionType = "face"
	ConditionBehavior ConditionType = "behavior"
	ConditionTime     ConditionType = "time"
	ConditionDevice   ConditionType = "device"
)

type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpAfter    Operator = "after"
	OpBefore   Operator = "before"
)

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Confidence thresholds gating a match, inclusive.
const (
	ThresholdLow    = 0.0
	ThresholdMedium = 50.0
	ThresholdHigh   = 80.0
)

// Threshold returns the minimum event confidence a rule of this sensitivity
// accepts. Unknown sensitivities are treated as medium.
func (s Sensitivity) Threshold() float64 {
	switch s {
	case SensitivityHigh:
		return ThresholdHigh
	case SensitivityLow:
		return ThresholdLow
	default:
		return ThresholdMedium
	}
}

func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

type NotificationType string

const (
	NotifyAlert     NotificationType = "alert"
	NotifyEmergency NotificationType = "emergency"
	NotifyBoth      NotificationType = "both"
)

type Condition struct {
	Type     ConditionType `json:"type" yaml:"type"`
	Operator Operator      `json:"operator" yaml:"operator"`
	Value    string        `json:"value" yaml:"value"`
}

type Rule struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Condition        Condition        `json:"condition" yaml:"condition"`
	Sensitivity      Sensitivity      `json:"sensitivity" yaml:"sensitivity"`
	NotificationType NotificationType `json:"notification_type,omitempty" yaml:"notification_type,omitempty"`
	Actions          []Action         `json:"actions" yaml:"actions"`
	Enabled          bool             `json:"enabled" yaml:"enabled"`
	CreatedAt        time.Time        `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate cached rules.
func (r Rule) Clone() Rule {
	out := r
	if r.Actions != nil {
		out.Actions = append([]Action(nil), r.Actions...)
	}
	return out
}

func (r Rule) HasAction(t ActionType) bool {
	for _, a := range r.Actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceFace   Source = "face"
	SourceDevice Source = "device"
	SourceSystem Source = "system"
	SourceManual Source = "manual"
)

// Face classification labels produced by the recognition pipeline.
const (
	FaceFriend  = "Friend"
	FaceUnknown = "Unknown"
	FaceFoe     = "Foe"
)

type Event struct {
	ID         string            `json:"id"`
	Source     Source            `json:"source"`
	Kind       string            `json:"kind"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
	DeviceID   string            `json:"device_id,omitempty"`
	ProfileID  string            `json:"profile_id,omitempty"`
	Origin     string            `json:"origin,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Alert struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"rule_id"`
	RuleName         string          `json:"rule_name,omitempty"`
	EventID          string          `json:"event_id"`
	EventKind        string          `json:"event_kind,omitempty"`
	DeviceID         string          `json:"device_id,omitempty"`
	ActionsAttempted int             `json:"actions_attempted"`
	ActionsSucceeded int             `json:"actions_succeeded"`
	Outcomes         []ActionOutcome `json:"outcomes"`
	Severity         Severity        `json:"severity"`
	Degraded         bool            `json:"degraded"`
	Persisted        bool            `json:"persisted"`
	CreatedAt        time.Time       `json:"created_at"`
}
