package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// EventFields is the raw, string-typed shape every ingest path produces
// before normalization.
type EventFields struct {
	ID         string
	Source     string
	Kind       string
	Confidence string
	Timestamp  string
	DeviceID   string
	ProfileID  string
	Extras     map[string]string
	Raw        string
}

var ErrUnknownSource = errors.New("unknown event source")

var sourceAliases = map[string]model.Source{
	"face":       model.SourceFace,
	"camera":     model.SourceFace,
	"perception": model.SourceFace,
	"vision":     model.SourceFace,
	"device":     model.SourceDevice,
	"sensor":     model.SourceDevice,
	"telemetry":  model.SourceDevice,
	"manual":     model.SourceManual,
	"button":     model.SourceManual,
	"panic":      model.SourceManual,
	"user":       model.SourceManual,
	"system":     model.SourceSystem,
	"internal":   model.SourceSystem,
}

// Normalize converts one event with a throwaway Normalizer. Long-lived
// callers should keep a Normalizer per config instead.
func Normalize(fields EventFields, cfg *config.Config) (model.Event, error) {
	return NewNormalizer(cfg).Normalize(fields)
}

type Normalizer struct {
	cfg      *config.Config
	profiles *ProfileSet
	now      func() time.Time
}

func NewNormalizer(cfg *config.Config) *Normalizer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Normalizer{
		cfg:      cfg,
		profiles: BuildProfileSet(cfg.Faces),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *Normalizer) Normalize(fields EventFields) (model.Event, error) {
	source, err := ParseSource(fields.Source)
	if err != nil {
		return model.Event{}, err
	}

	loc := time.UTC
	if n.cfg.Engine.Timezone != "" {
		if l, err := time.LoadLocation(n.cfg.Engine.Timezone); err == nil {
			loc = l
		}
	}

	now := n.now()
	ts := now
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}
	ts = ClampTimestamp(ts, now, n.cfg.Engine.MaxClockSkew, n.cfg.Engine.MaxFutureSkew)

	confidence, err := ParseConfidence(fields.Confidence, source)
	if err != nil {
		return model.Event{}, err
	}

	deviceID := strings.TrimSpace(fields.DeviceID)
	profileID := strings.TrimSpace(fields.ProfileID)
	kind := strings.TrimSpace(fields.Kind)
	if source == model.SourceFace && kind == "" {
		if profileID == "" {
			return model.Event{}, errors.New("face event needs kind or profile_id")
		}
		kind = n.profiles.Classify(deviceID, profileID)
	}
	if kind == "" {
		return model.Event{}, errors.New("event kind is empty")
	}

	id := strings.TrimSpace(fields.ID)
	if id == "" {
		id = uuid.NewString()
	}

	var attrs map[string]string
	for k, v := range fields.Extras {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[k] = v
	}

	return model.Event{
		ID:         id,
		Source:     source,
		Kind:       kind,
		Confidence: confidence,
		Timestamp:  ts,
		DeviceID:   deviceID,
		ProfileID:  profileID,
		Attributes: attrs,
	}, nil
}

func ParseSource(value string) (model.Source, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return model.SourceDevice, nil
	}
	if s, ok := sourceAliases[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, value)
}

// ParseConfidence accepts 0..1 fractions or 0..100 scores and clamps to [0,100].
// A missing score is trusted for manual and system events only.
func ParseConfidence(value string, source model.Source) (float64, error) {
	v := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "%"))
	if v == "" {
		if source == model.SourceManual || source == model.SourceSystem {
			return 100, nil
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse confidence: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse confidence: %q is not a finite number", value)
	}
	if f > 0 && f <= 1 && strings.Contains(v, ".") {
		f = math.Round(f*1e6) / 1e4
	}
	if f < 0 {
		f = 0
	}
	if f > 100 {
		f = 100
	}
	return f, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// ClampTimestamp replaces timestamps too far from now with now.
// A zero bound disables that side of the check.
func ClampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

var reservedKeys = map[string]struct{}{
	"id": {}, "event_id": {}, "source": {}, "kind": {}, "type": {}, "label": {}, "class": {},
	"confidence": {}, "score": {}, "timestamp": {}, "time": {}, "ts": {},
	"device_id": {}, "device": {}, "camera_id": {}, "sensor_id": {}, "profile_id": {}, "face_id": {},
}
