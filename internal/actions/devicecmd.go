package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"homeguard/internal/config"
	"homeguard/internal/dispatch"
	"homeguard/internal/model"
)

// Command is the device command envelope published for light, speaker and
// alarm actions. Devices drop commands past ExpiresAt.
type Command struct {
	RequestID  string         `json:"request_id"`
	DeviceID   string         `json:"device_id"`
	Timestamp  int64          `json:"timestamp"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	ExpiresAt  int64          `json:"expires_at"`
}

// MessageWriter is the subset of *kafka.Writer used to publish commands.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg config.DeviceCommandConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

type DeviceCommandHandler struct {
	writer        MessageWriter
	ttl           time.Duration
	defaultTarget map[string]string
	now           func() time.Time
}

func NewDeviceCommandHandler(w MessageWriter, cfg config.DeviceCommandConfig) *DeviceCommandHandler {
	return &DeviceCommandHandler{
		writer:        w,
		ttl:           cfg.CommandTTL,
		defaultTarget: cfg.DefaultTarget,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (h *DeviceCommandHandler) Handle(ctx context.Context, action model.Action, payload model.Payload, dctx dispatch.Context) error {
	target := h.defaultTarget[string(action.Type)]
	if target == "" {
		target = dctx.Event.DeviceID
	}
	if target == "" {
		return &model.DispatchError{Action: action.Type, Reason: "no target device"}
	}
	name, params, err := commandFor(payload)
	if err != nil {
		return &model.DispatchError{Action: action.Type, Reason: err.Error()}
	}
	params["rule_id"] = dctx.RuleID
	params["event_id"] = dctx.Event.ID

	now := h.now()
	cmd := Command{
		RequestID:  uuid.NewString(),
		DeviceID:   target,
		Timestamp:  now.Unix(),
		Action:     name,
		Parameters: params,
		ExpiresAt:  now.Add(h.ttl).Unix(),
	}
	value, err := json.Marshal(cmd)
	if err != nil {
		return &model.DispatchError{Action: action.Type, Reason: "encode command", Err: err}
	}
	if err := h.writer.WriteMessages(ctx, kafka.Message{Key: []byte(target), Value: value}); err != nil {
		return &model.DispatchError{Action: action.Type, Reason: "publish command failed", Err: err}
	}
	return nil
}

func commandFor(payload model.Payload) (string, map[string]any, error) {
	switch p := payload.(type) {
	case model.LightPayload:
		return "light.pattern", map[string]any{"pattern": p.Pattern}, nil
	case model.SpeakerPayload:
		return "speaker.say", map[string]any{"utterance": p.Utterance}, nil
	case model.AlarmPayload:
		return "alarm.sound", map[string]any{"mode": p.Mode}, nil
	}
	return "", nil, errUnsupportedPayload
}
