package actions

import (
	"context"
	"net/http"
	"time"

	"homeguard/internal/dispatch"
	"homeguard/internal/model"
)

// EmergencyRequest is posted to the emergency contact webhook.
type EmergencyRequest struct {
	Reason    string    `json:"reason"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	EventID   string    `json:"event_id"`
	EventKind string    `json:"event_kind,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type PoliceHandler struct {
	url    string
	client *http.Client
}

func NewPoliceHandler(url string) *PoliceHandler {
	return &PoliceHandler{url: url, client: newHTTPClient()}
}

func (h *PoliceHandler) Handle(ctx context.Context, action model.Action, payload model.Payload, dctx dispatch.Context) error {
	p, ok := payload.(model.PolicePayload)
	if !ok {
		return &model.DispatchError{Action: action.Type, Reason: "unexpected payload"}
	}
	req := EmergencyRequest{
		Reason:    p.Reason,
		RuleID:    dctx.RuleID,
		RuleName:  dctx.RuleName,
		EventID:   dctx.Event.ID,
		EventKind: dctx.Event.Kind,
		DeviceID:  dctx.Event.DeviceID,
		Timestamp: dctx.Event.Timestamp,
	}
	if err := postJSON(ctx, h.client, h.url, req); err != nil {
		return &model.DispatchError{Action: action.Type, Reason: "emergency contact failed", Err: err}
	}
	return nil
}
