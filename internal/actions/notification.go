package actions

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"homeguard/internal/dispatch"
	"homeguard/internal/model"
)

// Notification is the JSON body posted to the notification webhook.
type Notification struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  model.Severity `json:"severity"`
	RuleID    string         `json:"rule_id"`
	RuleName  string         `json:"rule_name,omitempty"`
	EventID   string         `json:"event_id"`
	EventKind string         `json:"event_kind,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type NotificationHandler struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewNotificationHandler posts notifications to url. A non-positive
// perMinute disables rate limiting.
func NewNotificationHandler(url string, perMinute float64, burst int) *NotificationHandler {
	h := &NotificationHandler{url: url, client: newHTTPClient()}
	if perMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
	return h
}

func (h *NotificationHandler) Handle(ctx context.Context, action model.Action, payload model.Payload, dctx dispatch.Context) error {
	p, ok := payload.(model.NotificationPayload)
	if !ok {
		return &model.DispatchError{Action: action.Type, Reason: "unexpected payload"}
	}
	if h.limiter != nil && !h.limiter.Allow() {
		return &model.DispatchError{Action: action.Type, Reason: "rate limited"}
	}
	title := dctx.RuleName
	if title == "" {
		title = "Security alert"
	}
	msg := Notification{
		Title:     title,
		Message:   p.Message,
		Severity:  dctx.Severity,
		RuleID:    dctx.RuleID,
		RuleName:  dctx.RuleName,
		EventID:   dctx.Event.ID,
		EventKind: dctx.Event.Kind,
		DeviceID:  dctx.Event.DeviceID,
		Degraded:  dctx.Degraded,
		Timestamp: dctx.Event.Timestamp,
	}
	if err := postJSON(ctx, h.client, h.url, msg); err != nil {
		return &model.DispatchError{Action: action.Type, Reason: "notification delivery failed", Err: err}
	}
	return nil
}
