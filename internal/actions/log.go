package actions

import (
	"context"
	"errors"
	"log/slog"

	"homeguard/internal/dispatch"
	"homeguard/internal/model"
)

var errUnsupportedPayload = errors.New("unsupported payload")

// LogHandler stands in for integrations that are not configured. It records
// the action and succeeds.
func LogHandler(logger *slog.Logger) dispatch.HandlerFunc {
	return func(ctx context.Context, action model.Action, payload model.Payload, dctx dispatch.Context) error {
		if logger != nil {
			logger.Info("action", "type", action.Type, "value", action.Value, "rule_id", dctx.RuleID, "event_id", dctx.Event.ID, "device_id", dctx.Event.DeviceID)
		}
		return nil
	}
}
