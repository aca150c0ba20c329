package actions

import (
	"log/slog"

	"homeguard/internal/config"
	"homeguard/internal/dispatch"
	"homeguard/internal/model"
)

// Set holds the integrations wired into a dispatcher.
type Set struct {
	Gate   *dispatch.ArmGate
	writer MessageWriter
}

// Install registers a handler for every action type, falling back to
// LogHandler where no integration is configured. Police contact is gated by
// an ArmGate unless auto confirm is set.
func Install(d *dispatch.Dispatcher, cfg config.ActionsConfig, logger *slog.Logger) *Set {
	return InstallWithWriter(d, cfg, nil, logger)
}

// InstallWithWriter is Install with an explicit device command writer. A nil
// writer is created from cfg when device commands are enabled.
func InstallWithWriter(d *dispatch.Dispatcher, cfg config.ActionsConfig, w MessageWriter, logger *slog.Logger) *Set {
	set := &Set{Gate: dispatch.NewArmGate()}
	fallback := LogHandler(logger)

	if cfg.Notification.WebhookURL != "" {
		d.Register(model.ActionNotification, NewNotificationHandler(cfg.Notification.WebhookURL, cfg.Notification.RatePerMinute, cfg.Notification.Burst))
	} else {
		d.Register(model.ActionNotification, fallback)
	}

	if w == nil && cfg.Devices.Enabled {
		w = NewKafkaWriter(cfg.Devices)
	}
	if w != nil {
		set.writer = w
		h := NewDeviceCommandHandler(w, cfg.Devices)
		d.Register(model.ActionLight, h)
		d.Register(model.ActionSpeaker, h)
		d.Register(model.ActionAlarm, h)
	} else {
		d.Register(model.ActionLight, fallback)
		d.Register(model.ActionSpeaker, fallback)
		d.Register(model.ActionAlarm, fallback)
	}

	if cfg.Police.WebhookURL != "" {
		d.Register(model.ActionPolice, NewPoliceHandler(cfg.Police.WebhookURL))
	} else {
		d.Register(model.ActionPolice, fallback)
	}
	if cfg.Police.AutoConfirm {
		d.SetGate(model.ActionPolice, dispatch.OpenGate{})
	} else {
		d.SetGate(model.ActionPolice, set.Gate)
	}
	return set
}

func (s *Set) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
