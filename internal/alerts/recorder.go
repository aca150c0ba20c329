package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"homeguard/internal/model"
	"homeguard/internal/stream"
)

// Persister writes a batch of alerts atomically.
type Persister interface {
	SaveAlerts(ctx context.Context, alerts []model.Alert) error
}

// Recorder writes the alerts of one event durably, then exposes them through
// the ring and the live stream.
type Recorder struct {
	ring    *Store
	persist Persister
	bus     *stream.Bus
	logger  *slog.Logger
}

// NewRecorder accepts a nil persister or bus.
func NewRecorder(ring *Store, persist Persister, bus *stream.Bus, logger *slog.Logger) *Recorder {
	if ring == nil {
		ring = NewStore(0)
	}
	return &Recorder{ring: ring, persist: persist, bus: bus, logger: logger}
}

func (r *Recorder) Ring() *Store { return r.ring }

// Record returns the alerts with Persisted set. When the durable write fails
// the alerts are still kept in the ring, unpersisted, and the error is
// returned.
func (r *Recorder) Record(ctx context.Context, alerts []model.Alert) ([]model.Alert, error) {
	if len(alerts) == 0 {
		return alerts, nil
	}
	var persistErr error
	persisted := false
	if r.persist != nil {
		if err := r.persist.SaveAlerts(ctx, alerts); err != nil {
			persistErr = fmt.Errorf("persist alerts: %w", err)
			if r.logger != nil {
				r.logger.Error("alert persistence failed", "event_id", alerts[0].EventID, "count", len(alerts), "err", err)
			}
		} else {
			persisted = true
		}
	}
	out := make([]model.Alert, len(alerts))
	for i, a := range alerts {
		a.Persisted = persisted
		out[i] = a
	}
	r.ring.AddBatch(out)
	if r.bus != nil {
		for _, a := range out {
			r.bus.Publish(stream.Message{Type: stream.AlertRaised, Summary: a.RuleName, Detail: a, Timestamp: a.CreatedAt})
		}
	}
	return out, persistErr
}
