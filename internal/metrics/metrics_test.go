package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"homeguard/internal/model"
)

func TestCountersAndStats(t *testing.T) {
	m := New()
	m.EventReceived(model.SourceFace)
	m.EventReceived(model.SourceFace)
	m.EventDropped()
	m.Evaluated(true, 10*time.Millisecond)
	m.ActionOutcome(model.ActionOutcome{Type: model.ActionLight, Status: model.StatusFailed})
	m.AlertRecorded(model.SeverityCritical)

	if got := testutil.ToFloat64(m.eventsReceived.WithLabelValues("face")); got != 2 {
		t.Fatalf("events received: %v", got)
	}
	if got := testutil.ToFloat64(m.actionOutcomes.WithLabelValues("light", "failed")); got != 1 {
		t.Fatalf("action outcomes: %v", got)
	}
	s := m.Stats()
	if s.EventsReceived != 2 || s.EventsDropped != 1 || s.DegradedEvaluations != 1 || s.Alerts != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.SetQueueDepth(3)
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "homeguard_queue_depth" {
			found = true
		}
	}
	if !found {
		t.Fatalf("queue depth gauge not registered")
	}
}
