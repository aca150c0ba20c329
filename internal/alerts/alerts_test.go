package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"homeguard/internal/model"
	"homeguard/internal/stream"
)

type fakePersister struct {
	err     error
	batches [][]model.Alert
}

func (f *fakePersister) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, alerts)
	return nil
}

func TestRingKeepsNewest(t *testing.T) {
	s := NewStore(2)
	s.Add(model.Alert{ID: "1"})
	s.AddBatch([]model.Alert{{ID: "2"}, {ID: "3"}})
	got := s.List(0)
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("ring: %+v", got)
	}
}

func TestRingQueries(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore(10)
	s.AddBatch([]model.Alert{
		{ID: "1", RuleID: "a", EventID: "e1", CreatedAt: base},
		{ID: "2", RuleID: "b", EventID: "e1", CreatedAt: base.Add(time.Minute)},
		{ID: "3", RuleID: "a", EventID: "e2", CreatedAt: base.Add(2 * time.Minute)},
	})
	if got := s.Query(Filter{RuleID: "a"}); len(got) != 2 {
		t.Fatalf("by rule: %+v", got)
	}
	if got := s.Query(Filter{EventID: "e1"}); len(got) != 2 {
		t.Fatalf("by event: %+v", got)
	}
	if got := s.Query(Filter{Since: base.Add(time.Minute)}); len(got) != 2 {
		t.Fatalf("since: %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear")
	}
}

func TestRingFiltersCombine(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewStore(10)
	s.AddBatch([]model.Alert{
		{ID: "1", RuleID: "a", EventKind: "Foe", DeviceID: "porch", Severity: model.SeverityCritical, CreatedAt: base},
		{ID: "2", RuleID: "a", EventKind: "Foe", DeviceID: "hall", Severity: model.SeverityCritical, CreatedAt: base.Add(time.Minute)},
		{ID: "3", RuleID: "b", EventKind: "Fire", DeviceID: "porch", Severity: model.SeverityHigh, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", RuleID: "a", EventKind: "Foe", DeviceID: "porch", Severity: model.SeverityCritical, CreatedAt: base.Add(3 * time.Minute)},
	})
	got := s.Query(Filter{DeviceID: "porch", RuleID: "a"})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "4" {
		t.Fatalf("device+rule: %+v", got)
	}
	got = s.Query(Filter{DeviceID: "porch", EventKind: "foe", Since: base.Add(time.Second)})
	if len(got) != 1 || got[0].ID != "4" {
		t.Fatalf("device+kind+since: %+v", got)
	}
	got = s.Query(Filter{Severity: model.SeverityCritical, Limit: 2})
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "4" {
		t.Fatalf("severity+limit should keep newest: %+v", got)
	}
	if got := s.Query(Filter{Severity: model.SeverityHigh, RuleID: "a"}); len(got) != 0 {
		t.Fatalf("disjoint filters: %+v", got)
	}
}

func TestRecorderPersistsThenPublishes(t *testing.T) {
	p := &fakePersister{}
	bus := stream.NewBus(4)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)
	r := NewRecorder(NewStore(10), p, bus, nil)

	out, err := r.Record(context.Background(), []model.Alert{{ID: "1", EventID: "e"}, {ID: "2", EventID: "e"}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(p.batches) != 1 || len(p.batches[0]) != 2 {
		t.Fatalf("batches: %+v", p.batches)
	}
	for _, a := range out {
		if !a.Persisted {
			t.Fatalf("alert not marked persisted: %+v", a)
		}
	}
	if r.Ring().Len() != 2 {
		t.Fatalf("ring len: %d", r.Ring().Len())
	}
	msg := <-ch
	if msg.Type != stream.AlertRaised {
		t.Fatalf("stream message: %+v", msg)
	}
}

func TestRecorderKeepsAlertsWhenPersistFails(t *testing.T) {
	p := &fakePersister{err: errors.New("db down")}
	r := NewRecorder(NewStore(10), p, nil, nil)
	out, err := r.Record(context.Background(), []model.Alert{{ID: "1", EventID: "e"}})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	if out[0].Persisted {
		t.Fatalf("alert marked persisted after failure")
	}
	if got := r.Ring().Query(Filter{EventID: "e"}); len(got) != 1 || got[0].Persisted {
		t.Fatalf("ring: %+v", got)
	}
}
