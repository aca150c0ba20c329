package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"homeguard/internal/alerts"
	"homeguard/internal/config"
	"homeguard/internal/devices"
	"homeguard/internal/dispatch"
	"homeguard/internal/model"
	"homeguard/internal/rules"
	"homeguard/internal/storage"
)

type flakyStore struct {
	*storage.Memory
	rulesDown  atomic.Bool
	alertsDown atomic.Bool
}

var errDown = errors.New("connection refused")

func (f *flakyStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	if f.rulesDown.Load() {
		return nil, errDown
	}
	return f.Memory.LoadRules(ctx)
}

func (f *flakyStore) SaveAlerts(ctx context.Context, batch []model.Alert) error {
	if f.alertsDown.Load() {
		return errDown
	}
	return f.Memory.SaveAlerts(ctx, batch)
}

type recordedCall struct {
	ruleID string
	action model.ActionType
	value  string
}

type harness struct {
	engine   *Engine
	rules    *rules.Store
	store    *flakyStore
	ring     *alerts.Store
	mu       sync.Mutex
	calls    []recordedCall
	failType model.ActionType
}

func (h *harness) handler(ctx context.Context, action model.Action, _ model.Payload, dctx dispatch.Context) error {
	h.mu.Lock()
	h.calls = append(h.calls, recordedCall{ruleID: dctx.RuleID, action: action.Type, value: action.Value})
	h.mu.Unlock()
	if action.Type == h.failType {
		return errors.New("device offline")
	}
	return nil
}

func (h *harness) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.DedupeWindow = 0
	cfg.Engine.RuleCooldown = 0
	cfg.Ingest.QueueSize = 4
	cfg.Engine.Workers = 1
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{store: &flakyStore{Memory: storage.NewMemory()}, ring: alerts.NewStore(100)}
	h.rules = rules.NewStore(h.store, rules.WithMaxAge(0))
	if err := h.rules.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	d := dispatch.New(time.Second, nil)
	for _, at := range model.ActionTypes {
		d.Register(at, dispatch.HandlerFunc(h.handler))
	}
	h.engine = NewEngine(cfg, Deps{
		Rules:      h.rules,
		Dispatcher: d,
		Recorder:   alerts.NewRecorder(h.ring, h.store, nil, nil),
		Devices:    devices.NewRegistry(cfg.Devices),
	})
	return h
}

func (h *harness) add(t *testing.T, r model.Rule) {
	t.Helper()
	if _, err := h.rules.Add(context.Background(), r); err != nil {
		t.Fatalf("add rule %s: %v", r.ID, err)
	}
}

func foeEvent(id string, confidence float64) model.Event {
	return model.Event{
		ID:         id,
		Source:     model.SourceFace,
		Kind:       model.FaceFoe,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		DeviceID:   "front-door-cam",
	}
}

func vexorRule(id string) model.Rule {
	tpl, ok := rules.LookupTemplate("vexor-warning")
	if !ok {
		panic("vexor-warning template missing")
	}
	return tpl.Rule(id, model.SensitivityHigh)
}

func TestFoeTriggersAllActions(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 92))
	if len(eval.Matched) != 1 || eval.Matched[0] != "vexor" {
		t.Fatalf("expected vexor to match, got %v", eval.Matched)
	}
	if len(eval.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(eval.Alerts))
	}
	a := eval.Alerts[0]
	if a.ActionsAttempted != 3 || a.ActionsSucceeded != 3 {
		t.Fatalf("expected 3/3 actions, got %d/%d", a.ActionsSucceeded, a.ActionsAttempted)
	}
	if !a.Persisted || a.Degraded {
		t.Fatalf("unexpected alert flags: %+v", a)
	}
	if a.Severity != model.SeverityHigh {
		t.Fatalf("expected high severity, got %s", a.Severity)
	}
	if h.callCount() != 3 {
		t.Fatalf("expected 3 handler calls, got %d", h.callCount())
	}
	if h.ring.Len() != 1 {
		t.Fatalf("expected alert in ring")
	}
	stored, err := h.store.ListAlerts(context.Background(), 10)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d (%v)", len(stored), err)
	}
}

func TestSensitivityGatesMatch(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-low", 79))
	if len(eval.Matched) != 0 || len(eval.Alerts) != 0 {
		t.Fatalf("confidence below threshold should not match")
	}
	if h.callCount() != 0 {
		t.Fatalf("no actions expected")
	}
	eval = h.engine.ProcessEvent(context.Background(), foeEvent("ev-edge", 80))
	if len(eval.Matched) != 1 {
		t.Fatalf("threshold is inclusive, expected a match")
	}
}

func TestDisabledRuleIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	r := vexorRule("vexor")
	h.add(t, r)
	if _, err := h.rules.SetEnabled(context.Background(), "vexor", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 99))
	if len(eval.Matched) != 0 || h.callCount() != 0 {
		t.Fatalf("disabled rule must not fire")
	}
}

func TestActionFailureIsolated(t *testing.T) {
	h := newHarness(t, testConfig())
	h.failType = model.ActionLight
	h.add(t, vexorRule("vexor"))

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if len(eval.Alerts) != 1 {
		t.Fatalf("expected alert despite failed action")
	}
	a := eval.Alerts[0]
	if a.ActionsAttempted != 3 || a.ActionsSucceeded != 2 {
		t.Fatalf("expected 2/3 actions, got %d/%d", a.ActionsSucceeded, a.ActionsAttempted)
	}
	var failed int
	for _, o := range a.Outcomes {
		if o.Status == model.StatusFailed {
			failed++
			if o.Type != model.ActionLight {
				t.Fatalf("unexpected failed action %s", o.Type)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed outcome, got %d", failed)
	}
}

func TestMultipleRulesOneAlertEach(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	h.add(t, model.Rule{
		ID:          "foe-notify",
		Condition:   model.Condition{Type: model.ConditionFace, Operator: model.OpEquals, Value: model.FaceFoe},
		Sensitivity: model.SensitivityLow,
		Actions:     []model.Action{{Type: model.ActionNotification, Value: "Foe seen"}},
		Enabled:     true,
	})
	h.add(t, model.Rule{
		ID:          "friend-hello",
		Condition:   model.Condition{Type: model.ConditionFace, Operator: model.OpEquals, Value: model.FaceFriend},
		Sensitivity: model.SensitivityLow,
		Actions:     []model.Action{{Type: model.ActionSpeaker, Value: "Welcome home"}},
		Enabled:     true,
	})

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 90))
	got := append([]string(nil), eval.Matched...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "foe-notify" || got[1] != "vexor" {
		t.Fatalf("unexpected matches %v", got)
	}
	if len(eval.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(eval.Alerts))
	}
	if h.callCount() != 4 {
		t.Fatalf("expected 4 handler calls, got %d", h.callCount())
	}
	for _, a := range eval.Alerts {
		if a.EventID != "ev-1" {
			t.Fatalf("alert for wrong event: %+v", a)
		}
	}
}

func TestDegradedSnapshotStillEvaluates(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	h.store.rulesDown.Store(true)
	if err := h.rules.Refresh(context.Background()); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if !eval.Degraded {
		t.Fatalf("expected degraded evaluation")
	}
	if len(eval.Alerts) != 1 || !eval.Alerts[0].Degraded {
		t.Fatalf("expected degraded alert, got %+v", eval.Alerts)
	}
	if h.callCount() != 3 {
		t.Fatalf("cached rules should still dispatch, got %d calls", h.callCount())
	}
}

func TestAlertPersistFailureKeepsAlerts(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	h.store.alertsDown.Store(true)

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if eval.PersistErr == nil {
		t.Fatalf("expected persist error")
	}
	if len(eval.Alerts) != 1 || eval.Alerts[0].Persisted {
		t.Fatalf("expected one unpersisted alert")
	}
	if h.ring.Len() != 1 {
		t.Fatalf("alert should still be in memory")
	}
}

func TestMalformedRuleSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	// Written straight to persistence to bypass validation.
	bad := model.Rule{
		ID:          "bad-time",
		Condition:   model.Condition{Type: model.ConditionTime, Operator: model.OpAfter, Value: "25:99"},
		Sensitivity: model.SensitivityLow,
		Actions:     []model.Action{{Type: model.ActionNotification, Value: "late"}},
		Enabled:     true,
	}
	if err := h.store.Memory.InsertRule(context.Background(), bad); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := h.rules.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if len(eval.ConfigErrors) != 1 || !model.IsConfigError(eval.ConfigErrors[0]) {
		t.Fatalf("expected one config error, got %v", eval.ConfigErrors)
	}
	if len(eval.Matched) != 1 || eval.Matched[0] != "vexor" {
		t.Fatalf("valid rule should still match, got %v", eval.Matched)
	}
}

func TestStoredRulesFailingValidationSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	extreme := vexorRule("extreme")
	extreme.Sensitivity = model.Sensitivity("extreme")
	sms := vexorRule("sms")
	sms.Actions = []model.Action{{Type: model.ActionType("sms"), Value: "+4915100000"}}
	for _, r := range []model.Rule{extreme, sms} {
		if err := h.store.Memory.InsertRule(context.Background(), r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}
	if err := h.rules.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if h.rules.Snapshot().Len() != 3 {
		t.Fatalf("invalid rules should stay visible, got %d", h.rules.Snapshot().Len())
	}

	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if len(eval.ConfigErrors) != 2 {
		t.Fatalf("expected two config errors, got %v", eval.ConfigErrors)
	}
	for _, err := range eval.ConfigErrors {
		if !model.IsConfigError(err) {
			t.Fatalf("expected config error, got %v", err)
		}
	}
	if len(eval.Matched) != 1 || eval.Matched[0] != "vexor" {
		t.Fatalf("only the valid rule should match, got %v", eval.Matched)
	}
	if len(eval.Alerts) != 1 || h.ring.Len() != 1 {
		t.Fatalf("expected one alert, got %d (ring %d)", len(eval.Alerts), h.ring.Len())
	}
}

type hangingStore struct {
	*storage.Memory
	hang    atomic.Bool
	release chan struct{}
}

func (s *hangingStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	if s.hang.Load() {
		<-s.release
	}
	return s.Memory.LoadRules(ctx)
}

func TestHangingRuleStoreFallsBackToCache(t *testing.T) {
	store := &hangingStore{Memory: storage.NewMemory(), release: make(chan struct{})}
	defer close(store.release)
	rs := rules.NewStore(store, rules.WithMaxAge(10*time.Millisecond), rules.WithLoadTimeout(50*time.Millisecond))
	if err := rs.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := rs.Add(context.Background(), vexorRule("vexor")); err != nil {
		t.Fatalf("add: %v", err)
	}
	store.hang.Store(true)
	time.Sleep(20 * time.Millisecond)

	cfg := testConfig()
	ring := alerts.NewStore(10)
	e := NewEngine(cfg, Deps{Rules: rs, Recorder: alerts.NewRecorder(ring, store, nil, nil)})

	done := make(chan Evaluation, 1)
	go func() { done <- e.ProcessEvent(context.Background(), foeEvent("ev-1", 95)) }()
	select {
	case eval := <-done:
		if len(eval.Matched) != 1 || eval.Matched[0] != "vexor" {
			t.Fatalf("cached rule should match, got %v", eval.Matched)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("evaluation blocked on the rule store")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !rs.Snapshot().Degraded {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never marked degraded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	eval := e.ProcessEvent(context.Background(), foeEvent("ev-2", 95))
	if !eval.Degraded || len(eval.Matched) != 1 {
		t.Fatalf("expected degraded match, got degraded=%t matched=%v", eval.Degraded, eval.Matched)
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DedupeWindow = time.Minute
	h := newHarness(t, cfg)
	h.add(t, vexorRule("vexor"))

	first := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	second := h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	if first.Duplicate || len(first.Alerts) != 1 {
		t.Fatalf("first delivery should alert")
	}
	if !second.Duplicate || len(second.Alerts) != 0 {
		t.Fatalf("redelivery should be ignored")
	}
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RuleCooldown = time.Minute
	h := newHarness(t, cfg)
	h.add(t, vexorRule("vexor"))

	h.engine.ProcessEvent(context.Background(), foeEvent("ev-1", 95))
	eval := h.engine.ProcessEvent(context.Background(), foeEvent("ev-2", 95))
	if len(eval.Suppressed) != 1 || len(eval.Alerts) != 0 {
		t.Fatalf("expected suppression, got %+v", eval)
	}
	other := foeEvent("ev-3", 95)
	other.DeviceID = "garage-cam"
	eval = h.engine.ProcessEvent(context.Background(), other)
	if len(eval.Alerts) != 1 {
		t.Fatalf("cooldown is per device, expected alert")
	}
}

func TestSubmitOverflow(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := 0; i < h.engine.QueueCapacity(); i++ {
		if err := h.engine.Submit(foeEvent("ev", 50)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := h.engine.Submit(foeEvent("ev", 50)); !errors.Is(err, model.ErrQueueOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	h := newHarness(t, testConfig())
	h.add(t, vexorRule("vexor"))
	ctx, cancel := context.WithCancel(context.Background())
	h.engine.Start(ctx)

	for i, id := range []string{"ev-1", "ev-2"} {
		if err := h.engine.Submit(foeEvent(id, 95)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.ring.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	h.engine.Wait()
	if h.ring.Len() != 2 {
		t.Fatalf("expected 2 alerts, got %d", h.ring.Len())
	}
}

func TestPhaseTransitions(t *testing.T) {
	c := newCycle(&phaseCounter{})
	if err := c.to(PhaseDispatching); !IsIllegalTransition(err) {
		t.Fatalf("idle -> dispatching should be rejected, got %v", err)
	}
	for _, p := range []Phase{PhaseEvaluating, PhaseDispatching, PhaseIdle} {
		if err := c.to(p); err != nil {
			t.Fatalf("transition to %s: %v", p, err)
		}
	}
	if err := c.to(PhaseIdle); err == nil {
		t.Fatalf("idle -> idle should be rejected")
	}
	if err := c.to(PhaseEvaluating); err != nil {
		t.Fatalf("idle -> evaluating: %v", err)
	}
	if err := c.to(PhaseEvaluating); err == nil {
		t.Fatalf("evaluating -> evaluating should be rejected")
	}
}

func TestSeverity(t *testing.T) {
	cases := []struct {
		name string
		rule model.Rule
		want model.Severity
	}{
		{"police", model.Rule{Sensitivity: model.SensitivityLow, Actions: []model.Action{{Type: model.ActionPolice}}}, model.SeverityCritical},
		{"alarm", model.Rule{Sensitivity: model.SensitivityLow, Actions: []model.Action{{Type: model.ActionAlarm}}}, model.SeverityCritical},
		{"emergency high", model.Rule{Sensitivity: model.SensitivityHigh, NotificationType: model.NotifyBoth}, model.SeverityCritical},
		{"high", model.Rule{Sensitivity: model.SensitivityHigh, NotificationType: model.NotifyAlert}, model.SeverityHigh},
		{"emergency low", model.Rule{Sensitivity: model.SensitivityLow, NotificationType: model.NotifyEmergency}, model.SeverityHigh},
		{"medium", model.Rule{Sensitivity: model.SensitivityMedium}, model.SeverityMedium},
		{"low", model.Rule{Sensitivity: model.SensitivityLow}, model.SeverityLow},
	}
	for _, tc := range cases {
		if got := Severity(tc.rule); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCooldownAllow(t *testing.T) {
	c := NewCooldown()
	now := time.Now()
	if !c.Allow("r", "d", now, time.Second) {
		t.Fatalf("first call should pass")
	}
	if c.Allow("r", "d", now.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("second call within cooldown should be blocked")
	}
	if !c.Allow("r", "d", now.Add(2*time.Second), time.Second) {
		t.Fatalf("call after cooldown should pass")
	}
	if !c.Allow("r", "d", now, 0) {
		t.Fatalf("zero cooldown never blocks")
	}
}
