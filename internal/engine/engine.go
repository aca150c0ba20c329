package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"homeguard/internal/config"
	"homeguard/internal/dispatch"
	"homeguard/internal/match"
	"homeguard/internal/metrics"
	"homeguard/internal/model"
	"homeguard/internal/rules"
)

// RuleSource hands out the snapshot an evaluation runs against.
type RuleSource interface {
	Current(ctx context.Context) *rules.Snapshot
}

type Dispatcher interface {
	Dispatch(ctx context.Context, actions []model.Action, dctx dispatch.Context) model.DispatchResult
}

type Recorder interface {
	Record(ctx context.Context, alerts []model.Alert) ([]model.Alert, error)
}

type Devices interface {
	match.DeviceRegistry
	Touch(id string, at time.Time)
}

type Deps struct {
	Rules      RuleSource
	Dispatcher Dispatcher
	Recorder   Recorder
	Devices    Devices
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Evaluation is the result of running one event through every enabled rule.
type Evaluation struct {
	EventID         string
	SnapshotVersion uint64
	Degraded        bool
	Duplicate       bool
	Matched         []string
	Suppressed      []string
	ConfigErrors    []error
	Alerts          []model.Alert
	PersistErr      error
}

type Engine struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	rules      RuleSource
	dispatcher Dispatcher
	recorder   Recorder
	devices    Devices
	cfg        atomic.Value
	matcher    atomic.Pointer[match.Matcher]
	queue      chan model.Event
	cooldown   *Cooldown
	deDupe     *DedupeCache
	phases     phaseCounter
	wg         sync.WaitGroup
	now        func() time.Time
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	size := cfg.Ingest.QueueSize
	if size <= 0 {
		size = config.DefaultConfig().Ingest.QueueSize
	}
	e := &Engine{
		logger:     deps.Logger,
		metrics:    m,
		rules:      deps.Rules,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		devices:    deps.Devices,
		queue:      make(chan model.Event, size),
		cooldown:   NewCooldown(),
		deDupe:     NewDedupeCache(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.phases.onChange = func(from, to Phase) {
		if from != PhaseIdle {
			m.PhaseLeave(string(from))
		}
		if to != PhaseIdle {
			m.PhaseEnter(string(to))
		}
	}
	e.UpdateConfig(cfg)
	return e
}

// UpdateConfig swaps the live configuration. The queue size is fixed at
// construction.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		loc = time.UTC
		if e.logger != nil {
			e.logger.Warn("invalid engine timezone, using UTC", "timezone", cfg.Engine.Timezone, "err", err)
		}
	}
	var reg match.DeviceRegistry
	if e.devices != nil {
		reg = e.devices
	}
	e.matcher.Store(match.NewMatcher(loc, reg))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Submit enqueues an event without blocking. A full queue drops the event.
func (e *Engine) Submit(ev model.Event) error {
	select {
	case e.queue <- ev:
		e.metrics.EventReceived(ev.Source)
		e.metrics.SetQueueDepth(len(e.queue))
		return nil
	default:
		e.metrics.EventDropped()
		if e.logger != nil {
			e.logger.Warn("event queue full, dropping event", "event_id", ev.ID, "kind", ev.Kind)
		}
		return model.ErrQueueOverflow
	}
}

func (e *Engine) QueueDepth() int { return len(e.queue) }

func (e *Engine) QueueCapacity() int { return cap(e.queue) }

// InFlight reports how many events are in each non-idle phase.
func (e *Engine) InFlight() map[Phase]int64 {
	return map[Phase]int64{
		PhaseEvaluating:  e.phases.evaluating.Load(),
		PhaseDispatching: e.phases.dispatching.Load(),
	}
}

// Start launches the evaluation workers. They exit when ctx is done; Wait
// blocks until they have.
func (e *Engine) Start(ctx context.Context) {
	workers := e.config().Engine.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case ev := <-e.queue:
					e.metrics.SetQueueDepth(len(e.queue))
					e.ProcessEvent(ctx, ev)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func (e *Engine) Wait() { e.wg.Wait() }

// Reset forgets cooldown and dedupe history.
func (e *Engine) Reset() {
	e.cooldown.Reset()
	e.deDupe.Reset()
}

type firing struct {
	rule     model.Rule
	severity model.Severity
	result   model.DispatchResult
}

// ProcessEvent evaluates ev against one rule snapshot, dispatches the
// actions of every matching rule and records one alert per match.
func (e *Engine) ProcessEvent(ctx context.Context, ev model.Event) Evaluation {
	cfg := e.config()
	start := time.Now()
	out := Evaluation{EventID: ev.ID}

	c := newCycle(&e.phases)
	e.mustTransition(c, PhaseEvaluating)

	if e.deDupe.Seen(ev.ID, e.now(), cfg.Engine.DedupeWindow) {
		e.metrics.EventDuplicate()
		out.Duplicate = true
		e.mustTransition(c, PhaseIdle)
		return out
	}
	if e.devices != nil && ev.DeviceID != "" {
		e.devices.Touch(ev.DeviceID, ev.Timestamp)
	}

	snap := e.snapshot(ctx)
	out.SnapshotVersion = snap.Version
	out.Degraded = snap.Degraded
	e.metrics.Snapshot(snap.Len(), snap.Degraded)
	if snap.Degraded && e.logger != nil {
		e.logger.Warn("evaluating against degraded rule snapshot", "event_id", ev.ID, "version", snap.Version, "err", snap.Err)
	}

	m := e.matcher.Load()
	var firings []*firing
	for _, rule := range snap.Enabled() {
		err := snap.Invalid(rule.ID)
		var res match.Match
		if err == nil {
			res, err = m.Match(rule, ev)
		}
		if err != nil {
			out.ConfigErrors = append(out.ConfigErrors, err)
			e.metrics.ConfigError(rule.ID)
			if e.logger != nil {
				e.logger.Warn("skipping malformed rule", "rule_id", rule.ID, "err", err)
			}
			continue
		}
		if !res.Matched {
			continue
		}
		if !e.cooldown.Allow(rule.ID, ev.DeviceID, e.now(), cfg.Engine.RuleCooldown) {
			out.Suppressed = append(out.Suppressed, rule.ID)
			continue
		}
		e.metrics.RuleMatched(rule.ID)
		out.Matched = append(out.Matched, rule.ID)
		firings = append(firings, &firing{rule: rule, severity: Severity(rule)})
	}

	if len(firings) == 0 {
		e.mustTransition(c, PhaseIdle)
		e.metrics.Evaluated(snap.Degraded, time.Since(start))
		return out
	}

	e.mustTransition(c, PhaseDispatching)
	e.dispatchAll(ctx, ev, snap.Degraded, firings)

	now := e.now()
	batch := make([]model.Alert, 0, len(firings))
	for _, f := range firings {
		batch = append(batch, model.Alert{
			ID:               uuid.NewString(),
			RuleID:           f.rule.ID,
			RuleName:         f.rule.Name,
			EventID:          ev.ID,
			EventKind:        ev.Kind,
			DeviceID:         ev.DeviceID,
			ActionsAttempted: f.result.Attempted(),
			ActionsSucceeded: f.result.Succeeded(),
			Outcomes:         f.result.Outcomes,
			Severity:         f.severity,
			Degraded:         snap.Degraded,
			CreatedAt:        now,
		})
	}
	if e.recorder != nil {
		rctx := ctx
		if cfg.Engine.StoreTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, cfg.Engine.StoreTimeout)
			defer cancel()
		}
		recorded, err := e.recorder.Record(rctx, batch)
		if err != nil {
			e.metrics.AlertPersistFailed()
			out.PersistErr = err
		}
		if recorded != nil {
			batch = recorded
		}
	}
	for _, a := range batch {
		e.metrics.AlertRecorded(a.Severity)
		if e.logger != nil {
			e.logger.Warn("rule triggered",
				"rule_id", a.RuleID,
				"event_id", a.EventID,
				"severity", a.Severity,
				"attempted", a.ActionsAttempted,
				"succeeded", a.ActionsSucceeded,
				"degraded", a.Degraded,
			)
		}
	}
	out.Alerts = batch

	e.mustTransition(c, PhaseIdle)
	e.metrics.Evaluated(snap.Degraded, time.Since(start))
	return out
}

func (e *Engine) snapshot(ctx context.Context) *rules.Snapshot {
	if e.rules == nil {
		return &rules.Snapshot{}
	}
	if s := e.rules.Current(ctx); s != nil {
		return s
	}
	return &rules.Snapshot{}
}

// dispatchAll runs the action lists of every firing rule concurrently.
func (e *Engine) dispatchAll(ctx context.Context, ev model.Event, degraded bool, firings []*firing) {
	if e.dispatcher == nil {
		for _, f := range firings {
			f.result = skippedResult(f.rule.Actions, dispatch.ReasonNoHandler)
		}
		return
	}
	var wg sync.WaitGroup
	for _, f := range firings {
		wg.Add(1)
		go func(f *firing) {
			defer wg.Done()
			f.result = e.dispatcher.Dispatch(ctx, f.rule.Actions, dispatch.Context{
				RuleID:   f.rule.ID,
				RuleName: f.rule.Name,
				Event:    ev,
				Severity: f.severity,
				Degraded: degraded,
			})
		}(f)
	}
	wg.Wait()
}

func skippedResult(actions []model.Action, reason string) model.DispatchResult {
	res := model.DispatchResult{Outcomes: make([]model.ActionOutcome, len(actions))}
	for i, a := range actions {
		res.Outcomes[i] = model.ActionOutcome{Index: i, Type: a.Type, Value: a.Value, Status: model.StatusSkipped, Reason: reason}
	}
	return res
}

func (e *Engine) mustTransition(c *cycle, next Phase) {
	if err := c.to(next); err != nil {
		panic(fmt.Sprintf("engine: %v", err))
	}
}

// Severity ranks an alert by what the rule is allowed to do.
func Severity(r model.Rule) model.Severity {
	switch {
	case r.HasAction(model.ActionPolice), r.HasAction(model.ActionAlarm):
		return model.SeverityCritical
	case (r.NotificationType == model.NotifyEmergency || r.NotificationType == model.NotifyBoth) && r.Sensitivity == model.SensitivityHigh:
		return model.SeverityCritical
	case r.Sensitivity == model.SensitivityHigh, r.NotificationType == model.NotifyEmergency:
		return model.SeverityHigh
	case r.Sensitivity == model.SensitivityMedium:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// IsIllegalTransition reports whether err came from the phase machine.
func IsIllegalTransition(err error) bool {
	var it *IllegalTransitionError
	return errors.As(err, &it)
}
