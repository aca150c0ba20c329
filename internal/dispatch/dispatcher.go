package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homeguard/internal/model"
)

const DefaultTimeout = 5 * time.Second

// Outcome reasons for actions that never reached a handler or did not finish.
const (
	ReasonTimeout              = "timeout"
	ReasonCanceled             = "canceled"
	ReasonNoHandler            = "no handler"
	ReasonConfirmationRequired = "confirmation required"
)

// Context describes what triggered a dispatch.
type Context struct {
	RuleID   string
	RuleName string
	Event    model.Event
	Severity model.Severity
	Degraded bool
}

// ActionHandler performs one side effect. Handlers are supplied by
// integrations and must honor ctx cancellation.
type ActionHandler interface {
	Handle(ctx context.Context, action model.Action, payload model.Payload, dctx Context) error
}

type HandlerFunc func(ctx context.Context, action model.Action, payload model.Payload, dctx Context) error

func (f HandlerFunc) Handle(ctx context.Context, action model.Action, payload model.Payload, dctx Context) error {
	return f(ctx, action, payload, dctx)
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[model.ActionType]ActionHandler
	gates    map[model.ActionType]Gate
	timeout  time.Duration
	logger   *slog.Logger
	observe  func(model.ActionOutcome)
}

func New(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		handlers: make(map[model.ActionType]ActionHandler),
		gates:    make(map[model.ActionType]Gate),
		timeout:  timeout,
		logger:   logger,
	}
}

func (d *Dispatcher) Register(t model.ActionType, h ActionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, t)
		return
	}
	d.handlers[t] = h
}

// SetGate guards an action type with a confirmation gate.
func (d *Dispatcher) SetGate(t model.ActionType, g Gate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g == nil {
		delete(d.gates, t)
		return
	}
	d.gates[t] = g
}

func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// OnOutcome registers a callback invoked once per finished action.
func (d *Dispatcher) OnOutcome(fn func(model.ActionOutcome)) {
	d.mu.Lock()
	d.observe = fn
	d.mu.Unlock()
}

// Dispatch runs every action concurrently, each bounded by the dispatcher
// timeout, and reports outcomes in action order.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []model.Action, dctx Context) model.DispatchResult {
	res := model.DispatchResult{Outcomes: make([]model.ActionOutcome, len(actions))}
	if len(actions) == 0 {
		return res
	}
	d.mu.RLock()
	timeout := d.timeout
	observe := d.observe
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action model.Action) {
			defer wg.Done()
			res.Outcomes[i] = d.run(ctx, i, action, dctx, timeout)
		}(i, action)
	}
	wg.Wait()

	for _, o := range res.Outcomes {
		if observe != nil {
			observe(o)
		}
		if o.Status == model.StatusFailed && d.logger != nil {
			d.logger.Warn("action failed", "rule_id", dctx.RuleID, "event_id", dctx.Event.ID, "action", o.Type, "reason", o.Reason)
		}
	}
	return res
}

func (d *Dispatcher) run(ctx context.Context, i int, action model.Action, dctx Context, timeout time.Duration) model.ActionOutcome {
	start := time.Now()
	out := model.ActionOutcome{Index: i, Type: action.Type, Value: action.Value}
	finish := func(status model.Status, reason string) model.ActionOutcome {
		out.Status = status
		out.Reason = reason
		out.Duration = time.Since(start)
		return out
	}

	payload, err := action.Payload()
	if err != nil {
		return finish(model.StatusFailed, err.Error())
	}

	d.mu.RLock()
	h := d.handlers[action.Type]
	gate := d.gates[action.Type]
	d.mu.RUnlock()

	if gate != nil {
		if ok, reason := gate.Allow(ctx, action, dctx); !ok {
			if reason == "" {
				reason = ReasonConfirmationRequired
			}
			return finish(model.StatusSkipped, reason)
		}
	}
	if h == nil {
		return finish(model.StatusSkipped, ReasonNoHandler)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h.Handle(actx, action, payload, dctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return finish(model.StatusFailed, ReasonTimeout)
			}
			return finish(model.StatusFailed, failureReason(err))
		}
		return finish(model.StatusSucceeded, "")
	case <-actx.Done():
		if ctx.Err() != nil {
			return finish(model.StatusFailed, ReasonCanceled)
		}
		return finish(model.StatusFailed, ReasonTimeout)
	}
}

func failureReason(err error) string {
	var de *model.DispatchError
	if errors.As(err, &de) && de.Reason != "" {
		if de.Err != nil {
			return de.Reason + ": " + de.Err.Error()
		}
		return de.Reason
	}
	return err.Error()
}
