package dispatch

import (
	"context"
	"sync"
	"time"

	"homeguard/internal/model"
)

// Gate decides whether a guarded action may run. A denial carries a reason
// recorded on the skipped outcome.
type Gate interface {
	Allow(ctx context.Context, action model.Action, dctx Context) (bool, string)
}

type GateFunc func(ctx context.Context, action model.Action, dctx Context) (bool, string)

func (f GateFunc) Allow(ctx context.Context, action model.Action, dctx Context) (bool, string) {
	return f(ctx, action, dctx)
}

// OpenGate allows every action.
type OpenGate struct{}

func (OpenGate) Allow(context.Context, model.Action, Context) (bool, string) { return true, "" }

// ArmGate allows guarded actions only while an administrator has armed it.
// Arming expires on its own.
type ArmGate struct {
	mu         sync.Mutex
	armedUntil time.Time
	armedBy    string
	now        func() time.Time
}

func NewArmGate() *ArmGate {
	return &ArmGate{now: time.Now}
}

func (g *ArmGate) Arm(by string, d time.Duration) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armedUntil = g.now().Add(d)
	g.armedBy = by
	return g.armedUntil
}

func (g *ArmGate) Disarm() {
	g.mu.Lock()
	g.armedUntil = time.Time{}
	g.armedBy = ""
	g.mu.Unlock()
}

type ArmState struct {
	Armed bool      `json:"armed"`
	Until time.Time `json:"until,omitempty"`
	By    string    `json:"by,omitempty"`
}

func (g *ArmGate) State() ArmState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.now().Before(g.armedUntil) {
		return ArmState{}
	}
	return ArmState{Armed: true, Until: g.armedUntil, By: g.armedBy}
}

func (g *ArmGate) Allow(context.Context, model.Action, Context) (bool, string) {
	if g.State().Armed {
		return true, ""
	}
	return false, ReasonConfirmationRequired
}
