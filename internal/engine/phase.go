package engine

import (
	"fmt"
	"sync/atomic"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseEvaluating  Phase = "evaluating"
	PhaseDispatching Phase = "dispatching"
)

var phases = []Phase{PhaseIdle, PhaseEvaluating, PhaseDispatching}

// Evaluating may return straight to Idle when nothing matched.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseEvaluating},
	PhaseEvaluating:  {PhaseDispatching, PhaseIdle},
	PhaseDispatching: {PhaseIdle},
}

type IllegalTransitionError struct {
	From, To Phase
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s", e.From, e.To)
}

// phaseCounter tracks how many events are in each non-idle phase.
type phaseCounter struct {
	evaluating  atomic.Int64
	dispatching atomic.Int64
	onChange    func(from, to Phase)
}

func (p *phaseCounter) gauge(ph Phase) *atomic.Int64 {
	switch ph {
	case PhaseEvaluating:
		return &p.evaluating
	case PhaseDispatching:
		return &p.dispatching
	}
	return nil
}

// cycle is the per-event state machine.
type cycle struct {
	phase   Phase
	counter *phaseCounter
}

func newCycle(counter *phaseCounter) *cycle {
	return &cycle{phase: PhaseIdle, counter: counter}
}

func (c *cycle) to(next Phase) error {
	allowed := false
	for _, p := range transitions[c.phase] {
		if p == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return &IllegalTransitionError{From: c.phase, To: next}
	}
	prev := c.phase
	c.phase = next
	if c.counter != nil {
		if g := c.counter.gauge(prev); g != nil {
			g.Add(-1)
		}
		if g := c.counter.gauge(next); g != nil {
			g.Add(1)
		}
		if c.counter.onChange != nil {
			c.counter.onChange(prev, next)
		}
	}
	return nil
}
