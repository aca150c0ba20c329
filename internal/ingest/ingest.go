package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"homeguard/internal/config"
	"homeguard/internal/model"
	"homeguard/internal/normalize"
)

// Sink accepts normalized events for evaluation. Submit must not block.
type Sink interface {
	Submit(ev model.Event) error
}

// Pipeline turns raw lines and field sets from any transport into events
// and hands them to the sink.
type Pipeline struct {
	cfg    *config.Manager
	mu     sync.Mutex
	parser *Parser
	norm   atomic.Pointer[cachedNormalizer]
	sink   Sink
	logger *slog.Logger
}

type cachedNormalizer struct {
	cfg *config.Config
	n   *normalize.Normalizer
}

func NewPipeline(cfg *config.Manager, sink Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, parser: NewParser(), sink: sink, logger: logger}
}

// HandleLine parses and delivers one line. Blank and header lines are
// skipped without error.
func (p *Pipeline) HandleLine(origin, line string) error {
	p.mu.Lock()
	fields, err := p.parser.ParseLine(line)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if fields == nil {
		return nil
	}
	return p.HandleFields(origin, *fields)
}

// normalizer returns the Normalizer built for the current config. Face
// profiles are rebuilt only when the config has been replaced.
func (p *Pipeline) normalizer() *normalize.Normalizer {
	cfg := p.cfg.Get()
	if c := p.norm.Load(); c != nil && c.cfg == cfg {
		return c.n
	}
	c := &cachedNormalizer{cfg: cfg, n: normalize.NewNormalizer(cfg)}
	p.norm.Store(c)
	return c.n
}

func (p *Pipeline) HandleFields(origin string, fields normalize.EventFields) error {
	ev, err := p.normalizer().Normalize(fields)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("normalize error", "origin", origin, "err", err)
		}
		return err
	}
	ev.Origin = origin
	return p.deliver(ev)
}

func (p *Pipeline) deliver(ev model.Event) error {
	err := p.sink.Submit(ev)
	if err != nil && !errors.Is(err, model.ErrQueueOverflow) && p.logger != nil {
		p.logger.Warn("event rejected", "origin", ev.Origin, "event_id", ev.ID, "err", err)
	}
	return err
}

// Start launches every enabled transport.
func (p *Pipeline) Start(ctx context.Context) {
	StartREST(ctx, p)
	StartTCPStream(ctx, p)
	StartFileTail(ctx, p)
	StartKafka(ctx, p)
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
