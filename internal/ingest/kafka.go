package ingest

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader the consumer loop uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func StartKafka(ctx context.Context, p *Pipeline) {
	current := p.cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if p.logger != nil {
			p.logger.Info("kafka ingest disabled")
		}
		return
	}
	if p.logger != nil {
		p.logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go ConsumeKafka(ctx, reader, p)
}

// ConsumeKafka reads until ctx is done. A message whose key is set and whose
// body has no id uses the key as the event id, so redeliveries dedupe.
func ConsumeKafka(ctx context.Context, reader MessageReader, p *Pipeline) {
	defer reader.Close()
	parser := NewParser()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if p.logger != nil {
				p.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}
		fields, err := parser.ParseLine(string(m.Value))
		if err != nil || fields == nil {
			continue
		}
		if fields.ID == "" && len(m.Key) > 0 {
			fields.ID = string(m.Key)
		}
		_ = p.HandleFields("kafka", *fields)
	}
}
