package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// Store persists rules and alerts. Rule writes return model.ErrDuplicate and
// model.ErrNotFound for contract violations; any other error means the
// backend is unavailable.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	LoadRules(ctx context.Context) ([]model.Rule, error)
	InsertRule(ctx context.Context, rule model.Rule) error
	UpdateRule(ctx context.Context, rule model.Rule) error
	DeleteRule(ctx context.Context, id string) error

	// SaveAlerts writes every alert or none of them.
	SaveAlerts(ctx context.Context, alerts []model.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
}

func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "mysql":
		return NewMySQL(cfg.DSN)
	case "dynamodb":
		return NewDynamo(ctx, cfg.DynamoDB)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeJSON(data string, out any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

var errTooManyAlerts = errors.New("too many alerts for one transaction")
