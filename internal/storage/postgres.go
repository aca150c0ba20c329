package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			condition_type TEXT NOT NULL,
			operator TEXT NOT NULL,
			condition_value TEXT NOT NULL,
			sensitivity TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			actions_json TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			device_id TEXT NOT NULL,
			actions_attempted INTEGER NOT NULL,
			actions_succeeded INTEGER NOT NULL,
			outcomes_json TEXT NOT NULL,
			severity TEXT NOT NULL,
			degraded INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_event ON alerts(event_id)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/homeguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect}, nil
}
