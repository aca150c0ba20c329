package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
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

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:homeguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, d: sqliteDialect}, nil
}
