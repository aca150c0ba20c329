package storage

import (
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes live in the table DDL.
var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			condition_type VARCHAR(16) NOT NULL,
			operator VARCHAR(16) NOT NULL,
			condition_value VARCHAR(255) NOT NULL,
			sensitivity VARCHAR(16) NOT NULL,
			notification_type VARCHAR(16) NOT NULL,
			actions_json TEXT NOT NULL,
			enabled TINYINT NOT NULL,
			created_at VARCHAR(32) NOT NULL,
			updated_at VARCHAR(32) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR(64) PRIMARY KEY,
			rule_id VARCHAR(64) NOT NULL,
			rule_name VARCHAR(255) NOT NULL,
			event_id VARCHAR(128) NOT NULL,
			event_kind VARCHAR(128) NOT NULL,
			device_id VARCHAR(128) NOT NULL,
			actions_attempted INT NOT NULL,
			actions_succeeded INT NOT NULL,
			outcomes_json TEXT NOT NULL,
			severity VARCHAR(16) NOT NULL,
			degraded TINYINT NOT NULL,
			created_at VARCHAR(32) NOT NULL,
			INDEX idx_alerts_created (created_at),
			INDEX idx_alerts_event (event_id)
		)`,
	},
}

func NewMySQL(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "homeguard:homeguard@tcp(localhost:3306)/homeguard"
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = false
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: sql.OpenDB(connector), d: mysqlDialect}, nil
}
