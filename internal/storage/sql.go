package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"homeguard/internal/model"
)

type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

// sqlStore implements Store over database/sql for every SQL dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const ruleColumns = `id, name, condition_type, operator, condition_value, sensitivity, notification_type, actions_json, enabled, created_at, updated_at`

func (s *sqlStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Rule
	for rows.Next() {
		var (
			r                    model.Rule
			actions              string
			enabled              int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Condition.Type, &r.Condition.Operator, &r.Condition.Value,
			&r.Sensitivity, &r.NotificationType, &actions, &enabled, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(actions, &r.Actions); err != nil {
			return nil, fmt.Errorf("rule %s actions: %w", r.ID, err)
		}
		r.Enabled = enabled != 0
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func ruleArgs(r model.Rule) []any {
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	return []any{
		r.Name,
		string(r.Condition.Type),
		string(r.Condition.Operator),
		r.Condition.Value,
		string(r.Sensitivity),
		string(r.NotificationType),
		encodeJSON(r.Actions),
		enabled,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	}
}

func (s *sqlStore) InsertRule(ctx context.Context, rule model.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var one int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM rules WHERE id = ?`), rule.ID).Scan(&one)
	switch {
	case err == nil:
		_ = tx.Rollback()
		return model.ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		_ = tx.Rollback()
		return err
	}
	args := append([]any{rule.ID}, ruleArgs(rule)...)
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) UpdateRule(ctx context.Context, rule model.Rule) error {
	args := append(ruleArgs(rule), rule.ID)
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE rules SET name = ?, condition_type = ?, operator = ?, condition_value = ?,
		sensitivity = ?, notification_type = ?, actions_json = ?, enabled = ?, created_at = ?, updated_at = ? WHERE id = ?`), args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *sqlStore) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO alerts (id, rule_id, rule_name, event_id, event_kind, device_id,
		actions_attempted, actions_succeeded, outcomes_json, severity, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, a := range alerts {
		degraded := 0
		if a.Degraded {
			degraded = 1
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID,
			a.RuleID,
			a.RuleName,
			a.EventID,
			a.EventKind,
			a.DeviceID,
			a.ActionsAttempted,
			a.ActionsSucceeded,
			encodeJSON(a.Outcomes),
			string(a.Severity),
			degraded,
			formatTime(a.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, rule_id, rule_name, event_id, event_kind, device_id,
		actions_attempted, actions_succeeded, outcomes_json, severity, degraded, created_at
		FROM alerts ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			outcomes  string
			degraded  int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.RuleID, &a.RuleName, &a.EventID, &a.EventKind, &a.DeviceID,
			&a.ActionsAttempted, &a.ActionsSucceeded, &outcomes, &a.Severity, &degraded, &createdAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(outcomes, &a.Outcomes); err != nil {
			return nil, fmt.Errorf("alert %s outcomes: %w", a.ID, err)
		}
		a.Degraded = degraded != 0
		a.Persisted = true
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
