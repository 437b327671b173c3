package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements HistoryStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	// WAL mode: the history writer and the status API read concurrently.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS alert_history (
		id TEXT PRIMARY KEY,
		rule_key TEXT NOT NULL,
		metric TEXT NOT NULL,
		severity TEXT NOT NULL,
		value REAL NOT NULL,
		threshold REAL NOT NULL,
		escalation INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 0,
		fired_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_history_fired_at ON alert_history(fired_at);
	CREATE INDEX IF NOT EXISTS idx_alert_history_rule_key ON alert_history(rule_key);

	CREATE TABLE IF NOT EXISTS scaling_history (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		rule_name TEXT,
		direction TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		from_instances INTEGER NOT NULL,
		to_instances INTEGER NOT NULL,
		error TEXT,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scaling_history_occurred_at ON scaling_history(occurred_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) RecordAlert(ctx context.Context, rec *AlertRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alert_history (id, rule_key, metric, severity, value, threshold, escalation, level, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	escalation := 0
	if rec.Escalation {
		escalation = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RuleKey, rec.Metric, rec.Severity, rec.Value,
		rec.Threshold, escalation, rec.Level, rec.FiredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert alert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordScaling(ctx context.Context, rec *ScalingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO scaling_history (id, rule_id, rule_name, direction, metric, value, from_instances, to_instances, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RuleID, rec.RuleName, rec.Direction, rec.Metric,
		rec.Value, rec.FromInstances, rec.ToInstances, rec.Err,
		rec.OccurredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scaling record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, rule_key, metric, severity, value, threshold, escalation, level, fired_at
		FROM alert_history ORDER BY fired_at DESC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		var escalation int
		var firedAt int64
		if err := rows.Scan(&rec.ID, &rec.RuleKey, &rec.Metric, &rec.Severity,
			&rec.Value, &rec.Threshold, &escalation, &rec.Level, &firedAt); err != nil {
			return nil, fmt.Errorf("scan alert record: %w", err)
		}
		rec.Escalation = escalation != 0
		rec.FiredAt = time.Unix(0, firedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentScalings(ctx context.Context, limit int) ([]ScalingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, rule_id, rule_name, direction, metric, value, from_instances, to_instances, error, occurred_at
		FROM scaling_history ORDER BY occurred_at DESC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query scaling history: %w", err)
	}
	defer rows.Close()

	var out []ScalingRecord
	for rows.Next() {
		var rec ScalingRecord
		var ruleName, errStr sql.NullString
		var occurredAt int64
		if err := rows.Scan(&rec.ID, &rec.RuleID, &ruleName, &rec.Direction,
			&rec.Metric, &rec.Value, &rec.FromInstances, &rec.ToInstances,
			&errStr, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan scaling record: %w", err)
		}
		rec.RuleName = ruleName.String
		rec.Err = errStr.String
		rec.OccurredAt = time.Unix(0, occurredAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_history WHERE fired_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune alert history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		pruned += n
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM scaling_history WHERE occurred_at < ?`, cutoff.UnixNano())
	if err != nil {
		return pruned, fmt.Errorf("prune scaling history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		pruned += n
	}

	return pruned, nil
}

// Optimize runs SQLite housekeeping; called by the maintenance scheduler,
// never from a hot path.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		return fmt.Errorf("pragma optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum;"); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ HistoryStore = (*SQLiteStore)(nil)
