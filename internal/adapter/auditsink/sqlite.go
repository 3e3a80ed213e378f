package auditsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// SQLiteSink implements domain.AuditSink and domain.AuditPruner using SQLite.
// The full record is stored as JSON; the filterable fields are columns.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateAudit(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func migrateAudit(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id          TEXT PRIMARY KEY,
			recorded_at INTEGER NOT NULL,
			agent       TEXT NOT NULL,
			caller_id   TEXT NOT NULL DEFAULT '',
			input_hash  TEXT NOT NULL DEFAULT '',
			cached      INTEGER NOT NULL DEFAULT 0,
			record      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_records (recorded_at);
		CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_records (agent, recorded_at);
	`)
	return err
}

func (s *SQLiteSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.NewDomainError("SQLiteSink.Append", domain.ErrAuditWrite, err.Error())
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_records (id, recorded_at, agent, caller_id, input_hash, cached, record) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.RecordedAt.UnixNano(), rec.Decision.Agent, rec.CallerID, rec.InputHash, rec.Cached, string(data),
	)
	if err != nil {
		return domain.NewDomainError("SQLiteSink.Append", domain.ErrAuditWrite, err.Error())
	}
	return nil
}

func (s *SQLiteSink) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	var where []string
	var args []any
	if !filter.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, filter.Until.UnixNano())
	}
	if filter.AgentID != "" {
		where = append(where, "agent = ?")
		args = append(args, filter.AgentID)
	}
	if filter.CallerID != "" {
		where = append(where, "caller_id = ?")
		args = append(args, filter.CallerID)
	}

	q := "SELECT record FROM audit_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.WrapOp("SQLiteSink.Query", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.WrapOp("SQLiteSink.Query", err)
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, domain.WrapOp("SQLiteSink.Query", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than before.
func (s *SQLiteSink) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_records WHERE recorded_at < ?", before.UnixNano())
	if err != nil {
		return 0, domain.WrapOp("SQLiteSink.Prune", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error { return s.db.Close() }

var (
	_ domain.AuditSink   = (*SQLiteSink)(nil)
	_ domain.AuditPruner = (*SQLiteSink)(nil)
)
