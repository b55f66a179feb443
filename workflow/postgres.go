package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresHistory implements HistoryStore on the workflow_history table.
type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

func (s *PostgresHistory) Log(ctx context.Context, h *HistoryEntry) error {
	stamp(h)
	if err := h.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_history (id, source_department_id, target_department_id,
			source_record_id, target_record_id, status, error_message, pushed_by, pushed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, h.ID, h.SourceDepartmentID, h.TargetDepartmentID, h.RecordID,
		nullable(h.TargetRecordID), string(h.Status), nullable(h.ErrorMessage), h.PushedBy, h.PushedAt)
	if err != nil {
		return fmt.Errorf("failed to insert workflow history: %w", err)
	}
	return nil
}

// where renders f as a WHERE clause with positional arguments.
func where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.RecordID != "" {
		add("source_record_id", f.RecordID)
	}
	if f.SourceDepartmentID != 0 {
		add("source_department_id", f.SourceDepartmentID)
	}
	if f.TargetDepartmentID != 0 {
		add("target_department_id", f.TargetDepartmentID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresHistory) List(ctx context.Context, f Filter) ([]*HistoryEntry, error) {
	clause, args := where(f)
	args = append(args, f.limit())
	query := fmt.Sprintf(`
		SELECT id, source_department_id, target_department_id, source_record_id,
			COALESCE(target_record_id, ''), status, COALESCE(error_message, ''), pushed_by, pushed_at
		FROM workflow_history
		%s
		ORDER BY pushed_at DESC, id DESC
		LIMIT $%d
	`, clause, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow history: %w", err)
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var (
			h      HistoryEntry
			status string
		)
		if err := rows.Scan(&h.ID, &h.SourceDepartmentID, &h.TargetDepartmentID, &h.RecordID,
			&h.TargetRecordID, &status, &h.ErrorMessage, &h.PushedBy, &h.PushedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow history: %w", err)
		}
		h.Status = Status(status)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow history: %w", err)
	}
	return out, nil
}

func (s *PostgresHistory) Stats(ctx context.Context, f Filter) (Statistics, error) {
	clause, args := where(f)
	var total, ok, failed int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM workflow_history `+clause, args...).Scan(&total, &ok, &failed)
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to compute workflow statistics: %w", err)
	}
	return newStatistics(total, ok, failed), nil
}

// PostgresSink implements RecordSink on the business_records table.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Insert(ctx context.Context, departmentID int64, data map[string]any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_records (id, department_id, data) VALUES ($1, $2, $3)
	`, id, departmentID, raw)
	if err != nil {
		return "", fmt.Errorf("failed to insert record into department %d: %w", departmentID, err)
	}
	return id, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
