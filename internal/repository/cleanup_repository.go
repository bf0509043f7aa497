package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

// CleanupTarget names a table and the predicate selecting a term's rows in it.
// The predicate receives the term id as $1.
type CleanupTarget struct {
	Table string
	Where string
}

// TermTable is the final target of every term cleanup.
const TermTable = "terms"

// CleanupTargets lists the tables holding term data in dependency order:
// grants, then staging and import rows, then assignments and events, then
// catalog rows and finally the term itself.
var CleanupTargets = []CleanupTarget{
	{Table: "user_subject_permissions", Where: "term_id = $1"},
	{Table: "user_career_permissions", Where: "term_id = $1"},
	{Table: "user_category_permissions", Where: "term_id = $1"},
	{Table: "upload_logs", Where: "term_id = $1"},
	{Table: "start_vacancies", Where: "term_id = $1"},
	{Table: "approved_dol", Where: "term_id = $1"},
	{Table: "approved_optional_courses", Where: "term_id = $1"},
	{Table: "event_instructors", Where: "term_id = $1 OR event_id IN (SELECT id FROM schedule_events WHERE term_id = $1)"},
	{Table: "schedule_events", Where: "term_id = $1"},
	{Table: "academic_structures", Where: "term_id = $1"},
	{Table: "careers", Where: "term_id = $1"},
	{Table: TermTable, Where: "id = $1"},
}

// CleanupRepository deletes term data and records cleanup executions.
type CleanupRepository struct {
	db *sqlx.DB
}

// NewCleanupRepository constructs a CleanupRepository.
func NewCleanupRepository(db *sqlx.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

// Targets returns the ordered deletion plan.
func (r *CleanupRepository) Targets() []CleanupTarget {
	return CleanupTargets
}

// Snapshot returns the rows a target would delete for a term.
func (r *CleanupRepository) Snapshot(ctx context.Context, target CleanupTarget, termID string) ([]map[string]interface{}, error) {
	rows, err := r.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", target.Table, target.Where), termID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", target.Table, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s snapshot: %w", target.Table, err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s snapshot: %w", target.Table, err)
	}
	return out, nil
}

// Delete removes a term's rows from one target and returns the count.
func (r *CleanupRepository) Delete(ctx context.Context, target CleanupTarget, termID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", target.Table, target.Where), termID)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", target.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected on %s: %w", target.Table, err)
	}
	return n, nil
}

// InsertLog appends an execution log row.
func (r *CleanupRepository) InsertLog(ctx context.Context, entry *models.CleanupExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const query = `INSERT INTO cleanup_logs (id, execution_id, executed_at, status, terms_identified, terms_deleted, total_records_deleted, execution_seconds, debug_mode, months_threshold, max_terms_per_run, perform_backup, trigger_source, error_message, table_counts, processed_term_ids, table_errors) VALUES (:id, :execution_id, :executed_at, :status, :terms_identified, :terms_deleted, :total_records_deleted, :execution_seconds, :debug_mode, :months_threshold, :max_terms_per_run, :perform_backup, :trigger_source, :error_message, :table_counts, :processed_term_ids, :table_errors)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("insert cleanup log: %w", err)
	}
	return nil
}

// ListHistory returns the most recent executions, newest first.
func (r *CleanupRepository) ListHistory(ctx context.Context, limit int) ([]models.CleanupHistoryItem, error) {
	const query = `SELECT execution_id, executed_at, status, terms_deleted, total_records_deleted, execution_seconds, trigger_source FROM cleanup_logs ORDER BY executed_at DESC LIMIT $1`
	var items []models.CleanupHistoryItem
	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("list cleanup history: %w", err)
	}
	return items, nil
}

// FindLog loads the full log row of an execution.
func (r *CleanupRepository) FindLog(ctx context.Context, executionID string) (*models.CleanupExecutionLog, error) {
	const query = `SELECT id, execution_id, executed_at, status, terms_identified, terms_deleted, total_records_deleted, execution_seconds, debug_mode, months_threshold, max_terms_per_run, perform_backup, trigger_source, error_message, table_counts, processed_term_ids, table_errors FROM cleanup_logs WHERE execution_id = $1`
	var entry models.CleanupExecutionLog
	if err := r.db.GetContext(ctx, &entry, query, executionID); err != nil {
		return nil, err
	}
	return &entry, nil
}
