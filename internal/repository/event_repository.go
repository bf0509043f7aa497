package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

const eventColumns = "id, title, description, start_at, end_at, room, subject_code, students, hours, color, term_id, is_active, created_by, created_at, updated_at"

// visibleClause restricts events to subjects reachable by a user's grants.
// $1 is the term id and $2 the user id.
var visibleClause = `e.term_id = $1 AND e.subject_code IS NOT NULL AND (` + grantExists() + `)`

// EventRepository provides persistence for events and their instructor assignments.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// List returns events with optional filtering and pagination.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	base := "FROM schedule_events e WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("e.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	conditions, args = appendRangeConditions(conditions, args, filter.StartDate, filter.EndDate)
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM event_instructors ei WHERE ei.event_id = e.id AND ei.instructor_id = $%d)", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("e.is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Room != "" {
		conditions = append(conditions, fmt.Sprintf("e.room = $%d", len(args)+1))
		args = append(args, filter.Room)
	}
	if filter.SubjectCode != "" {
		conditions = append(conditions, fmt.Sprintf("UPPER(e.subject_code) = UPPER($%d)", len(args)+1))
		args = append(args, filter.SubjectCode)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY e.start_at ASC, e.id ASC LIMIT %d OFFSET %d", prefixed("e", eventColumns), base, size, offset)
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	return events, total, nil
}

// ListVisible returns the events of a term whose subject the user may see,
// most recently updated first.
func (r *EventRepository) ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, int, error) {
	base := "FROM schedule_events e WHERE " + visibleClause
	args := []interface{}{filter.TermID, filter.UserID}
	var conditions []string

	conditions, args = appendRangeConditions(conditions, args, filter.StartDate, filter.EndDate)
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("e.is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY e.updated_at DESC, e.id ASC LIMIT %d OFFSET %d", prefixed("e", eventColumns), base, size, offset)
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list visible events: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count visible events: %w", err)
	}

	return events, total, nil
}

// ListByTerm returns every event of a term ordered chronologically.
func (r *EventRepository) ListByTerm(ctx context.Context, termID string) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_events WHERE term_id = $1 ORDER BY start_at ASC, id ASC", eventColumns)
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, termID); err != nil {
		return nil, fmt.Errorf("list events by term: %w", err)
	}
	return events, nil
}

// FindByID loads an event by id.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_events WHERE id = $1", eventColumns)
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

type eventInstructorRow struct {
	EventID string `db:"event_id"`
	models.Instructor
}

// ListInstructors returns the instructors assigned to each of the given events.
func (r *EventRepository) ListInstructors(ctx context.Context, eventIDs []string) (map[string][]models.Instructor, error) {
	result := make(map[string][]models.Instructor, len(eventIDs))
	if len(eventIDs) == 0 {
		return result, nil
	}
	const query = `SELECT ei.event_id, i.id, i.full_name, i.email, i.is_active, i.created_at, i.updated_at FROM event_instructors ei JOIN instructors i ON i.id = ei.instructor_id WHERE ei.event_id = ANY($1) ORDER BY i.full_name ASC`
	var rows []eventInstructorRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(eventIDs)); err != nil {
		return nil, fmt.Errorf("list event instructors: %w", err)
	}
	for _, row := range rows {
		result[row.EventID] = append(result[row.EventID], row.Instructor)
	}
	return result, nil
}

// CountActiveBySubject counts active events of a subject within a term.
func (r *EventRepository) CountActiveBySubject(ctx context.Context, subjectCode, termID string) (int, error) {
	const query = `SELECT COUNT(*) FROM schedule_events WHERE is_active = TRUE AND UPPER(subject_code) = UPPER($1) AND term_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, subjectCode, termID); err != nil {
		return 0, fmt.Errorf("count events by subject: %w", err)
	}
	return count, nil
}

// LockRoom serialises writers booking the same room until the surrounding
// transaction ends.
func (r *EventRepository) LockRoom(ctx context.Context, exec sqlx.ExtContext, room string) error {
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, room); err != nil {
		return fmt.Errorf("lock room %s: %w", room, err)
	}
	return nil
}

// FindRoomConflicts returns active events in room overlapping [start, end).
func (r *EventRepository) FindRoomConflicts(ctx context.Context, exec sqlx.ExtContext, room string, start, end time.Time, excludeID string) ([]models.Event, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_events WHERE is_active = TRUE AND room = $1 AND start_at < $3 AND end_at > $2", eventColumns)
	args := []interface{}{room, start, end}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	query += " ORDER BY start_at ASC"

	var events []models.Event
	if err := sqlx.SelectContext(ctx, exec, &events, query, args...); err != nil {
		return nil, fmt.Errorf("find room conflicts: %w", err)
	}
	return events, nil
}

// Insert stores a new event record.
func (r *EventRepository) Insert(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	const query = `INSERT INTO schedule_events (id, title, description, start_at, end_at, room, subject_code, students, hours, color, term_id, is_active, created_by, created_at, updated_at) VALUES (:id, :title, :description, :start_at, :end_at, :room, :subject_code, :students, :hours, :color, :term_id, :is_active, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Update modifies an event record.
func (r *EventRepository) Update(ctx context.Context, exec sqlx.ExtContext, event *models.Event) error {
	event.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_events SET title = :title, description = :description, start_at = :start_at, end_at = :end_at, room = :room, subject_code = :subject_code, students = :students, hours = :hours, color = :color, term_id = :term_id, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, event); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// ReplaceInstructors deletes every assignment of the event and inserts the given set.
func (r *EventRepository) ReplaceInstructors(ctx context.Context, exec sqlx.ExtContext, eventID string, termID *string, instructorIDs []string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM event_instructors WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("clear event instructors: %w", err)
	}
	for _, instructorID := range instructorIDs {
		if _, err := exec.ExecContext(ctx, `INSERT INTO event_instructors (event_id, instructor_id, term_id) VALUES ($1, $2, $3)`, eventID, instructorID, termID); err != nil {
			return fmt.Errorf("assign instructor %s: %w", instructorID, err)
		}
	}
	return nil
}

// Delete removes an event and its assignments, returning whether it existed.
func (r *EventRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	if _, err := exec.ExecContext(ctx, `DELETE FROM event_instructors WHERE event_id = $1`, id); err != nil {
		return false, fmt.Errorf("delete event instructors: %w", err)
	}
	res, err := exec.ExecContext(ctx, `DELETE FROM schedule_events WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete event rows: %w", err)
	}
	return affected > 0, nil
}

func appendRangeConditions(conditions []string, args []interface{}, start, end *time.Time) ([]string, []interface{}) {
	if end != nil {
		conditions = append(conditions, fmt.Sprintf("e.start_at < $%d", len(args)+1))
		args = append(args, *end)
	}
	if start != nil {
		conditions = append(conditions, fmt.Sprintf("e.end_at > $%d", len(args)+1))
		args = append(args, *start)
	}
	return conditions, args
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, col := range parts {
		parts[i] = alias + "." + col
	}
	return strings.Join(parts, ", ")
}
