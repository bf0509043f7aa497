package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

const termColumns = "id, name, description, start_date, end_date, academic_year, sequence, is_active, payment_window1_start, payment_window1_end, payment_window2_start, payment_window2_end, factor, created_at, updated_at"

const insertTermQuery = `INSERT INTO terms (id, name, description, start_date, end_date, academic_year, sequence, is_active, payment_window1_start, payment_window1_end, payment_window2_start, payment_window2_end, factor, created_at, updated_at) VALUES (:id, :name, :description, :start_date, :end_date, :academic_year, :sequence, :is_active, :payment_window1_start, :payment_window1_end, :payment_window2_start, :payment_window2_end, :factor, :created_at, :updated_at)`

// TermRepository handles persistence for academic terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

// List returns terms matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	base := "FROM terms WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.AcademicYear > 0 {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":          true,
		"start_date":    true,
		"end_date":      true,
		"academic_year": true,
		"sequence":      true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", termColumns, base, sortBy, order, size, offset)

	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}

	return terms, total, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms WHERE id = $1", termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListByYear returns the terms of an academic year ordered by sequence.
func (r *TermRepository) ListByYear(ctx context.Context, year int) ([]models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms WHERE academic_year = $1 ORDER BY sequence ASC", termColumns)
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, year); err != nil {
		return nil, fmt.Errorf("list terms by year: %w", err)
	}
	return terms, nil
}

// FindCurrent returns the active term whose range contains at.
func (r *TermRepository) FindCurrent(ctx context.Context, at time.Time) (*models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms WHERE is_active = TRUE AND start_date <= $1::date AND end_date >= $1::date ORDER BY start_date DESC LIMIT 1", termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, models.CalendarDay(at)); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindContaining returns the term whose range contains at, preferring active terms.
func (r *TermRepository) FindContaining(ctx context.Context, at time.Time) (*models.Term, error) {
	query := fmt.Sprintf("SELECT %s FROM terms WHERE start_date <= $1::date AND end_date >= $1::date ORDER BY is_active DESC, start_date DESC LIMIT 1", termColumns)
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, models.CalendarDay(at)); err != nil {
		return nil, err
	}
	return &term, nil
}

// ExistsOverlapping reports whether another active term of the same academic
// year shares a day with [start, end].
func (r *TermRepository) ExistsOverlapping(ctx context.Context, year int, start, end time.Time, excludeID string) (bool, error) {
	query := "SELECT 1 FROM terms WHERE is_active = TRUE AND academic_year = $1 AND start_date <= $3::date AND end_date >= $2::date"
	args := []interface{}{year, start, end}
	if excludeID != "" {
		query += " AND id <> $4"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check term overlap: %w", err)
	}
	return true, nil
}

// ExistsSequence checks whether a term with the same year and sequence exists.
func (r *TermRepository) ExistsSequence(ctx context.Context, year, sequence int, excludeID string) (bool, error) {
	query := "SELECT 1 FROM terms WHERE academic_year = $1 AND sequence = $2"
	args := []interface{}{year, sequence}
	if excludeID != "" {
		query += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check term sequence: %w", err)
	}
	return true, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, term *models.Term) error {
	prepareTerm(term, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertTermQuery, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// CreateBatch inserts all terms in a single transaction.
func (r *TermRepository) CreateBatch(ctx context.Context, terms []models.Term) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin term batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range terms {
		prepareTerm(&terms[i], now)
		if _, err = tx.NamedExecContext(ctx, insertTermQuery, &terms[i]); err != nil {
			return fmt.Errorf("insert term %d: %w", terms[i].Sequence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit term batch: %w", err)
	}
	return nil
}

// Update modifies an existing term.
func (r *TermRepository) Update(ctx context.Context, term *models.Term) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE terms SET name = :name, description = :description, start_date = :start_date, end_date = :end_date, academic_year = :academic_year, sequence = :sequence, is_active = :is_active, payment_window1_start = :payment_window1_start, payment_window1_end = :payment_window1_end, payment_window2_start = :payment_window2_start, payment_window2_end = :payment_window2_end, factor = :factor, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// SetActive toggles the active flag of a term.
func (r *TermRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE terms SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set term active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListCleanupCandidates returns inactive terms that ended strictly before cutoff,
// earliest ending first. A limit of zero returns every candidate.
func (r *TermRepository) ListCleanupCandidates(ctx context.Context, now, cutoff time.Time, limit int) ([]models.CleanupCandidate, error) {
	query := fmt.Sprintf(`SELECT %s, (EXTRACT(YEAR FROM age($1::date, end_date)) * 12 + EXTRACT(MONTH FROM age($1::date, end_date)))::int AS months_since_end FROM terms WHERE is_active = FALSE AND end_date < $2::date ORDER BY end_date ASC, id ASC`, termColumns)
	args := []interface{}{now, cutoff}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	var candidates []models.CleanupCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("list cleanup candidates: %w", err)
	}
	return candidates, nil
}

func prepareTerm(term *models.Term, now time.Time) {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now
}
