package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

// InstructorRepository reads the instructor registry.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository constructs an InstructorRepository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

// FindByID loads an instructor by identifier.
func (r *InstructorRepository) FindByID(ctx context.Context, id string) (*models.Instructor, error) {
	const query = `SELECT id, full_name, email, is_active, created_at, updated_at FROM instructors WHERE id = $1`
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// ListActive returns active instructors ordered by name.
func (r *InstructorRepository) ListActive(ctx context.Context) ([]models.Instructor, error) {
	const query = `SELECT id, full_name, email, is_active, created_at, updated_at FROM instructors WHERE is_active = TRUE ORDER BY full_name ASC`
	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query); err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	return instructors, nil
}

// ExistingIDs returns the subset of ids that belong to active instructors.
func (r *InstructorRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id FROM instructors WHERE is_active = TRUE AND id = ANY($1)`
	var found []string
	if err := r.db.SelectContext(ctx, &found, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("check instructors: %w", err)
	}
	return found, nil
}
