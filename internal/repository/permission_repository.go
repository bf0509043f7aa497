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

// ErrUnknownGrantKind is returned for grants whose kind has no backing table.
var ErrUnknownGrantKind = errors.New("unknown grant kind")

var grantTables = map[models.GrantKind]struct {
	table  string
	column string
}{
	models.GrantSubject:  {table: "user_subject_permissions", column: "subject_code"},
	models.GrantCareer:   {table: "user_career_permissions", column: "career_id"},
	models.GrantCategory: {table: "user_category_permissions", column: "category"},
}

// PermissionRepository persists per-user, per-term visibility grants.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository constructs a PermissionRepository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// ListByUser returns every grant of a user in a term, active ones first.
func (r *PermissionRepository) ListByUser(ctx context.Context, userID, termID string) ([]models.PermissionGrant, error) {
	const query = `
SELECT id, 'SUBJECT' AS kind, user_id, term_id, subject_code, NULL AS career_id, NULL AS category, is_active, created_at
	FROM user_subject_permissions WHERE user_id = $1 AND term_id = $2
UNION ALL
SELECT id, 'CAREER' AS kind, user_id, term_id, NULL, career_id, NULL, is_active, created_at
	FROM user_career_permissions WHERE user_id = $1 AND term_id = $2
UNION ALL
SELECT id, 'CATEGORY' AS kind, user_id, term_id, NULL, NULL, category, is_active, created_at
	FROM user_category_permissions WHERE user_id = $1 AND term_id = $2
ORDER BY is_active DESC, created_at DESC`
	var grants []models.PermissionGrant
	if err := r.db.SelectContext(ctx, &grants, query, userID, termID); err != nil {
		return nil, fmt.Errorf("list permission grants: %w", err)
	}
	return grants, nil
}

// Create stores a new grant in the table matching its kind.
func (r *PermissionRepository) Create(ctx context.Context, grant *models.PermissionGrant) error {
	target, ok := grantTables[grant.Kind]
	if !ok {
		return ErrUnknownGrantKind
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now().UTC()
	}
	grant.IsActive = true

	query := fmt.Sprintf(`INSERT INTO %s (id, user_id, term_id, %s, is_active, created_at) VALUES (:id, :user_id, :term_id, :%s, :is_active, :created_at)`, target.table, target.column, target.column)
	if _, err := r.db.NamedExecContext(ctx, query, grant); err != nil {
		return fmt.Errorf("create %s grant: %w", grant.Kind, err)
	}
	return nil
}

// Deactivate switches a grant off. Grants are never edited in place.
func (r *PermissionRepository) Deactivate(ctx context.Context, kind models.GrantKind, id string) error {
	target, ok := grantTables[kind]
	if !ok {
		return ErrUnknownGrantKind
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`, target.table), id)
	if err != nil {
		return fmt.Errorf("deactivate %s grant: %w", kind, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CareerExists reports whether the career belongs to the term catalog.
func (r *PermissionRepository) CareerExists(ctx context.Context, careerID, termID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM careers WHERE id = $1 AND term_id = $2 LIMIT 1`, careerID, termID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check career: %w", err)
	}
	return true, nil
}

// grantSource describes where one kind of grant resolves to subject codes.
// Sources bind $1 to the term id and $2 to the user id.
type grantSource struct {
	label   string
	subject string
	from    string
}

// grantSources backs both the SQL visibility filter and LoadSet.
var grantSources = []grantSource{
	{
		label:   "subject",
		subject: "p.subject_code",
		from:    `user_subject_permissions p WHERE p.user_id = $2 AND p.term_id = $1 AND p.is_active = TRUE`,
	},
	{
		label:   "career",
		subject: "a.subject_code",
		from: `user_career_permissions p JOIN careers c ON c.id = p.career_id ` +
			`JOIN academic_structures a ON a.career_code = c.code AND a.term_id = p.term_id ` +
			`WHERE p.user_id = $2 AND p.term_id = $1 AND p.is_active = TRUE`,
	},
	{
		label:   "category",
		subject: "v.subject_code",
		from: `user_category_permissions p JOIN start_vacancies v ON v.term_id = p.term_id AND v.is_active = TRUE ` +
			`WHERE p.user_id = $2 AND p.term_id = $1 AND p.is_active = TRUE AND p.category = '` + string(models.CategoryStart) + `'`,
	},
}

func normalizedSubject(column string) string {
	return "UPPER(TRIM(" + column + "))"
}

// grantExists ORs one EXISTS predicate per grant source against e.subject_code.
func grantExists() string {
	parts := make([]string, 0, len(grantSources))
	for _, src := range grantSources {
		parts = append(parts, fmt.Sprintf("EXISTS (SELECT 1 FROM %s AND %s = %s)", src.from, normalizedSubject(src.subject), normalizedSubject("e.subject_code")))
	}
	return strings.Join(parts, " OR ")
}

// LoadSet resolves every active grant of a user in a term into subject codes.
func (r *PermissionRepository) LoadSet(ctx context.Context, userID, termID string) (*models.PermissionSet, error) {
	set := models.NewPermissionSet()
	into := map[string]map[string]struct{}{
		"subject":  set.Subjects,
		"career":   set.CareerSubjects,
		"category": set.CategorySubjects,
	}

	for _, src := range grantSources {
		query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", normalizedSubject(src.subject), src.from)
		var subjects []string
		if err := r.db.SelectContext(ctx, &subjects, query, termID, userID); err != nil {
			return nil, fmt.Errorf("load %s grants: %w", src.label, err)
		}
		for _, s := range subjects {
			into[src.label][s] = struct{}{}
		}
	}
	return set, nil
}
