package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/database"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

type permissionRepository interface {
	ListByUser(ctx context.Context, userID, termID string) ([]models.PermissionGrant, error)
	Create(ctx context.Context, grant *models.PermissionGrant) error
	Deactivate(ctx context.Context, kind models.GrantKind, id string) error
	CareerExists(ctx context.Context, careerID, termID string) (bool, error)
	LoadSet(ctx context.Context, userID, termID string) (*models.PermissionSet, error)
}

type termLookup interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

// GrantRequest creates a permission grant of the given kind.
type GrantRequest struct {
	UserID string           `json:"user_id" validate:"required"`
	TermID string           `json:"bimestre_id" validate:"required"`
	Kind   models.GrantKind `json:"kind" validate:"required,oneof=SUBJECT CAREER CATEGORY"`
	Value  string           `json:"value" validate:"required,max=64"`
}

// PermissionService manages the per-term grants deciding event visibility.
type PermissionService struct {
	repo      permissionRepository
	terms     termLookup
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPermissionService constructs a PermissionService.
func NewPermissionService(repo permissionRepository, terms termLookup, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *PermissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{repo: repo, terms: terms, cache: cache, validator: validate, logger: logger}
}

// List returns every grant of a user in a term.
func (s *PermissionService) List(ctx context.Context, userID, termID string) ([]models.PermissionGrant, error) {
	if userID == "" || termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user_id and bimestre_id are required")
	}
	grants, err := s.repo.ListByUser(ctx, userID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grants")
	}
	return grants, nil
}

// Grant stores a new subject, career or category grant.
func (s *PermissionService) Grant(ctx context.Context, req GrantRequest) (*models.PermissionGrant, error) {
	req.Kind = models.GrantKind(strings.ToUpper(string(req.Kind)))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grant payload")
	}
	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	value := strings.TrimSpace(req.Value)
	grant := &models.PermissionGrant{Kind: req.Kind, UserID: req.UserID, TermID: req.TermID}
	switch req.Kind {
	case models.GrantSubject:
		code := models.NormalizeSubject(value)
		grant.SubjectCode = &code
	case models.GrantCareer:
		exists, err := s.repo.CareerExists(ctx, value, req.TermID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check career")
		}
		if !exists {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "career not found in term")
		}
		grant.CareerID = &value
	case models.GrantCategory:
		category := strings.ToUpper(value)
		if category != models.CategoryStart {
			return nil, appErrors.Clone(appErrors.ErrValidation, "only the INICIO category can be granted")
		}
		grant.Category = &category
	}

	if err := s.repo.Create(ctx, grant); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grant already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grant")
	}
	s.invalidateUser(ctx, grant.UserID)
	s.logger.Info("permission granted", zap.String("user_id", grant.UserID), zap.String("kind", string(grant.Kind)), zap.String("target", grant.Target()))
	return grant, nil
}

// Revoke deactivates a grant. The row is kept for auditing.
func (s *PermissionService) Revoke(ctx context.Context, kind models.GrantKind, id, userID string) error {
	kind = models.GrantKind(strings.ToUpper(string(kind)))
	switch kind {
	case models.GrantSubject, models.GrantCareer, models.GrantCategory:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown grant kind")
	}
	if err := s.repo.Deactivate(ctx, kind, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "active grant not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke grant")
	}
	if userID != "" {
		s.invalidateUser(ctx, userID)
	} else {
		_ = s.cache.Invalidate(ctx, visibleCachePattern)
	}
	return nil
}

// Check answers whether a user can see a subject in a term and through which grants.
func (s *PermissionService) Check(ctx context.Context, userID, termID, subject string) (*models.PermissionCheck, error) {
	if userID == "" || termID == "" || strings.TrimSpace(subject) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user_id, bimestre_id and subject are required")
	}
	set, err := s.repo.LoadSet(ctx, userID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grants")
	}

	key := models.NormalizeSubject(subject)
	result := &models.PermissionCheck{UserID: userID, TermID: termID, Subject: key, Visible: set.Visible(key)}
	reaches := []struct {
		kind  models.GrantKind
		reach map[string]struct{}
	}{
		{models.GrantSubject, set.Subjects},
		{models.GrantCareer, set.CareerSubjects},
		{models.GrantCategory, set.CategorySubjects},
	}
	for _, r := range reaches {
		if _, ok := r.reach[key]; ok {
			result.Via = append(result.Via, r.kind)
		}
	}
	return result, nil
}

func (s *PermissionService) invalidateUser(ctx context.Context, userID string) {
	_ = s.cache.Invalidate(ctx, visibleCacheUserPattern(userID))
}
