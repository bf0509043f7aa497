package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/middleware"
	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
)

type permissionServiceMock struct {
	revokedKind models.GrantKind
	checkedUser string
}

func (m *permissionServiceMock) List(ctx context.Context, userID, termID string) ([]models.PermissionGrant, error) {
	if userID == "" || termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user_id and bimestre_id are required")
	}
	return []models.PermissionGrant{}, nil
}

func (m *permissionServiceMock) Grant(ctx context.Context, req service.GrantRequest) (*models.PermissionGrant, error) {
	if req.Kind == models.GrantCategory && req.Value != models.CategoryStart {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only the INICIO category can be granted")
	}
	return &models.PermissionGrant{ID: "g1", Kind: req.Kind, UserID: req.UserID, TermID: req.TermID}, nil
}

func (m *permissionServiceMock) Revoke(ctx context.Context, kind models.GrantKind, id, userID string) error {
	m.revokedKind = kind
	return nil
}

func (m *permissionServiceMock) Check(ctx context.Context, userID, termID, subject string) (*models.PermissionCheck, error) {
	m.checkedUser = userID
	return &models.PermissionCheck{UserID: userID, TermID: termID, Subject: subject, Visible: true, Via: []models.GrantKind{models.GrantCareer}}, nil
}

func TestPermissionHandlerGrant(t *testing.T) {
	handler := NewPermissionHandler(&permissionServiceMock{})

	c, w := newGinContext(http.MethodPost, "/permissions", []byte(`{"user_id":"u1","bimestre_id":"t1","kind":"CATEGORY","value":"INICIO"}`))
	handler.Grant(c)
	require.Equal(t, http.StatusCreated, w.Code)

	c, w = newGinContext(http.MethodPost, "/permissions", []byte(`{"user_id":"u1","bimestre_id":"t1","kind":"CATEGORY","value":"AVANZADO"}`))
	handler.Grant(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPermissionHandlerListRequiresUser(t *testing.T) {
	handler := NewPermissionHandler(&permissionServiceMock{})

	c, w := newGinContext(http.MethodGet, "/permissions?bimestre_id=t1", nil)
	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPermissionHandlerRevokeAndCheck(t *testing.T) {
	svc := &permissionServiceMock{}
	handler := NewPermissionHandler(svc)

	c, _ := newGinContext(http.MethodDelete, "/permissions/career/g1?user_id=u1", nil)
	c.Params = gin.Params{{Key: "kind", Value: "career"}, {Key: "id", Value: "g1"}}
	handler.Revoke(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, models.GrantCareer, svc.revokedKind)

	c, w := newGinContext(http.MethodGet, "/permissions/check?bimestre_id=t1&subject=MAT101", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "viewer-1", Role: models.RoleViewer})
	handler.Check(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "viewer-1", svc.checkedUser)
	assert.Contains(t, w.Body.String(), `"via":["CAREER"]`)

	c, w = newGinContext(http.MethodGet, "/permissions/check?user_id=u2&bimestre_id=t1&subject=MAT101", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "viewer-1", Role: models.RoleViewer})
	handler.Check(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
