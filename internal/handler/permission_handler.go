package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/response"
)

type permissionService interface {
	List(ctx context.Context, userID, termID string) ([]models.PermissionGrant, error)
	Grant(ctx context.Context, req service.GrantRequest) (*models.PermissionGrant, error)
	Revoke(ctx context.Context, kind models.GrantKind, id, userID string) error
	Check(ctx context.Context, userID, termID, subject string) (*models.PermissionCheck, error)
}

// PermissionHandler administers visibility grants.
type PermissionHandler struct {
	service permissionService
}

// NewPermissionHandler constructs handler.
func NewPermissionHandler(svc permissionService) *PermissionHandler {
	return &PermissionHandler{service: svc}
}

// List godoc
// @Summary List a user's grants
// @Tags Permissions
// @Produce json
// @Param user_id query string true "User ID"
// @Param bimestre_id query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /permissions [get]
func (h *PermissionHandler) List(c *gin.Context) {
	grants, err := h.service.List(c.Request.Context(), c.Query("user_id"), c.Query("bimestre_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grants, nil)
}

// Grant godoc
// @Summary Grant visibility
// @Tags Permissions
// @Accept json
// @Produce json
// @Param payload body service.GrantRequest true "Grant payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /permissions [post]
func (h *PermissionHandler) Grant(c *gin.Context) {
	var req service.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	grant, err := h.service.Grant(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grant)
}

// Revoke godoc
// @Summary Revoke a grant
// @Tags Permissions
// @Produce json
// @Param kind path string true "SUBJECT, CAREER or CATEGORY"
// @Param id path string true "Grant ID"
// @Param user_id query string true "Owner of the grant"
// @Success 204
// @Router /permissions/{kind}/{id} [delete]
func (h *PermissionHandler) Revoke(c *gin.Context) {
	kind := models.GrantKind(strings.ToUpper(c.Param("kind")))
	if err := h.service.Revoke(c.Request.Context(), kind, c.Param("id"), c.Query("user_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Check godoc
// @Summary Check whether a user sees a subject
// @Tags Permissions
// @Produce json
// @Param user_id query string false "User ID, defaults to the caller; admins only for other users"
// @Param bimestre_id query string true "Term ID"
// @Param subject query string true "Subject code"
// @Success 200 {object} response.Envelope
// @Router /permissions/check [get]
func (h *PermissionHandler) Check(c *gin.Context) {
	userID := c.Query("user_id")
	claims := claimsFromContext(c)
	if claims != nil && userID != "" && userID != claims.UserID && claims.Role != models.RoleAdmin {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only admins can check other users"))
		return
	}
	if userID == "" {
		userID = userIDFromContext(c)
	}
	result, err := h.service.Check(c.Request.Context(), userID, c.Query("bimestre_id"), c.Query("subject"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
