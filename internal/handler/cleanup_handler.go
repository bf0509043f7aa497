package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/response"
)

type cleanupService interface {
	ExecuteCleanup(ctx context.Context, params models.CleanupParams, trigger string) (*models.CleanupExecutionLog, error)
	IdentifyCandidates(ctx context.Context, months int) ([]models.CleanupCandidate, error)
	History(ctx context.Context) ([]models.CleanupHistoryItem, error)
	Details(ctx context.Context, executionID string) (*models.CleanupExecutionLog, error)
}

// CleanupHandler exposes term cleanup administration.
type CleanupHandler struct {
	service cleanupService
}

// NewCleanupHandler constructs handler.
func NewCleanupHandler(svc cleanupService) *CleanupHandler {
	return &CleanupHandler{service: svc}
}

// Execute godoc
// @Summary Run a term cleanup now
// @Description Deletes up to maxBimestresPerExecution inactive bimestres older than monthsThreshold. PARTIAL runs still return 200.
// @Tags Cleanup
// @Accept json
// @Produce json
// @Param payload body service.CleanupRequest false "Cleanup parameters"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /bimestres/cleanup [post]
func (h *CleanupHandler) Execute(c *gin.Context) {
	var req service.CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	entry, err := h.service.ExecuteCleanup(c.Request.Context(), req.Params(), models.CleanupTriggerManual)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Candidates godoc
// @Summary List terms eligible for cleanup
// @Tags Cleanup
// @Produce json
// @Param monthsThreshold query int false "Months since the term ended (default 24)"
// @Success 200 {object} response.Envelope
// @Router /bimestres/cleanup/candidates [get]
func (h *CleanupHandler) Candidates(c *gin.Context) {
	months := 0
	if raw := c.Query("monthsThreshold"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "monthsThreshold must be a number"))
			return
		}
		months = parsed
	}
	candidates, err := h.service.IdentifyCandidates(c.Request.Context(), months)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, nil, map[string]interface{}{"total": len(candidates)})
}

// History godoc
// @Summary Recent cleanup executions
// @Tags Cleanup
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /bimestres/cleanup/history [get]
func (h *CleanupHandler) History(c *gin.Context) {
	items, err := h.service.History(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Details godoc
// @Summary Full log of one cleanup execution
// @Tags Cleanup
// @Produce json
// @Param executionId path string true "Execution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bimestres/cleanup/details/{executionId} [get]
func (h *CleanupHandler) Details(c *gin.Context) {
	entry, err := h.service.Details(c.Request.Context(), c.Param("executionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
