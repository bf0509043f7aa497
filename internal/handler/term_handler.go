package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/response"
)

type termService interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, *models.Pagination, error)
	ListByYear(ctx context.Context, year int) ([]models.Term, error)
	Get(ctx context.Context, id string) (*models.Term, error)
	Current(ctx context.Context) (*models.Term, error)
	Containing(ctx context.Context, at time.Time) (*models.Term, error)
	Create(ctx context.Context, req service.TermRequest) (*models.Term, error)
	Update(ctx context.Context, id string, req service.TermRequest) (*models.Term, error)
	Activate(ctx context.Context, id string) (*models.Term, error)
	Deactivate(ctx context.Context, id string) (*models.Term, error)
	BatchCreate(ctx context.Context, req service.BatchTermRequest) ([]models.Term, error)
}

// TermHandler exposes bimestre endpoints.
type TermHandler struct {
	service termService
}

// NewTermHandler constructs a term handler.
func NewTermHandler(svc termService) *TermHandler {
	return &TermHandler{service: svc}
}

// List godoc
// @Summary List bimestres
// @Tags Bimestres
// @Produce json
// @Param academicYear query int false "Filter by academic year"
// @Param isActive query bool false "Filter by active flag"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bimestres [get]
func (h *TermHandler) List(c *gin.Context) {
	var filter models.TermFilter
	if year := c.Query("academicYear"); year != "" {
		parsed, err := strconv.Atoi(year)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "academicYear must be a number"))
			return
		}
		filter.AcademicYear = parsed
	}
	active, err := queryBool(c, "isActive")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.IsActive = active
	filter.Page, filter.PageSize = queryPage(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	terms, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, pagination)
}

// ListByYear godoc
// @Summary List the bimestres of an academic year
// @Tags Bimestres
// @Produce json
// @Param year path int true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /bimestres/year/{year} [get]
func (h *TermHandler) ListByYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "year must be a number"))
		return
	}
	terms, err := h.service.ListByYear(c.Request.Context(), year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, nil)
}

// Current godoc
// @Summary Get the bimestre covering today
// @Tags Bimestres
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bimestres/current [get]
func (h *TermHandler) Current(c *gin.Context) {
	term, err := h.service.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Containing godoc
// @Summary Get the active bimestre covering a date
// @Tags Bimestres
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD or RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /bimestres/containing [get]
func (h *TermHandler) Containing(c *gin.Context) {
	at, err := queryTime(c, "date")
	if err != nil {
		response.Error(c, err)
		return
	}
	if at == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required"))
		return
	}
	term, err := h.service.Containing(c.Request.Context(), *at)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Get godoc
// @Summary Get bimestre
// @Tags Bimestres
// @Produce json
// @Param id path string true "Bimestre ID"
// @Success 200 {object} response.Envelope
// @Router /bimestres/{id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Create godoc
// @Summary Create bimestre
// @Tags Bimestres
// @Accept json
// @Produce json
// @Param payload body service.TermRequest true "Bimestre payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bimestres [post]
func (h *TermHandler) Create(c *gin.Context) {
	var req service.TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	term, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Update godoc
// @Summary Update bimestre
// @Tags Bimestres
// @Accept json
// @Produce json
// @Param id path string true "Bimestre ID"
// @Param payload body service.TermRequest true "Bimestre payload"
// @Success 200 {object} response.Envelope
// @Router /bimestres/{id} [put]
func (h *TermHandler) Update(c *gin.Context) {
	var req service.TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	term, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Activate godoc
// @Summary Activate bimestre
// @Tags Bimestres
// @Produce json
// @Param id path string true "Bimestre ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bimestres/{id}/activate [post]
func (h *TermHandler) Activate(c *gin.Context) {
	term, err := h.service.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Deactivate godoc
// @Summary Deactivate bimestre
// @Tags Bimestres
// @Produce json
// @Param id path string true "Bimestre ID"
// @Success 200 {object} response.Envelope
// @Router /bimestres/{id}/deactivate [post]
func (h *TermHandler) Deactivate(c *gin.Context) {
	term, err := h.service.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Batch godoc
// @Summary Create the five bimestres of a year
// @Tags Bimestres
// @Accept json
// @Produce json
// @Param payload body service.BatchTermRequest true "Five bimestres of one academic year"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bimestres/batch [post]
func (h *TermHandler) Batch(c *gin.Context) {
	var req service.BatchTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	terms, err := h.service.BatchCreate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, terms)
}
