package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/bimestre-scheduler-api/pkg/errors"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/export"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/response"
)

type schedulingService interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Event, error)
	Create(ctx context.Context, req service.CreateEventRequest, userID string) (*models.Event, error)
	Update(ctx context.Context, id string, req service.UpdateEventRequest) (*models.Event, error)
	Delete(ctx context.Context, id string) error
	NextSequenceNumber(ctx context.Context, subject, termID string) (int, error)
	Export(ctx context.Context, termID string, format export.Format) ([]byte, string, error)
}

type visibleEventService interface {
	ListVisible(ctx context.Context, filter models.VisibleEventFilter) ([]models.Event, *models.Pagination, error)
}

// ScheduleHandler manages event endpoints.
type ScheduleHandler struct {
	service schedulingService
	visible visibleEventService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc schedulingService, visible visibleEventService) *ScheduleHandler {
	return &ScheduleHandler{service: svc, visible: visible}
}

// List godoc
// @Summary List events
// @Tags Schedules
// @Produce json
// @Param bimestre_id query string false "Filter by term"
// @Param start_date query string false "Range start (overlap)"
// @Param end_date query string false "Range end (overlap)"
// @Param teacher_id query string false "Filter by instructor"
// @Param active query bool false "Filter by active flag"
// @Param room query string false "Filter by room"
// @Param subject query string false "Filter by subject"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	start, err := queryTime(c, "start_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	end, err := queryTime(c, "end_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	active, err := queryBool(c, "active")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.EventFilter{
		TermID:       c.Query("bimestre_id"),
		StartDate:    start,
		EndDate:      end,
		InstructorID: c.Query("teacher_id"),
		Active:       active,
		Room:         c.Query("room"),
		SubjectCode:  c.Query("subject"),
	}
	filter.Page, filter.PageSize = queryPage(c)

	events, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// ListVisible godoc
// @Summary List events visible to the caller
// @Description Events whose subject the caller reaches through a subject, career or INICIO grant in the term.
// @Tags Schedules
// @Produce json
// @Param bimestre_id query string false "Term, defaults to the current term"
// @Param start_date query string false "Range start (overlap)"
// @Param end_date query string false "Range end (overlap)"
// @Param active query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedules/visible [get]
func (h *ScheduleHandler) ListVisible(c *gin.Context) {
	userID := userIDFromContext(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	start, err := queryTime(c, "start_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	end, err := queryTime(c, "end_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	active, err := queryBool(c, "active")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.VisibleEventFilter{
		UserID:    userID,
		TermID:    c.Query("bimestre_id"),
		StartDate: start,
		EndDate:   end,
		Active:    active,
	}
	filter.Page, filter.PageSize = queryPage(c)

	events, pagination, err := h.visible.ListVisible(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// Get godoc
// @Summary Get event
// @Tags Schedules
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Create godoc
// @Summary Create event
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateEventRequest true "Event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.service.Create(c.Request.Context(), req, userIDFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Update godoc
// @Summary Update event
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param payload body service.UpdateEventRequest true "Event payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req service.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	event, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Delete godoc
// @Summary Delete event
// @Tags Schedules
// @Produce json
// @Param id path string true "Event ID"
// @Success 204
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// NextSequence godoc
// @Summary Next sequence number for a subject
// @Description Not reserved; concurrent callers may receive the same number.
// @Tags Schedules
// @Produce json
// @Param subject query string true "Subject code"
// @Param bimestre_id query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/next-sequence [get]
func (h *ScheduleHandler) NextSequence(c *gin.Context) {
	subject := c.Query("subject")
	termID := c.Query("bimestre_id")
	next, err := h.service.NextSequenceNumber(c.Request.Context(), subject, termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"subject": subject, "bimestre_id": termID, "next_sequence": next}, nil)
}

// Export godoc
// @Summary Export term events
// @Tags Schedules
// @Produce text/csv
// @Produce application/pdf
// @Param bimestre_id query string true "Term ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /schedules/export [get]
func (h *ScheduleHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatCSV)))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export format"))
		return
	}
	payload, filename, err := h.service.Export(c.Request.Context(), c.Query("bimestre_id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, format.ContentType(), payload)
}
