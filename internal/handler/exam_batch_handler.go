package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-scheduler-api/internal/dto"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/response"
)

type examBatchRunner interface {
	Run(ctx context.Context, req dto.RunBatchRequest) (*dto.BatchResult, error)
	Enqueue(ctx context.Context, req dto.RunBatchRequest) (*models.SchedulingBatch, error)
	RunParallel(ctx context.Context, req dto.ParallelRunRequest) (*dto.ParallelRunResult, error)
	Cancel(ctx context.Context, batchID, actorID string) (*models.SchedulingBatch, error)
	Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.BatchResult, error)
	GetBatch(ctx context.Context, id string) (*models.SchedulingBatch, error)
	ListBatches(ctx context.Context, query dto.BatchListQuery) ([]models.SchedulingBatch, *models.Pagination, error)
	ListAssignments(ctx context.Context, query dto.AssignmentListQuery) ([]models.ExamAssignment, *models.Pagination, error)
}

// ExamBatchHandler exposes scheduling batch and timetable endpoints.
type ExamBatchHandler struct {
	service examBatchRunner
}

// NewExamBatchHandler constructs the handler.
func NewExamBatchHandler(svc *service.ExamBatchService) *ExamBatchHandler {
	return &ExamBatchHandler{service: svc}
}

// Create godoc
// @Summary Run a scheduling batch
// @Description Places every unscheduled exam session of the semester scope. With async=true the batch is queued and 202 is returned immediately.
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param async query bool false "Queue the batch instead of running it inline"
// @Param payload body dto.RunBatchRequest true "Batch scope"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /exam-schedule/batches [post]
func (h *ExamBatchHandler) Create(c *gin.Context) {
	var req dto.RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	req.ActorID = actorID(c)

	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async {
		batch, err := h.service.Enqueue(c.Request.Context(), req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Batch(c, http.StatusAccepted, batch, *batch)
		return
	}

	result, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, http.StatusCreated, result, result.Batch)
}

// RunParallel godoc
// @Summary Run disjoint program scopes concurrently
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param payload body dto.ParallelRunRequest true "Program scopes"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /exam-schedule/batches/parallel [post]
func (h *ExamBatchHandler) RunParallel(c *gin.Context) {
	var req dto.ParallelRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid parallel batch payload"))
		return
	}
	req.ActorID = actorID(c)
	result, err := h.service.RunParallel(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	batches := make([]models.SchedulingBatch, 0, len(result.Batches))
	for _, r := range result.Batches {
		batches = append(batches, r.Batch)
	}
	response.Batch(c, http.StatusCreated, result, batches...)
}

// List godoc
// @Summary List scheduling batches
// @Tags ExamScheduler
// @Produce json
// @Param semester_id query string false "Semester"
// @Param program_id query string false "Program"
// @Param status query string false "Batch status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exam-schedule/batches [get]
func (h *ExamBatchHandler) List(c *gin.Context) {
	var query dto.BatchListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	batches, pagination, err := h.service.ListBatches(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// Get godoc
// @Summary Get a scheduling batch
// @Tags ExamScheduler
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exam-schedule/batches/{id} [get]
func (h *ExamBatchHandler) Get(c *gin.Context) {
	batch, err := h.service.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Cancel godoc
// @Summary Cancel a queued or running batch
// @Description Running batches stop before their next session; work already committed to the batch is kept.
// @Tags ExamScheduler
// @Produce json
// @Param id path string true "Batch ID"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/batches/{id}/cancel [post]
func (h *ExamBatchHandler) Cancel(c *gin.Context) {
	batch, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, http.StatusAccepted, batch, *batch)
}

// ListAssignments godoc
// @Summary List timetable entries
// @Tags ExamScheduler
// @Produce json
// @Param semester_id query string false "Semester"
// @Param program_id query string false "Program"
// @Param batch_id query string false "Batch"
// @Param unit_id query string false "Unit"
// @Param include_superseded query bool false "Include replaced entries"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exam-schedule/assignments [get]
func (h *ExamBatchHandler) ListAssignments(c *gin.Context) {
	var query dto.AssignmentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	assignments, pagination, err := h.service.ListAssignments(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, pagination)
}

// Reschedule godoc
// @Summary Move one timetable entry
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.RescheduleRequest false "Reschedule options"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/assignments/{id}/reschedule [post]
func (h *ExamBatchHandler) Reschedule(c *gin.Context) {
	var req dto.RescheduleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reschedule payload"))
			return
		}
	}
	req.AssignmentID = c.Param("id")
	req.ActorID = actorID(c)
	result, err := h.service.Reschedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, http.StatusCreated, result, result.Batch)
}
