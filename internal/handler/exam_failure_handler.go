package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-scheduler-api/internal/dto"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/service"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/response"
)

type failureTriage interface {
	List(ctx context.Context, query dto.FailureListQuery) ([]models.SchedulingFailure, *models.Pagination, error)
	Get(ctx context.Context, id string) (*dto.FailureDetail, error)
	Resolve(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error)
	Ignore(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error)
	Revert(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error)
	Delete(ctx context.Context, id, actorID string) error
}

type failureRetrier interface {
	Retry(ctx context.Context, req dto.RetryFailuresRequest) (*dto.BatchResult, error)
}

// ExamFailureHandler exposes the failure triage endpoints.
type ExamFailureHandler struct {
	triage  failureTriage
	retrier failureRetrier
}

// NewExamFailureHandler constructs the handler.
func NewExamFailureHandler(triage *service.ExamFailureService, batches *service.ExamBatchService) *ExamFailureHandler {
	return &ExamFailureHandler{triage: triage, retrier: batches}
}

// List godoc
// @Summary List scheduling failures
// @Tags ExamScheduler
// @Produce json
// @Param status query string false "pending, resolved, retried or ignored"
// @Param semester_id query string false "Semester"
// @Param program_id query string false "Program"
// @Param batch_id query string false "Batch"
// @Param reason query string false "Reason code"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exam-schedule/failures [get]
func (h *ExamFailureHandler) List(c *gin.Context) {
	var query dto.FailureListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	failures, pagination, err := h.triage.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, failures, pagination)
}

// Get godoc
// @Summary Get a scheduling failure with its history
// @Tags ExamScheduler
// @Produce json
// @Param id path string true "Failure ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exam-schedule/failures/{id} [get]
func (h *ExamFailureHandler) Get(c *gin.Context) {
	detail, err := h.triage.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Retry godoc
// @Summary Retry pending failures as a new batch
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param payload body dto.RetryFailuresRequest true "Failures to retry"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/failures/retry [post]
func (h *ExamFailureHandler) Retry(c *gin.Context) {
	var req dto.RetryFailuresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid retry payload"))
		return
	}
	req.ActorID = actorID(c)
	result, err := h.retrier.Retry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, http.StatusCreated, result, result.Batch)
}

// Resolve godoc
// @Summary Mark a failure resolved
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param id path string true "Failure ID"
// @Param payload body dto.TriageRequest false "Notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/failures/{id}/resolve [post]
func (h *ExamFailureHandler) Resolve(c *gin.Context) {
	h.transition(c, h.triage.Resolve)
}

// Ignore godoc
// @Summary Mark a failure ignored
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param id path string true "Failure ID"
// @Param payload body dto.TriageRequest false "Notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/failures/{id}/ignore [post]
func (h *ExamFailureHandler) Ignore(c *gin.Context) {
	h.transition(c, h.triage.Ignore)
}

// Revert godoc
// @Summary Return a resolved or ignored failure to pending
// @Tags ExamScheduler
// @Accept json
// @Produce json
// @Param id path string true "Failure ID"
// @Param payload body dto.TriageRequest false "Notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam-schedule/failures/{id}/revert [post]
func (h *ExamFailureHandler) Revert(c *gin.Context) {
	h.transition(c, h.triage.Revert)
}

// Delete godoc
// @Summary Permanently delete a failure
// @Tags ExamScheduler
// @Param id path string true "Failure ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /exam-schedule/failures/{id} [delete]
func (h *ExamFailureHandler) Delete(c *gin.Context) {
	if err := h.triage.Delete(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type transitionFunc func(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error)

func (h *ExamFailureHandler) transition(c *gin.Context, apply transitionFunc) {
	var req dto.TriageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid triage payload"))
			return
		}
	}
	result, err := apply(c.Request.Context(), c.Param("id"), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
