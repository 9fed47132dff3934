package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-scheduler-api/internal/dto"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
)

type failureTriageStore interface {
	FindByID(ctx context.Context, id string) (*models.SchedulingFailure, error)
	List(ctx context.Context, filter models.FailureFilter) ([]models.SchedulingFailure, int, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.UpdateFailureStatusParams) error
	Delete(ctx context.Context, id string) error
	InsertEvent(ctx context.Context, exec sqlx.ExtContext, event *models.FailureEvent) error
	ListEvents(ctx context.Context, failureID string) ([]models.FailureEvent, error)
}

// ExamFailureService exposes the triage workflow over recorded scheduling failures.
// Retry goes through ExamBatchService because it schedules.
type ExamFailureService struct {
	repo      failureTriageStore
	tx        txProvider
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewExamFailureService constructs the triage service.
func NewExamFailureService(repo failureTriageStore, tx txProvider, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ExamFailureService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamFailureService{
		repo:      repo,
		tx:        tx,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns failures matching the query, newest first.
func (s *ExamFailureService) List(ctx context.Context, query dto.FailureListQuery) ([]models.SchedulingFailure, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid failure filter")
	}
	failures, total, err := s.repo.List(ctx, models.FailureFilter{
		Status:     models.FailureStatus(query.Status),
		SemesterID: query.SemesterID,
		ProgramID:  query.ProgramID,
		BatchID:    query.BatchID,
		Reason:     models.ReasonCode(query.Reason),
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list failures")
	}
	return failures, models.NewPagination(query.Page, query.PageSize, total), nil
}

// Get returns a failure with decoded details and its audit trail.
func (s *ExamFailureService) Get(ctx context.Context, id string) (*dto.FailureDetail, error) {
	failure, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &dto.FailureDetail{Failure: *failure, Events: []models.FailureEvent{}}
	if details, err := failure.ConflictDetails(); err == nil && details.Version > 0 {
		detail.Details = &details
	} else if err != nil {
		s.logger.Warn("stored conflict details unreadable", zap.String("failure_id", id), zap.Error(err))
	}
	if snapshot, err := failure.SessionSnapshot(); err == nil {
		detail.Snapshot = snapshot
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load failure history")
	}
	if events != nil {
		detail.Events = events
	}
	return detail, nil
}

// Resolve marks a pending failure as handled outside the scheduler.
func (s *ExamFailureService) Resolve(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	return s.transition(ctx, id, actorID, models.TriageActionResolve, req)
}

// Ignore marks a pending failure as intentionally left unscheduled.
func (s *ExamFailureService) Ignore(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	return s.transition(ctx, id, actorID, models.TriageActionIgnore, req)
}

// Revert moves a resolved or ignored failure back to pending.
func (s *ExamFailureService) Revert(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	return s.transition(ctx, id, actorID, models.TriageActionRevert, req)
}

func (s *ExamFailureService) transition(ctx context.Context, id, actorID string, action models.TriageAction, req dto.TriageRequest) (result *dto.TransitionResult, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid triage payload")
	}
	failure, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	target, changed, err := models.NextStatus(failure.Status, action)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidTransition.Code, appErrors.ErrInvalidTransition.Status, err.Error())
	}
	if !changed {
		return &dto.TransitionResult{Failure: *failure, Changed: false}, nil
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	err = s.repo.UpdateStatus(ctx, tx, repository.UpdateFailureStatusParams{
		ID:      failure.ID,
		From:    failure.Status,
		To:      target,
		ActorID: actorID,
		Notes:   req.Notes,
		At:      now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "failure was changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update failure")
	}
	if err = s.repo.InsertEvent(ctx, tx, &models.FailureEvent{
		FailureID:  failure.ID,
		Action:     action,
		FromStatus: failure.Status,
		ToStatus:   target,
		ActorID:    actorID,
		Notes:      req.Notes,
		CreatedAt:  now,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record failure event")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	s.metrics.RecordTransition(action)
	s.logger.Info("failure triaged",
		zap.String("failure_id", failure.ID),
		zap.String("action", string(action)),
		zap.String("from", string(failure.Status)),
		zap.String("to", string(target)),
		zap.String("actor_id", actorID),
	)

	updated := *failure
	updated.Status = target
	updated.ResolutionNotes = req.Notes
	updated.UpdatedAt = now
	if target == models.FailureStatusPending {
		updated.ResolvedBy = nil
		updated.ResolvedAt = nil
	} else {
		actor := actorID
		updated.ResolvedBy = &actor
		updated.ResolvedAt = &now
	}
	return &dto.TransitionResult{Failure: updated, Changed: true}, nil
}

// Delete removes a failure permanently. It is not a triage transition.
func (s *ExamFailureService) Delete(ctx context.Context, id, actorID string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "failure not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete failure")
	}
	s.logger.Info("failure deleted", zap.String("failure_id", id), zap.String("actor_id", actorID))
	return nil
}

func (s *ExamFailureService) find(ctx context.Context, id string) (*models.SchedulingFailure, error) {
	failure, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "failure not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load failure")
	}
	return failure, nil
}
