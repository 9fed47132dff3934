package dto

import "github.com/noah-isme/exam-scheduler-api/internal/models"

// RunBatchRequest starts a scheduling batch over a semester scope.
type RunBatchRequest struct {
	SemesterID string   `json:"semester_id" validate:"required"`
	ProgramID  *string  `json:"program_id,omitempty" validate:"omitempty,min=1"`
	UnitIDs    []string `json:"unit_ids,omitempty" validate:"omitempty,dive,required"`
	DateOrder  string   `json:"date_order,omitempty" validate:"omitempty,oneof=earliest spread"`
	ActorID    string   `json:"-"`
}

// ParallelRunRequest fans a run out over program scopes that share nothing.
type ParallelRunRequest struct {
	SemesterID string   `json:"semester_id" validate:"required"`
	ProgramIDs []string `json:"program_ids" validate:"required,min=2,unique,dive,required"`
	DateOrder  string   `json:"date_order,omitempty" validate:"omitempty,oneof=earliest spread"`
	ActorID    string   `json:"-"`
}

// RetryFailuresRequest re-attempts pending failures against current reference data.
type RetryFailuresRequest struct {
	FailureIDs []string `json:"failure_ids" validate:"required,min=1,max=500,unique,dive,required"`
	Notes      *string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ActorID    string   `json:"-"`
}

// RescheduleRequest re-places one active assignment.
type RescheduleRequest struct {
	AssignmentID       string  `json:"-" validate:"required"`
	ExcludeCurrentSlot bool    `json:"exclude_current_slot"`
	Notes              *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ActorID            string  `json:"-"`
}

// TriageRequest carries the optional notes of a resolve, ignore or revert action.
type TriageRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// BatchListQuery binds batch listing filters.
type BatchListQuery struct {
	SemesterID string `form:"semester_id"`
	ProgramID  string `form:"program_id"`
	Status     string `form:"status" validate:"omitempty,oneof=QUEUED RUNNING COMPLETED CANCELLED ABORTED"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// AssignmentListQuery binds timetable listing filters.
type AssignmentListQuery struct {
	SemesterID        string `form:"semester_id"`
	ProgramID         string `form:"program_id"`
	BatchID           string `form:"batch_id"`
	UnitID            string `form:"unit_id"`
	IncludeSuperseded bool   `form:"include_superseded"`
	Page              int    `form:"page" validate:"omitempty,min=1"`
	PageSize          int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// FailureListQuery binds failure listing filters.
type FailureListQuery struct {
	Status     string `form:"status" validate:"omitempty,oneof=pending resolved retried ignored"`
	SemesterID string `form:"semester_id"`
	ProgramID  string `form:"program_id"`
	BatchID    string `form:"batch_id"`
	Reason     string `form:"reason" validate:"omitempty,oneof=NO_VENUE_CAPACITY STUDENT_CONFLICT LECTURER_CONFLICT SLOTS_EXHAUSTED INVALID_REFERENCE"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// BatchResult is the outcome of one finished batch.
type BatchResult struct {
	Batch       models.SchedulingBatch     `json:"batch"`
	Assignments []models.ExamAssignment    `json:"assignments"`
	Failures    []models.SchedulingFailure `json:"failures"`
}

// ParallelRunResult groups the batches of a fan-out run, ordered by program id.
type ParallelRunResult struct {
	Batches []BatchResult `json:"batches"`
}

// FailureDetail is a failure with its decoded payloads and audit trail.
type FailureDetail struct {
	Failure  models.SchedulingFailure `json:"failure"`
	Details  *models.ConflictDetails  `json:"details,omitempty"`
	Snapshot models.SessionSnapshot   `json:"snapshot"`
	Events   []models.FailureEvent    `json:"events"`
}

// TransitionResult reports the failure after a triage action. Changed is false when the
// failure was already in the requested state.
type TransitionResult struct {
	Failure models.SchedulingFailure `json:"failure"`
	Changed bool                     `json:"changed"`
}
