package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SchedulingBatchKind distinguishes how a batch was started.
type SchedulingBatchKind string

const (
	SchedulingBatchKindRun        SchedulingBatchKind = "RUN"
	SchedulingBatchKindRetry      SchedulingBatchKind = "RETRY"
	SchedulingBatchKindReschedule SchedulingBatchKind = "RESCHEDULE"
)

// SchedulingBatchStatus is the lifecycle of one orchestrator run.
type SchedulingBatchStatus string

const (
	SchedulingBatchStatusQueued    SchedulingBatchStatus = "QUEUED"
	SchedulingBatchStatusRunning   SchedulingBatchStatus = "RUNNING"
	SchedulingBatchStatusCompleted SchedulingBatchStatus = "COMPLETED"
	SchedulingBatchStatusCancelled SchedulingBatchStatus = "CANCELLED"
	SchedulingBatchStatusAborted   SchedulingBatchStatus = "ABORTED"
)

// Terminal reports whether the batch has finished.
func (s SchedulingBatchStatus) Terminal() bool {
	switch s {
	case SchedulingBatchStatusCompleted, SchedulingBatchStatusCancelled, SchedulingBatchStatusAborted:
		return true
	}
	return false
}

// SchedulingBatch identifies one scheduling run over a semester scope.
type SchedulingBatch struct {
	ID         string                `db:"id" json:"id"`
	SemesterID string                `db:"semester_id" json:"semester_id"`
	ProgramID  *string               `db:"program_id" json:"program_id,omitempty"`
	Kind       SchedulingBatchKind   `db:"kind" json:"kind"`
	Status     SchedulingBatchStatus `db:"status" json:"status"`
	Requested  int                   `db:"requested_count" json:"requested_count"`
	Placed     int                   `db:"placed_count" json:"placed_count"`
	Failed     int                   `db:"failed_count" json:"failed_count"`
	Skipped    int                   `db:"skipped_count" json:"skipped_count"`
	Error      *string               `db:"error" json:"error,omitempty"`
	Policy     types.JSONText        `db:"policy" json:"policy"`
	StartedBy  string                `db:"started_by" json:"started_by"`
	StartedAt  time.Time             `db:"started_at" json:"started_at"`
	FinishedAt *time.Time            `db:"finished_at" json:"finished_at,omitempty"`
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	SemesterID string
	ProgramID  string
	Status     SchedulingBatchStatus
	Page       int
	PageSize   int
}
