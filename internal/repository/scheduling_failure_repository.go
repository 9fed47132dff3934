package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

const failureColumns = `id, batch_id, semester_id, program_id, school_id, session_key, unit_id, lecturer_id, class_ids, snapshot,
       student_count, attempted_date, attempted_start_time, attempted_end_time, attempted_slot_number, attempted_venue_id,
       reason_code, failure_reason, conflict_details, status, resolved_by, resolved_at, resolution_notes, superseded_by,
       created_at, updated_at`

// SchedulingFailureRepository persists unplaced exam sessions and their triage history.
type SchedulingFailureRepository struct {
	db *sqlx.DB
}

// NewSchedulingFailureRepository constructs the repository.
func NewSchedulingFailureRepository(db *sqlx.DB) *SchedulingFailureRepository {
	return &SchedulingFailureRepository{db: db}
}

func (r *SchedulingFailureRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateBatch inserts failures recorded by one batch run.
func (r *SchedulingFailureRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, failures []models.SchedulingFailure) error {
	if len(failures) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()
	const query = `INSERT INTO scheduling_failures
	(id, batch_id, semester_id, program_id, school_id, session_key, unit_id, lecturer_id, class_ids, snapshot, student_count,
	 attempted_date, attempted_start_time, attempted_end_time, attempted_slot_number, attempted_venue_id,
	 reason_code, failure_reason, conflict_details, status, created_at, updated_at)
	VALUES (:id, :batch_id, :semester_id, :program_id, :school_id, :session_key, :unit_id, :lecturer_id, :class_ids, :snapshot, :student_count,
	 :attempted_date, :attempted_start_time, :attempted_end_time, :attempted_slot_number, :attempted_venue_id,
	 :reason_code, :failure_reason, :conflict_details, :status, :created_at, :updated_at)`
	for i := range failures {
		f := &failures[i]
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.Status == "" {
			f.Status = models.FailureStatusPending
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		f.UpdatedAt = f.CreatedAt
		if len(f.Snapshot) == 0 {
			f.Snapshot = types.JSONText(`{}`)
		}
		if len(f.Details) == 0 {
			f.Details = types.JSONText(`{}`)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, f); err != nil {
			return fmt.Errorf("insert scheduling failure %s: %w", f.SessionKey, err)
		}
	}
	return nil
}

// FindByID loads one failure.
func (r *SchedulingFailureRepository) FindByID(ctx context.Context, id string) (*models.SchedulingFailure, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduling_failures WHERE id = $1`, failureColumns)
	var failure models.SchedulingFailure
	if err := r.db.GetContext(ctx, &failure, query, id); err != nil {
		return nil, err
	}
	return &failure, nil
}

// FindByIDs loads the failures with the given ids, ordered by creation.
func (r *SchedulingFailureRepository) FindByIDs(ctx context.Context, ids []string) ([]models.SchedulingFailure, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM scheduling_failures WHERE id = ANY($1) ORDER BY created_at, id`, failureColumns)
	var failures []models.SchedulingFailure
	if err := r.db.SelectContext(ctx, &failures, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find scheduling failures: %w", err)
	}
	return failures, nil
}

// List returns failures matching the filter, newest first, with the total count.
func (r *SchedulingFailureRepository) List(ctx context.Context, filter models.FailureFilter) ([]models.SchedulingFailure, int, error) {
	args := make([]interface{}, 0, 5)
	conditions := []string{"1=1"}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SemesterID != "" {
		args = append(args, filter.SemesterID)
		conditions = append(conditions, fmt.Sprintf("semester_id = $%d", len(args)))
	}
	if filter.ProgramID != "" {
		args = append(args, filter.ProgramID)
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if filter.Reason != "" {
		args = append(args, filter.Reason)
		conditions = append(conditions, fmt.Sprintf("reason_code = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM scheduling_failures%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`, failureColumns, where, size, offset)
	var failures []models.SchedulingFailure
	if err := r.db.SelectContext(ctx, &failures, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scheduling failures: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM scheduling_failures"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count scheduling failures: %w", err)
	}
	return failures, total, nil
}

// UpdateFailureStatusParams groups the columns written by a triage transition.
type UpdateFailureStatusParams struct {
	ID           string
	From         models.FailureStatus
	To           models.FailureStatus
	ActorID      string
	Notes        *string
	SupersededBy *string
	At           time.Time
}

// UpdateStatus applies a transition guarded on the current status. sql.ErrNoRows means
// the row vanished or was changed concurrently.
func (r *SchedulingFailureRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params UpdateFailureStatusParams) error {
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}
	var (
		resolvedBy *string
		resolvedAt *time.Time
	)
	if params.To != models.FailureStatusPending {
		resolvedBy = &params.ActorID
		resolvedAt = &params.At
	}
	const query = `UPDATE scheduling_failures
	SET status = $1, resolved_by = $2, resolved_at = $3, resolution_notes = $4, superseded_by = COALESCE($5, superseded_by), updated_at = $6
	WHERE id = $7 AND status = $8`
	result, err := r.exec(exec).ExecContext(ctx, query,
		params.To, resolvedBy, resolvedAt, params.Notes, params.SupersededBy, params.At, params.ID, params.From)
	if err != nil {
		return fmt.Errorf("update scheduling failure status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("scheduling failure rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a failure and its events permanently.
func (r *SchedulingFailureRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM scheduling_failures WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete scheduling failure: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("scheduling failure rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertEvent appends an audit entry.
func (r *SchedulingFailureRepository) InsertEvent(ctx context.Context, exec sqlx.ExtContext, event *models.FailureEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO scheduling_failure_events (id, failure_id, action, from_status, to_status, actor_id, notes, created_at)
	VALUES (:id, :failure_id, :action, :from_status, :to_status, :actor_id, :notes, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, event); err != nil {
		return fmt.Errorf("insert scheduling failure event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail of a failure, oldest first.
func (r *SchedulingFailureRepository) ListEvents(ctx context.Context, failureID string) ([]models.FailureEvent, error) {
	const query = `SELECT id, failure_id, action, from_status, to_status, actor_id, notes, created_at
FROM scheduling_failure_events WHERE failure_id = $1 ORDER BY created_at, id`
	var events []models.FailureEvent
	if err := r.db.SelectContext(ctx, &events, query, failureID); err != nil {
		return nil, fmt.Errorf("list scheduling failure events: %w", err)
	}
	return events, nil
}
