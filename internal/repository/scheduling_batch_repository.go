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

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

const batchColumns = `id, semester_id, program_id, kind, status, requested_count, placed_count, failed_count, skipped_count,
       error, policy, started_by, started_at, finished_at`

// SchedulingBatchRepository stores scheduling batch headers and roll-up counts.
type SchedulingBatchRepository struct {
	db *sqlx.DB
}

// NewSchedulingBatchRepository constructs the repository.
func NewSchedulingBatchRepository(db *sqlx.DB) *SchedulingBatchRepository {
	return &SchedulingBatchRepository{db: db}
}

func (r *SchedulingBatchRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new batch header.
func (r *SchedulingBatchRepository) Create(ctx context.Context, exec sqlx.ExtContext, batch *models.SchedulingBatch) error {
	if batch == nil {
		return fmt.Errorf("batch payload is nil")
	}
	if batch.SemesterID == "" {
		return fmt.Errorf("semester_id is required")
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.SchedulingBatchStatusRunning
	}
	if batch.Kind == "" {
		batch.Kind = models.SchedulingBatchKindRun
	}
	if len(batch.Policy) == 0 {
		batch.Policy = types.JSONText(`{}`)
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO scheduling_batches
	(id, semester_id, program_id, kind, status, requested_count, placed_count, failed_count, skipped_count, error, policy, started_by, started_at, finished_at)
	VALUES (:id, :semester_id, :program_id, :kind, :status, :requested_count, :placed_count, :failed_count, :skipped_count, :error, :policy, :started_by, :started_at, :finished_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, batch); err != nil {
		return fmt.Errorf("insert scheduling batch: %w", err)
	}
	return nil
}

// MarkRunning moves a queued batch to RUNNING.
func (r *SchedulingBatchRepository) MarkRunning(ctx context.Context, id string) error {
	const query = `UPDATE scheduling_batches SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, models.SchedulingBatchStatusRunning, time.Now().UTC(), id, models.SchedulingBatchStatusQueued)
	if err != nil {
		return fmt.Errorf("mark scheduling batch running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("scheduling batch rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AbortInterrupted closes every batch still QUEUED or RUNNING as ABORTED. A queued job
// lives only in the worker pool's memory, so after a restart nothing will pick these up.
func (r *SchedulingBatchRepository) AbortInterrupted(ctx context.Context, reason string, at time.Time) (int64, error) {
	const query = `UPDATE scheduling_batches SET status = $1, error = $2, finished_at = $3
	WHERE status IN ($4, $5)`
	result, err := r.db.ExecContext(ctx, query, models.SchedulingBatchStatusAborted, reason, at,
		models.SchedulingBatchStatusQueued, models.SchedulingBatchStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("abort interrupted scheduling batches: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("scheduling batch rows affected: %w", err)
	}
	return affected, nil
}

// Finish writes the terminal status and roll-up counts.
func (r *SchedulingBatchRepository) Finish(ctx context.Context, exec sqlx.ExtContext, batch *models.SchedulingBatch) error {
	if batch.FinishedAt == nil {
		now := time.Now().UTC()
		batch.FinishedAt = &now
	}
	const query = `UPDATE scheduling_batches SET status = :status, requested_count = :requested_count, placed_count = :placed_count,
	failed_count = :failed_count, skipped_count = :skipped_count, error = :error, finished_at = :finished_at
	WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, batch)
	if err != nil {
		return fmt.Errorf("finish scheduling batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("scheduling batch rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID loads a batch header.
func (r *SchedulingBatchRepository) FindByID(ctx context.Context, id string) (*models.SchedulingBatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduling_batches WHERE id = $1`, batchColumns)
	var batch models.SchedulingBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches newest first.
func (r *SchedulingBatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.SchedulingBatch, int, error) {
	args := make([]interface{}, 0, 3)
	conditions := []string{"1=1"}
	if filter.SemesterID != "" {
		args = append(args, filter.SemesterID)
		conditions = append(conditions, fmt.Sprintf("semester_id = $%d", len(args)))
	}
	if filter.ProgramID != "" {
		args = append(args, filter.ProgramID)
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	size, offset := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf(`SELECT %s FROM scheduling_batches%s ORDER BY started_at DESC, id LIMIT %d OFFSET %d`, batchColumns, where, size, offset)
	var batches []models.SchedulingBatch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scheduling batches: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM scheduling_batches"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count scheduling batches: %w", err)
	}
	return batches, total, nil
}
