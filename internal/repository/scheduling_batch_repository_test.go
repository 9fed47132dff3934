package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

func TestSchedulingBatchRepositoryLifecycle(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduling_batches")).WillReturnResult(sqlmock.NewResult(1, 1))
	batch := &models.SchedulingBatch{SemesterID: "sem-1", StartedBy: "admin-1"}
	require.NoError(t, repo.Create(context.Background(), nil, batch))
	assert.NotEmpty(t, batch.ID)
	assert.Equal(t, models.SchedulingBatchStatusRunning, batch.Status)
	assert.Equal(t, models.SchedulingBatchKindRun, batch.Kind)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_batches SET status")).WillReturnResult(sqlmock.NewResult(0, 1))
	batch.Status = models.SchedulingBatchStatusCompleted
	batch.Placed = 3
	require.NoError(t, repo.Finish(context.Background(), nil, batch))
	require.NotNil(t, batch.FinishedAt)

	require.Error(t, repo.Create(context.Background(), nil, &models.SchedulingBatch{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingBatchRepositoryMarkRunningRequiresQueued(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_batches SET status = $1, started_at = $2")).
		WithArgs(models.SchedulingBatchStatusRunning, sqlmock.AnyArg(), "batch-1", models.SchedulingBatchStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkRunning(context.Background(), "batch-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingBatchRepositoryAbortInterrupted(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingBatchRepository(db)

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_batches SET status = $1, error = $2, finished_at = $3")).
		WithArgs(models.SchedulingBatchStatusAborted, "interrupted by restart", at,
			models.SchedulingBatchStatusQueued, models.SchedulingBatchStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := repo.AbortInterrupted(context.Background(), "interrupted by restart", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingBatchRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingBatchRepository(db)

	now := time.Now()
	columns := []string{"id", "semester_id", "program_id", "kind", "status", "requested_count", "placed_count", "failed_count",
		"skipped_count", "error", "policy", "started_by", "started_at", "finished_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, semester_id, program_id, kind, status")).
		WithArgs("sem-1", models.SchedulingBatchStatusCompleted).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("batch-1", "sem-1", nil, "RUN", "COMPLETED", 4, 3, 1, 0, nil, `{"date_order":"earliest"}`, "admin-1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scheduling_batches")).
		WithArgs("sem-1", models.SchedulingBatchStatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	batches, total, err := repo.List(context.Background(), models.BatchFilter{SemesterID: "sem-1", Status: models.SchedulingBatchStatusCompleted})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 3, batches[0].Placed)
	require.NoError(t, mock.ExpectationsWereMet())
}
