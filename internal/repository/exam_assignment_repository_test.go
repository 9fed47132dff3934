package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

var assignmentRowColumns = []string{"id", "semester_id", "program_id", "batch_id", "session_key", "unit_id", "class_ids", "lecturer_id", "student_ids",
	"student_count", "exam_date", "slot_number", "start_time", "end_time", "cells", "snapshot", "superseded_by", "superseded_at", "created_at"}

func TestExamAssignmentRepositoryCreateBatchAndSupersede(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExamAssignmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exam_assignments")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exam_assignments SET superseded_by")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "asg-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	assignments := []models.ExamAssignment{{
		SemesterID: "sem-1",
		BatchID:    "batch-1",
		SessionKey: "unit-1|lect-1|class-a",
		UnitID:     "unit-1",
		ClassIDs:   pq.StringArray{"class-a"},
		LecturerID: "lect-1",
		StudentIDs: pq.StringArray{"s1", "s2"},
		ExamDate:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		SlotNumber: 1,
	}}
	require.NoError(t, repo.CreateBatch(context.Background(), tx, assignments))
	assert.NotEmpty(t, assignments[0].ID)
	assert.Equal(t, types.JSONText(`[]`), assignments[0].Cells)

	require.NoError(t, repo.Supersede(context.Background(), tx, "asg-old", assignments[0].ID))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamAssignmentRepositorySupersedeMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExamAssignmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE exam_assignments SET superseded_by")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Supersede(context.Background(), nil, "gone", "new")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExamAssignmentRepositoryListActiveAndFiltered(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExamAssignmentRepository(db)

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(assignmentRowColumns).
			AddRow("asg-1", "sem-1", nil, "batch-1", "unit-1|lect-1|class-a", "unit-1", "{class-a}", "lect-1", "{s1,s2}",
				2, day, 1, "08:00", "10:00", `[{"venue_id":"hall","date":"2025-06-02","slot_number":1,"capacity":50,"seats":2}]`, `{}`, nil, nil, day)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, semester_id")).WithArgs("sem-1").WillReturnRows(row())
	active, err := repo.ListActiveBySemester(context.Background(), "sem-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, pq.StringArray{"s1", "s2"}, active[0].StudentIDs)
	assert.True(t, active[0].Active())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, semester_id")).WithArgs("sem-1", "batch-1").WillReturnRows(row())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM exam_assignments")).
		WithArgs("sem-1", "batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	list, total, err := repo.List(context.Background(), models.AssignmentFilter{SemesterID: "sem-1", BatchID: "batch-1", PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
