package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

var failureRowColumns = []string{"id", "batch_id", "semester_id", "program_id", "school_id", "session_key", "unit_id", "lecturer_id", "class_ids", "snapshot",
	"student_count", "attempted_date", "attempted_start_time", "attempted_end_time", "attempted_slot_number", "attempted_venue_id",
	"reason_code", "failure_reason", "conflict_details", "status", "resolved_by", "resolved_at", "resolution_notes", "superseded_by",
	"created_at", "updated_at"}

func failureRows(id string, status models.FailureStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(failureRowColumns).
		AddRow(id, "batch-1", "sem-1", nil, nil, "unit-1|lect-1|class-a", "unit-1", "lect-1", "{class-a}", `{"unit_code":"CS101"}`,
			40, nil, nil, nil, nil, nil,
			"NO_VENUE_CAPACITY", "no venue can seat 40 students (largest capacity 30)",
			`{"version":1,"reason":"NO_VENUE_CAPACITY","capacity":{"required_seats":40,"largest_capacity":30,"max_venues":1}}`,
			string(status), nil, nil, nil, nil, now, now)
}

func TestSchedulingFailureRepositoryCreateBatchDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingFailureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduling_failures")).WillReturnResult(sqlmock.NewResult(1, 1))
	failures := []models.SchedulingFailure{{
		BatchID:    "batch-1",
		SemesterID: "sem-1",
		SessionKey: "unit-1|lect-1|class-a",
		UnitID:     "unit-1",
		ClassIDs:   pq.StringArray{"class-a"},
		Reason:     models.ReasonSlotsExhausted,
	}}
	require.NoError(t, repo.CreateBatch(context.Background(), nil, failures))
	assert.NotEmpty(t, failures[0].ID)
	assert.Equal(t, models.FailureStatusPending, failures[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingFailureRepositoryFindAndDecode(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingFailureRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, batch_id, semester_id")).
		WithArgs("fail-1").
		WillReturnRows(failureRows("fail-1", models.FailureStatusPending))

	failure, err := repo.FindByID(context.Background(), "fail-1")
	require.NoError(t, err)
	details, err := failure.ConflictDetails()
	require.NoError(t, err)
	require.NoError(t, details.Validate())
	assert.Equal(t, 40, details.Capacity.RequiredSeats)
	snap, err := failure.SessionSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "CS101", snap.UnitCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingFailureRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingFailureRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, batch_id, semester_id")).
		WithArgs(models.FailureStatusPending, "sem-1", models.ReasonNoVenueCapacity).
		WillReturnRows(failureRows("fail-1", models.FailureStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scheduling_failures")).
		WithArgs(models.FailureStatusPending, "sem-1", models.ReasonNoVenueCapacity).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	list, total, err := repo.List(context.Background(), models.FailureFilter{
		Status:     models.FailureStatusPending,
		SemesterID: "sem-1",
		Reason:     models.ReasonNoVenueCapacity,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 7, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingFailureRepositoryUpdateStatusGuardsCurrentState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingFailureRepository(db)

	notes := "room booked manually"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_failures")).
		WithArgs(models.FailureStatusResolved, sqlmock.AnyArg(), sqlmock.AnyArg(), &notes, nil, sqlmock.AnyArg(), "fail-1", models.FailureStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), nil, UpdateFailureStatusParams{
		ID: "fail-1", From: models.FailureStatusPending, To: models.FailureStatusResolved, ActorID: "admin-1", Notes: &notes,
	}))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scheduling_failures")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), nil, UpdateFailureStatusParams{
		ID: "fail-1", From: models.FailureStatusPending, To: models.FailureStatusIgnored, ActorID: "admin-1",
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulingFailureRepositoryEventsAndDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSchedulingFailureRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduling_failure_events")).WillReturnResult(sqlmock.NewResult(1, 1))
	event := &models.FailureEvent{FailureID: "fail-1", Action: models.TriageActionIgnore, FromStatus: models.FailureStatusPending, ToStatus: models.FailureStatusIgnored, ActorID: "admin-1"}
	require.NoError(t, repo.InsertEvent(context.Background(), nil, event))
	assert.NotEmpty(t, event.ID)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, failure_id, action")).
		WithArgs("fail-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "failure_id", "action", "from_status", "to_status", "actor_id", "notes", "created_at"}).
			AddRow(event.ID, "fail-1", "ignore", "pending", "ignored", "admin-1", nil, time.Now()))
	events, err := repo.ListEvents(context.Background(), "fail-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.FailureStatusIgnored, events[0].ToStatus)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM scheduling_failures")).WithArgs("fail-1").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "fail-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
