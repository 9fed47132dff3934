package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/dto"
	internalmiddleware "github.com/noah-isme/exam-scheduler-api/internal/middleware"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/response"
)

type batchRunnerMock struct {
	runReq        dto.RunBatchRequest
	enqueued      bool
	rescheduleReq dto.RescheduleRequest
	runErr        error
}

func (m *batchRunnerMock) Run(ctx context.Context, req dto.RunBatchRequest) (*dto.BatchResult, error) {
	m.runReq = req
	if m.runErr != nil {
		return nil, m.runErr
	}
	return &dto.BatchResult{Batch: models.SchedulingBatch{ID: "b-1", Status: models.SchedulingBatchStatusCompleted}}, nil
}

func (m *batchRunnerMock) Enqueue(ctx context.Context, req dto.RunBatchRequest) (*models.SchedulingBatch, error) {
	m.runReq = req
	m.enqueued = true
	return &models.SchedulingBatch{ID: "b-2", Status: models.SchedulingBatchStatusQueued}, nil
}

func (m *batchRunnerMock) RunParallel(ctx context.Context, req dto.ParallelRunRequest) (*dto.ParallelRunResult, error) {
	return nil, appErrors.Clone(appErrors.ErrScopesOverlap, "student s-1 is shared by scopes a and b")
}

func (m *batchRunnerMock) Cancel(ctx context.Context, batchID, actorID string) (*models.SchedulingBatch, error) {
	return nil, appErrors.Clone(appErrors.ErrBatchNotCancelable, "batch already finished")
}

func (m *batchRunnerMock) Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.BatchResult, error) {
	m.rescheduleReq = req
	return &dto.BatchResult{}, nil
}

func (m *batchRunnerMock) GetBatch(ctx context.Context, id string) (*models.SchedulingBatch, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
}

func (m *batchRunnerMock) ListBatches(ctx context.Context, query dto.BatchListQuery) ([]models.SchedulingBatch, *models.Pagination, error) {
	return []models.SchedulingBatch{{ID: "b-1"}}, models.NewPagination(query.Page, query.PageSize, 1), nil
}

func (m *batchRunnerMock) ListAssignments(ctx context.Context, query dto.AssignmentListQuery) ([]models.ExamAssignment, *models.Pagination, error) {
	return nil, models.NewPagination(query.Page, query.PageSize, 0), nil
}

func (m *batchRunnerMock) Retry(ctx context.Context, req dto.RetryFailuresRequest) (*dto.BatchResult, error) {
	return &dto.BatchResult{Batch: models.SchedulingBatch{ID: "b-3", Kind: models.SchedulingBatchKindRetry, StartedBy: req.ActorID}}, nil
}

type triageMock struct {
	lastID    string
	lastActor string
	notes     *string
}

func (m *triageMock) List(ctx context.Context, query dto.FailureListQuery) ([]models.SchedulingFailure, *models.Pagination, error) {
	return nil, models.NewPagination(1, 20, 0), nil
}

func (m *triageMock) Get(ctx context.Context, id string) (*dto.FailureDetail, error) {
	return &dto.FailureDetail{Failure: models.SchedulingFailure{ID: id}}, nil
}

func (m *triageMock) Resolve(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	m.lastID, m.lastActor, m.notes = id, actorID, req.Notes
	return &dto.TransitionResult{Failure: models.SchedulingFailure{ID: id, Status: models.FailureStatusResolved}, Changed: true}, nil
}

func (m *triageMock) Ignore(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	return &dto.TransitionResult{Failure: models.SchedulingFailure{ID: id, Status: models.FailureStatusIgnored}}, nil
}

func (m *triageMock) Revert(ctx context.Context, id, actorID string, req dto.TriageRequest) (*dto.TransitionResult, error) {
	return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot revert a retried failure")
}

func (m *triageMock) Delete(ctx context.Context, id, actorID string) error {
	m.lastID, m.lastActor = id, actorID
	return nil
}

func newExamRouter(runner *batchRunnerMock, triage *triageMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	asAdmin := func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
		c.Next()
	}
	RegisterExamSchedulerRoutes(router.Group("/api/v1"),
		&ExamBatchHandler{service: runner},
		&ExamFailureHandler{triage: triage, retrier: runner},
		asAdmin, internalmiddleware.RequireRoles(models.RoleAdmin))
	return router
}

func serve(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func responseMeta(t *testing.T, w *httptest.ResponseRecorder) response.Meta {
	t.Helper()
	var envelope struct {
		Meta *response.Meta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Meta)
	return *envelope.Meta
}

func TestExamBatchHandlerCreateRunsInline(t *testing.T) {
	runner := &batchRunnerMock{}
	router := newExamRouter(runner, &triageMock{})

	w := serve(router, http.MethodPost, "/api/v1/exam-schedule/batches", []byte(`{"semester_id":"sem-1","date_order":"spread"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "b-1", w.Header().Get(response.BatchHeader))
	meta := responseMeta(t, w)
	assert.Equal(t, []string{"b-1"}, meta.BatchIDs)
	assert.Equal(t, models.SchedulingBatchStatusCompleted, meta.BatchStatus)
	assert.False(t, runner.enqueued)
	assert.Equal(t, "sem-1", runner.runReq.SemesterID)
	assert.Equal(t, "spread", runner.runReq.DateOrder)
	assert.Equal(t, "admin-1", runner.runReq.ActorID)
}

func TestExamBatchHandlerCreateAsync(t *testing.T) {
	runner := &batchRunnerMock{}
	router := newExamRouter(runner, &triageMock{})

	w := serve(router, http.MethodPost, "/api/v1/exam-schedule/batches?async=true", []byte(`{"semester_id":"sem-1"}`))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, runner.enqueued)
	assert.Equal(t, "b-2", w.Header().Get(response.BatchHeader))
	assert.Equal(t, models.SchedulingBatchStatusQueued, responseMeta(t, w).BatchStatus)
}

func TestExamBatchHandlerMapsDomainErrors(t *testing.T) {
	runner := &batchRunnerMock{runErr: appErrors.Clone(appErrors.ErrScopeLocked, "semester sem-1 is being scheduled by another batch")}
	router := newExamRouter(runner, &triageMock{})

	cases := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
		code   string
	}{
		{"locked", http.MethodPost, "/api/v1/exam-schedule/batches", []byte(`{"semester_id":"sem-1"}`), http.StatusConflict, "SCOPE_LOCKED"},
		{"bad json", http.MethodPost, "/api/v1/exam-schedule/batches", []byte(`{"semester_id":`), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"overlap", http.MethodPost, "/api/v1/exam-schedule/batches/parallel", []byte(`{"semester_id":"sem-1","program_ids":["a","b"]}`), http.StatusPreconditionFailed, "SCOPES_OVERLAP"},
		{"not cancelable", http.MethodPost, "/api/v1/exam-schedule/batches/b-1/cancel", nil, http.StatusConflict, "BATCH_NOT_CANCELABLE"},
		{"missing batch", http.MethodGet, "/api/v1/exam-schedule/batches/nope", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(router, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, errorCode(t, w))
		})
	}
}

func TestExamBatchHandlerListIncludesPagination(t *testing.T) {
	router := newExamRouter(&batchRunnerMock{}, &triageMock{})

	w := serve(router, http.MethodGet, "/api/v1/exam-schedule/batches?page=2&page_size=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data       []models.SchedulingBatch `json:"data"`
		Pagination models.Pagination        `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 1)
	assert.Equal(t, 2, envelope.Pagination.Page)
	assert.Equal(t, 5, envelope.Pagination.PageSize)
}

func TestExamBatchHandlerRescheduleWithoutBody(t *testing.T) {
	runner := &batchRunnerMock{}
	router := newExamRouter(runner, &triageMock{})

	w := serve(router, http.MethodPost, "/api/v1/exam-schedule/assignments/a-1/reschedule", nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "a-1", runner.rescheduleReq.AssignmentID)
	assert.False(t, runner.rescheduleReq.ExcludeCurrentSlot)
}

func TestExamFailureHandlerTriage(t *testing.T) {
	triage := &triageMock{}
	router := newExamRouter(&batchRunnerMock{}, triage)

	w := serve(router, http.MethodPost, "/api/v1/exam-schedule/failures/f-1/resolve", []byte(`{"notes":"manual room"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "f-1", triage.lastID)
	assert.Equal(t, "admin-1", triage.lastActor)
	require.NotNil(t, triage.notes)
	assert.Equal(t, "manual room", *triage.notes)

	w = serve(router, http.MethodPost, "/api/v1/exam-schedule/failures/f-1/revert", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, w))

	w = serve(router, http.MethodPost, "/api/v1/exam-schedule/failures/retry", []byte(`{"failure_ids":["f-1"]}`))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "b-3", w.Header().Get(response.BatchHeader))

	w = serve(router, http.MethodDelete, "/api/v1/exam-schedule/failures/f-9", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "f-9", triage.lastID)
}

func TestExamRoutesRequireAdminRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	asLecturer := func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "l-1", Role: models.RoleLecturer})
		c.Next()
	}
	RegisterExamSchedulerRoutes(router.Group("/api/v1"),
		&ExamBatchHandler{service: &batchRunnerMock{}},
		&ExamFailureHandler{triage: &triageMock{}, retrier: &batchRunnerMock{}},
		asLecturer, internalmiddleware.RequireRoles(models.RoleAdmin))

	w := serve(router, http.MethodGet, "/api/v1/exam-schedule/failures", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}
