package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/middleware/requestid"
)

func record(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestid.Middleware())
	router.GET("/", handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return w, envelope
}

func TestBatchNamesEveryBatch(t *testing.T) {
	w, envelope := record(t, func(c *gin.Context) {
		Batch(c, http.StatusCreated, gin.H{"ok": true},
			models.SchedulingBatch{ID: "b-1", Status: models.SchedulingBatchStatusCompleted},
			models.SchedulingBatch{ID: "b-2", Status: models.SchedulingBatchStatusCancelled})
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "b-1,b-2", w.Header().Get(BatchHeader))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	require.NotNil(t, envelope.Meta)
	assert.Equal(t, "req-42", envelope.Meta.RequestID)
	assert.Equal(t, []string{"b-1", "b-2"}, envelope.Meta.BatchIDs)
	assert.Empty(t, envelope.Meta.BatchStatus, "status is reported for a single batch only")
}

func TestBatchSingleReportsStatus(t *testing.T) {
	_, envelope := record(t, func(c *gin.Context) {
		Batch(c, http.StatusAccepted, nil, models.SchedulingBatch{ID: "b-9", Status: models.SchedulingBatchStatusQueued})
	})

	require.NotNil(t, envelope.Meta)
	assert.Equal(t, models.SchedulingBatchStatusQueued, envelope.Meta.BatchStatus)
}

func TestErrorCarriesRequestID(t *testing.T) {
	w, envelope := record(t, func(c *gin.Context) {
		Error(c, appErrors.Clone(appErrors.ErrScopeLocked, "semester sem-1 is being scheduled"))
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, w.Header().Get(BatchHeader))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrScopeLocked.Code, envelope.Error.Code)
	require.NotNil(t, envelope.Meta)
	assert.Equal(t, "req-42", envelope.Meta.RequestID)

	w, envelope = record(t, func(c *gin.Context) { Error(c, errors.New("boom")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, appErrors.ErrInternal.Code, envelope.Error.Code)
}
