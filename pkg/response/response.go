package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/exam-scheduler-api/pkg/errors"
	"github.com/noah-isme/exam-scheduler-api/pkg/middleware/requestid"
)

// BatchHeader names the scheduling batches a response was produced by.
const BatchHeader = "X-Batch-ID"

// Envelope represents the common response contract.
type Envelope struct {
	Data       interface{}        `json:"data,omitempty"`
	Error      *appErrors.Error   `json:"error,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
	Meta       *Meta              `json:"meta,omitempty"`
}

// Meta correlates a response with the request log and with the batches it touched.
type Meta struct {
	RequestID   string                       `json:"request_id,omitempty"`
	BatchIDs    []string                     `json:"batch_ids,omitempty"`
	BatchStatus models.SchedulingBatchStatus `json:"batch_status,omitempty"`
}

func metaFor(c *gin.Context) *Meta {
	if id := requestid.Value(c); id != "" {
		return &Meta{RequestID: id}
	}
	return nil
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination) {
	noStore(c)
	c.JSON(status, Envelope{Data: data, Pagination: pagination, Meta: metaFor(c)})
}

// Batch sends the outcome of a batch operation. The batch ids go to both the X-Batch-ID
// header and meta.batch_ids; a single batch also reports its status.
func Batch(c *gin.Context, status int, data interface{}, batches ...models.SchedulingBatch) {
	noStore(c)
	meta := metaFor(c)
	if meta == nil {
		meta = &Meta{}
	}
	for _, b := range batches {
		if b.ID != "" {
			meta.BatchIDs = append(meta.BatchIDs, b.ID)
		}
	}
	if len(batches) == 1 {
		meta.BatchStatus = batches[0].Status
	}
	if len(meta.BatchIDs) > 0 {
		c.Header(BatchHeader, strings.Join(meta.BatchIDs, ","))
	}
	c.JSON(status, Envelope{Data: data, Meta: meta})
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	noStore(c)
	c.JSON(appErr.Status, Envelope{Error: appErr, Meta: metaFor(c)})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
