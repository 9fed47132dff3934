package handler

import (
	"github.com/gin-gonic/gin"
)

// RegisterExamSchedulerRoutes mounts the scheduling API on group. guards run before every
// route, normally JWT followed by a role check.
func RegisterExamSchedulerRoutes(group *gin.RouterGroup, batches *ExamBatchHandler, failures *ExamFailureHandler, guards ...gin.HandlerFunc) {
	exam := group.Group("/exam-schedule", guards...)

	exam.POST("/batches", batches.Create)
	exam.GET("/batches", batches.List)
	exam.POST("/batches/parallel", batches.RunParallel)
	exam.GET("/batches/:id", batches.Get)
	exam.POST("/batches/:id/cancel", batches.Cancel)

	exam.GET("/assignments", batches.ListAssignments)
	exam.POST("/assignments/:id/reschedule", batches.Reschedule)

	exam.GET("/failures", failures.List)
	exam.POST("/failures/retry", failures.Retry)
	exam.GET("/failures/:id", failures.Get)
	exam.POST("/failures/:id/resolve", failures.Resolve)
	exam.POST("/failures/:id/ignore", failures.Ignore)
	exam.POST("/failures/:id/revert", failures.Revert)
	exam.DELETE("/failures/:id", failures.Delete)
}
