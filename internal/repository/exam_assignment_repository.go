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

const assignmentColumns = `id, semester_id, program_id, batch_id, session_key, unit_id, class_ids, lecturer_id, student_ids,
       student_count, exam_date, slot_number, start_time, end_time, cells, snapshot, superseded_by, superseded_at, created_at`

// ExamAssignmentRepository persists the committed exam timetable.
type ExamAssignmentRepository struct {
	db *sqlx.DB
}

// NewExamAssignmentRepository constructs the repository.
func NewExamAssignmentRepository(db *sqlx.DB) *ExamAssignmentRepository {
	return &ExamAssignmentRepository{db: db}
}

func (r *ExamAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListActiveBySemester returns every assignment of the semester that has not been superseded.
func (r *ExamAssignmentRepository) ListActiveBySemester(ctx context.Context, semesterID string) ([]models.ExamAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_assignments
WHERE semester_id = $1 AND superseded_by IS NULL ORDER BY exam_date, slot_number, session_key`, assignmentColumns)
	var assignments []models.ExamAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, semesterID); err != nil {
		return nil, fmt.Errorf("list active exam assignments: %w", err)
	}
	return assignments, nil
}

// CreateBatch inserts the assignments produced by one batch.
func (r *ExamAssignmentRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.ExamAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()
	const query = `INSERT INTO exam_assignments
	(id, semester_id, program_id, batch_id, session_key, unit_id, class_ids, lecturer_id, student_ids, student_count,
	 exam_date, slot_number, start_time, end_time, cells, snapshot, created_at)
	VALUES (:id, :semester_id, :program_id, :batch_id, :session_key, :unit_id, :class_ids, :lecturer_id, :student_ids, :student_count,
	 :exam_date, :slot_number, :start_time, :end_time, :cells, :snapshot, :created_at)`
	for i := range assignments {
		a := &assignments[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if len(a.Cells) == 0 {
			a.Cells = types.JSONText(`[]`)
		}
		if len(a.Snapshot) == 0 {
			a.Snapshot = types.JSONText(`{}`)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, a); err != nil {
			return fmt.Errorf("insert exam assignment %s: %w", a.SessionKey, err)
		}
	}
	return nil
}

// Supersede stamps an active assignment as replaced by another one.
func (r *ExamAssignmentRepository) Supersede(ctx context.Context, exec sqlx.ExtContext, id, replacementID string) error {
	const query = `UPDATE exam_assignments SET superseded_by = $1, superseded_at = $2 WHERE id = $3 AND superseded_by IS NULL`
	result, err := r.exec(exec).ExecContext(ctx, query, replacementID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("supersede exam assignment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID loads one assignment.
func (r *ExamAssignmentRepository) FindByID(ctx context.Context, id string) (*models.ExamAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM exam_assignments WHERE id = $1`, assignmentColumns)
	var assignment models.ExamAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// List returns timetable entries matching the filter together with the total count.
func (r *ExamAssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.ExamAssignment, int, error) {
	args := make([]interface{}, 0, 4)
	conditions := []string{"1=1"}
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
	if filter.UnitID != "" {
		args = append(args, filter.UnitID)
		conditions = append(conditions, fmt.Sprintf("unit_id = $%d", len(args)))
	}
	if !filter.IncludeSuperseded {
		conditions = append(conditions, "superseded_by IS NULL")
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	size, offset := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM exam_assignments%s ORDER BY exam_date, slot_number, session_key LIMIT %d OFFSET %d`,
		assignmentColumns, where, size, offset)

	var assignments []models.ExamAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list exam assignments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM exam_assignments"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count exam assignments: %w", err)
	}
	return assignments, total, nil
}

// normalizePage clamps the page size (default 20, max 100) and returns it with the row offset.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return size, (page - 1) * size
}
