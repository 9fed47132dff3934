package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/scheduler"
)

// ReferenceRepository reads the academic catalogs the exam scheduler consumes. It never
// writes and never caches: every call hits the database.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository constructs the repository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// ListExamSessions derives exam sessions for the semester from class-unit offerings and
// class rosters.
func (r *ReferenceRepository) ListExamSessions(ctx context.Context, semesterID string, scope models.ScheduleScope) ([]models.ExamSession, error) {
	offerings, err := r.listOfferings(ctx, semesterID, scope)
	if err != nil {
		return nil, err
	}
	if len(offerings) == 0 {
		return nil, nil
	}
	classIDs := make([]string, 0, len(offerings))
	seen := make(map[string]struct{}, len(offerings))
	for _, o := range offerings {
		if _, ok := seen[o.ClassID]; ok {
			continue
		}
		seen[o.ClassID] = struct{}{}
		classIDs = append(classIDs, o.ClassID)
	}
	enrollments, err := r.listEnrollments(ctx, classIDs)
	if err != nil {
		return nil, err
	}
	return scheduler.BuildSessions(offerings, enrollments), nil
}

func (r *ReferenceRepository) listOfferings(ctx context.Context, semesterID string, scope models.ScheduleScope) ([]models.ClassUnitOffering, error) {
	args := []interface{}{semesterID}
	conditions := []string{"c.semester_id = $1", "cu.lecturer_id IS NOT NULL"}
	if scope.ProgramID != nil && *scope.ProgramID != "" {
		args = append(args, *scope.ProgramID)
		conditions = append(conditions, fmt.Sprintf("c.program_id = $%d", len(args)))
	}
	if len(scope.UnitIDs) > 0 {
		args = append(args, pq.Array(scope.UnitIDs))
		conditions = append(conditions, fmt.Sprintf("cu.unit_id = ANY($%d)", len(args)))
	}

	query := fmt.Sprintf(`SELECT u.id AS unit_id, u.code AS unit_code, u.name AS unit_name, u.exam_duration_minutes AS duration_minutes,
       c.id AS class_id, c.name AS class_name, c.program_id, p.school_id, cu.lecturer_id
FROM class_units cu
JOIN units u ON u.id = cu.unit_id
JOIN classes c ON c.id = cu.class_id
LEFT JOIN programs p ON p.id = c.program_id
WHERE %s
ORDER BY u.id, cu.lecturer_id, c.id`, strings.Join(conditions, " AND "))

	var offerings []models.ClassUnitOffering
	if err := r.db.SelectContext(ctx, &offerings, query, args...); err != nil {
		return nil, fmt.Errorf("list class unit offerings: %w", err)
	}
	return offerings, nil
}

func (r *ReferenceRepository) listEnrollments(ctx context.Context, classIDs []string) ([]models.ClassEnrollment, error) {
	const query = `SELECT class_id, student_id FROM class_enrollments
WHERE class_id = ANY($1) AND status = 'ACTIVE'
ORDER BY class_id, student_id`
	var enrollments []models.ClassEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, pq.Array(classIDs)); err != nil {
		return nil, fmt.Errorf("list class enrollments: %w", err)
	}
	return enrollments, nil
}

type venueBlackoutRow struct {
	VenueID string `db:"venue_id"`
	models.VenueBlackout
}

// ListVenues returns active exam venues with their blackout windows for the semester.
func (r *ReferenceRepository) ListVenues(ctx context.Context, semesterID string) ([]models.Venue, error) {
	const venueQuery = `SELECT id, name, capacity, program_id FROM exam_venues WHERE active = TRUE ORDER BY capacity DESC, id`
	var venues []models.Venue
	if err := r.db.SelectContext(ctx, &venues, venueQuery); err != nil {
		return nil, fmt.Errorf("list exam venues: %w", err)
	}
	if len(venues) == 0 {
		return venues, nil
	}

	const blackoutQuery = `SELECT venue_id, blackout_date, slot_number FROM exam_venue_blackouts WHERE semester_id = $1 ORDER BY venue_id, blackout_date, slot_number`
	var rows []venueBlackoutRow
	if err := r.db.SelectContext(ctx, &rows, blackoutQuery, semesterID); err != nil {
		return nil, fmt.Errorf("list venue blackouts: %w", err)
	}
	byVenue := make(map[string][]models.VenueBlackout, len(rows))
	for _, row := range rows {
		byVenue[row.VenueID] = append(byVenue[row.VenueID], row.VenueBlackout)
	}
	for i := range venues {
		venues[i].Blackouts = byVenue[venues[i].ID]
	}
	return venues, nil
}

// ListSlots returns the semester exam calendar ordered by date and slot number.
func (r *ReferenceRepository) ListSlots(ctx context.Context, semesterID string) ([]models.TimeSlot, error) {
	const query = `SELECT exam_date, slot_number, to_char(start_time, 'HH24:MI') AS start_time, to_char(end_time, 'HH24:MI') AS end_time
FROM exam_slots WHERE semester_id = $1 ORDER BY exam_date, slot_number`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, semesterID); err != nil {
		return nil, fmt.Errorf("list exam slots: %w", err)
	}
	return slots, nil
}

// ResolveSession re-derives the current session of a unit for a set of classes. When any
// class no longer exists in the semester its id is returned in missing and session is nil.
// A nil session with no missing classes means the unit is no longer offered to them.
func (r *ReferenceRepository) ResolveSession(ctx context.Context, semesterID, unitID, lecturerID string, classIDs []string) (*models.ExamSession, []string, error) {
	const query = `SELECT id FROM classes WHERE semester_id = $1 AND id = ANY($2) ORDER BY id`
	var existing []string
	if err := r.db.SelectContext(ctx, &existing, query, semesterID, pq.Array(classIDs)); err != nil {
		return nil, nil, fmt.Errorf("check classes: %w", err)
	}
	if missing := scheduler.MissingIDs(existing, classIDs); len(missing) > 0 {
		return nil, missing, nil
	}

	sessions, err := r.ListExamSessions(ctx, semesterID, models.ScheduleScope{UnitIDs: []string{unitID}})
	if err != nil {
		return nil, nil, err
	}
	session, ok := scheduler.MatchSession(sessions, unitID, lecturerID, classIDs)
	if !ok {
		return nil, nil, nil
	}
	return &session, nil, nil
}
