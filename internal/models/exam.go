package models

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// DateLayout is the calendar-day format used for exam dates on the wire and in keys.
const DateLayout = "2006-01-02"

// SessionSnapshot copies display names at the moment a session is derived so that
// failure rows stay readable after the source records change.
type SessionSnapshot struct {
	UnitCode   string   `json:"unit_code"`
	UnitName   string   `json:"unit_name"`
	ClassNames []string `json:"class_names"`
}

// ExamSession is one unit's exam requirement for one or more classes. It is built per
// batch run and never persisted directly.
type ExamSession struct {
	UnitID          string          `json:"unit_id"`
	ClassIDs        []string        `json:"class_ids"`
	ProgramID       *string         `json:"program_id,omitempty"`
	SchoolID        *string         `json:"school_id,omitempty"`
	StudentIDs      []string        `json:"student_ids"`
	LecturerID      string          `json:"lecturer_id"`
	DurationMinutes int             `json:"duration_minutes"`
	Snapshot        SessionSnapshot `json:"snapshot"`
}

// StudentCount returns the number of distinct students sitting the exam.
func (s ExamSession) StudentCount() int {
	return len(s.StudentIDs)
}

// Key identifies the session across runs independent of roster changes.
func (s ExamSession) Key() string {
	return SessionKey(s.UnitID, s.LecturerID, s.ClassIDs)
}

// SessionKey builds the stable identity of a unit/lecturer/class grouping.
func SessionKey(unitID, lecturerID string, classIDs []string) string {
	return unitID + "|" + lecturerID + "|" + strings.Join(classIDs, ",")
}

// TimeSlot is a bounded exam window on a date.
type TimeSlot struct {
	Date       time.Time `db:"exam_date" json:"date"`
	SlotNumber int       `db:"slot_number" json:"slot_number"`
	StartTime  string    `db:"start_time" json:"start_time"`
	EndTime    string    `db:"end_time" json:"end_time"`
}

// DateKey renders the slot date as YYYY-MM-DD.
func (t TimeSlot) DateKey() string {
	return t.Date.Format(DateLayout)
}

// DurationMinutes returns the length of the slot window, or zero when the times are malformed.
func (t TimeSlot) DurationMinutes() int {
	start, ok := parseClock(t.StartTime)
	if !ok {
		return 0
	}
	end, ok := parseClock(t.EndTime)
	if !ok || !end.After(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}

func parseClock(raw string) (time.Time, bool) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Before orders slots by date then slot number.
func (t TimeSlot) Before(other TimeSlot) bool {
	if !t.Date.Equal(other.Date) {
		return t.Date.Before(other.Date)
	}
	return t.SlotNumber < other.SlotNumber
}

// VenueBlackout marks a venue unavailable on a date; SlotNumber zero blocks the whole day.
type VenueBlackout struct {
	Date       time.Time `db:"blackout_date" json:"date"`
	SlotNumber int       `db:"slot_number" json:"slot_number"`
}

// Venue is a room with finite seating available for exams.
type Venue struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Capacity  int             `db:"capacity" json:"capacity"`
	ProgramID *string         `db:"program_id" json:"program_id,omitempty"`
	Blackouts []VenueBlackout `db:"-" json:"blackouts,omitempty"`
}

// AvailableAt reports whether the venue can host an exam in the slot.
func (v Venue) AvailableAt(slot TimeSlot) bool {
	for _, b := range v.Blackouts {
		if !b.Date.Equal(slot.Date) {
			continue
		}
		if b.SlotNumber == 0 || b.SlotNumber == slot.SlotNumber {
			return false
		}
	}
	return true
}

// CellAllocation records the seats one session takes in a venue cell.
type CellAllocation struct {
	VenueID    string `json:"venue_id"`
	VenueName  string `json:"venue_name"`
	Date       string `json:"date"`
	SlotNumber int    `json:"slot_number"`
	Capacity   int    `json:"capacity"`
	Seats      int    `json:"seats"`
}

// ExamAssignment is a committed timetable entry. Rows are never edited in place; a
// reschedule inserts a new row and stamps SupersededBy on the old one.
type ExamAssignment struct {
	ID           string         `db:"id" json:"id"`
	SemesterID   string         `db:"semester_id" json:"semester_id"`
	ProgramID    *string        `db:"program_id" json:"program_id,omitempty"`
	BatchID      string         `db:"batch_id" json:"batch_id"`
	SessionKey   string         `db:"session_key" json:"session_key"`
	UnitID       string         `db:"unit_id" json:"unit_id"`
	ClassIDs     pq.StringArray `db:"class_ids" json:"class_ids"`
	LecturerID   string         `db:"lecturer_id" json:"lecturer_id"`
	StudentIDs   pq.StringArray `db:"student_ids" json:"-"`
	StudentCount int            `db:"student_count" json:"student_count"`
	ExamDate     time.Time      `db:"exam_date" json:"exam_date"`
	SlotNumber   int            `db:"slot_number" json:"slot_number"`
	StartTime    string         `db:"start_time" json:"start_time"`
	EndTime      string         `db:"end_time" json:"end_time"`
	Cells        types.JSONText `db:"cells" json:"cells"`
	Snapshot     types.JSONText `db:"snapshot" json:"snapshot"`
	SupersededBy *string        `db:"superseded_by" json:"superseded_by,omitempty"`
	SupersededAt *time.Time     `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Active reports whether the assignment is part of the current timetable.
func (a ExamAssignment) Active() bool {
	return a.SupersededBy == nil
}

// Slot returns the assignment's time slot.
func (a ExamAssignment) Slot() TimeSlot {
	return TimeSlot{Date: a.ExamDate, SlotNumber: a.SlotNumber, StartTime: a.StartTime, EndTime: a.EndTime}
}

// AssignmentFilter narrows timetable listings.
type AssignmentFilter struct {
	SemesterID        string
	ProgramID         string
	BatchID           string
	UnitID            string
	IncludeSuperseded bool
	Page              int
	PageSize          int
}

// ScheduleScope narrows a batch to a program and optionally to specific units.
type ScheduleScope struct {
	ProgramID *string  `json:"program_id,omitempty"`
	UnitIDs   []string `json:"unit_ids,omitempty"`
}

// ClassUnitOffering is one class taking one unit with its assigned lecturer.
type ClassUnitOffering struct {
	UnitID          string  `db:"unit_id"`
	UnitCode        string  `db:"unit_code"`
	UnitName        string  `db:"unit_name"`
	DurationMinutes int     `db:"duration_minutes"`
	ClassID         string  `db:"class_id"`
	ClassName       string  `db:"class_name"`
	ProgramID       *string `db:"program_id"`
	SchoolID        *string `db:"school_id"`
	LecturerID      string  `db:"lecturer_id"`
}

// ClassEnrollment links a student to a class roster.
type ClassEnrollment struct {
	ClassID   string `db:"class_id"`
	StudentID string `db:"student_id"`
}
