package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// ReasonCode is the closed set of causes for an unplaceable exam session.
type ReasonCode string

const (
	ReasonNoVenueCapacity  ReasonCode = "NO_VENUE_CAPACITY"
	ReasonStudentConflict  ReasonCode = "STUDENT_CONFLICT"
	ReasonLecturerConflict ReasonCode = "LECTURER_CONFLICT"
	ReasonSlotsExhausted   ReasonCode = "SLOTS_EXHAUSTED"
	ReasonInvalidReference ReasonCode = "INVALID_REFERENCE"
)

// ReasonCodes lists every known code in display order.
var ReasonCodes = []ReasonCode{
	ReasonNoVenueCapacity,
	ReasonStudentConflict,
	ReasonLecturerConflict,
	ReasonSlotsExhausted,
	ReasonInvalidReference,
}

// Valid reports whether the code belongs to the closed set.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonNoVenueCapacity, ReasonStudentConflict, ReasonLecturerConflict, ReasonSlotsExhausted, ReasonInvalidReference:
		return true
	}
	return false
}

// ConflictDetailsVersion is bumped whenever the payload shape changes.
const ConflictDetailsVersion = 1

// ConflictDetails is the machine-readable payload stored with a failure. Exactly one of
// the variant fields is set and it must match Reason.
type ConflictDetails struct {
	Version   int                      `json:"version"`
	Reason    ReasonCode               `json:"reason"`
	Capacity  *CapacityConflictDetail  `json:"capacity,omitempty"`
	Students  *StudentConflictDetail   `json:"students,omitempty"`
	Lecturer  *LecturerConflictDetail  `json:"lecturer,omitempty"`
	Exhausted *ExhaustedConflictDetail `json:"exhausted,omitempty"`
	Reference *ReferenceConflictDetail `json:"reference,omitempty"`
}

// CapacityConflictDetail explains a roster larger than any usable venue combination.
type CapacityConflictDetail struct {
	RequiredSeats   int `json:"required_seats"`
	LargestCapacity int `json:"largest_capacity"`
	MaxVenues       int `json:"max_venues"`
}

// StudentConflictDetail lists students already sitting another exam in the best cell.
type StudentConflictDetail struct {
	StudentIDs []string `json:"student_ids"`
	VenueID    string   `json:"venue_id,omitempty"`
}

// LecturerConflictDetail names the double-booked lecturer.
type LecturerConflictDetail struct {
	LecturerID string `json:"lecturer_id"`
	VenueID    string `json:"venue_id,omitempty"`
}

// ExhaustedConflictDetail summarises an enumeration that found no usable cell.
type ExhaustedConflictDetail struct {
	CandidatesTried       int      `json:"candidates_tried"`
	ConflictingStudentIDs []string `json:"conflicting_student_ids,omitempty"`
	LecturerConflict      bool     `json:"lecturer_conflict"`
	VenueOccupied         bool     `json:"venue_occupied"`
	VenueID               string   `json:"venue_id,omitempty"`
}

// ReferenceConflictDetail describes a session whose reference records no longer resolve.
type ReferenceConflictDetail struct {
	MissingClassIDs []string `json:"missing_class_ids,omitempty"`
	MissingUnitID   string   `json:"missing_unit_id,omitempty"`
	Message         string   `json:"message"`
}

// Validate checks the payload is a well-formed variant for its reason.
func (d ConflictDetails) Validate() error {
	if d.Version != ConflictDetailsVersion {
		return fmt.Errorf("unsupported conflict details version %d", d.Version)
	}
	set := 0
	for _, present := range []bool{d.Capacity != nil, d.Students != nil, d.Lecturer != nil, d.Exhausted != nil, d.Reference != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("conflict details must carry exactly one variant, got %d", set)
	}
	var ok bool
	switch d.Reason {
	case ReasonNoVenueCapacity:
		ok = d.Capacity != nil
	case ReasonStudentConflict:
		ok = d.Students != nil
	case ReasonLecturerConflict:
		ok = d.Lecturer != nil
	case ReasonSlotsExhausted:
		ok = d.Exhausted != nil
	case ReasonInvalidReference:
		ok = d.Reference != nil
	default:
		return fmt.Errorf("unknown reason code %q", d.Reason)
	}
	if !ok {
		return fmt.Errorf("conflict details variant does not match reason %s", d.Reason)
	}
	return nil
}

// FailureStatus is the triage state of a scheduling failure.
type FailureStatus string

const (
	FailureStatusPending  FailureStatus = "pending"
	FailureStatusResolved FailureStatus = "resolved"
	FailureStatusRetried  FailureStatus = "retried"
	FailureStatusIgnored  FailureStatus = "ignored"
)

// Valid reports whether the status is known.
func (s FailureStatus) Valid() bool {
	switch s {
	case FailureStatusPending, FailureStatusResolved, FailureStatusRetried, FailureStatusIgnored:
		return true
	}
	return false
}

// TriageAction is an administrator action on a failure.
type TriageAction string

const (
	TriageActionResolve TriageAction = "resolve"
	TriageActionRetry   TriageAction = "retry"
	TriageActionIgnore  TriageAction = "ignore"
	TriageActionRevert  TriageAction = "revert"
)

// ErrTransitionNotAllowed is returned for edges outside the triage state machine.
type ErrTransitionNotAllowed struct {
	From   FailureStatus
	Action TriageAction
}

func (e *ErrTransitionNotAllowed) Error() string {
	return fmt.Sprintf("cannot %s a %s failure", e.Action, e.From)
}

// NextStatus applies action to from. The boolean is false when the failure is already in
// the action's target state, in which case nothing should be written.
func NextStatus(from FailureStatus, action TriageAction) (FailureStatus, bool, error) {
	var target FailureStatus
	switch action {
	case TriageActionResolve:
		target = FailureStatusResolved
	case TriageActionRetry:
		target = FailureStatusRetried
	case TriageActionIgnore:
		target = FailureStatusIgnored
	case TriageActionRevert:
		target = FailureStatusPending
	default:
		return from, false, &ErrTransitionNotAllowed{From: from, Action: action}
	}
	if from == target {
		return from, false, nil
	}

	switch from {
	case FailureStatusPending:
		if action != TriageActionRevert {
			return target, true, nil
		}
	case FailureStatusResolved, FailureStatusIgnored:
		if action == TriageActionRevert {
			return target, true, nil
		}
	case FailureStatusRetried:
	}
	return from, false, &ErrTransitionNotAllowed{From: from, Action: action}
}

// SchedulingFailure records one exam session a batch could not place.
type SchedulingFailure struct {
	ID                  string         `db:"id" json:"id"`
	BatchID             string         `db:"batch_id" json:"batch_id"`
	SemesterID          string         `db:"semester_id" json:"semester_id"`
	ProgramID           *string        `db:"program_id" json:"program_id,omitempty"`
	SchoolID            *string        `db:"school_id" json:"school_id,omitempty"`
	SessionKey          string         `db:"session_key" json:"session_key"`
	UnitID              string         `db:"unit_id" json:"unit_id"`
	LecturerID          string         `db:"lecturer_id" json:"lecturer_id"`
	ClassIDs            pq.StringArray `db:"class_ids" json:"class_ids"`
	Snapshot            types.JSONText `db:"snapshot" json:"snapshot"`
	StudentCount        int            `db:"student_count" json:"student_count"`
	AttemptedDate       *time.Time     `db:"attempted_date" json:"attempted_date,omitempty"`
	AttemptedStartTime  *string        `db:"attempted_start_time" json:"attempted_start_time,omitempty"`
	AttemptedEndTime    *string        `db:"attempted_end_time" json:"attempted_end_time,omitempty"`
	AttemptedSlotNumber *int           `db:"attempted_slot_number" json:"attempted_slot_number,omitempty"`
	AttemptedVenueID    *string        `db:"attempted_venue_id" json:"attempted_venue_id,omitempty"`
	Reason              ReasonCode     `db:"reason_code" json:"reason_code"`
	FailureReason       string         `db:"failure_reason" json:"failure_reason"`
	Details             types.JSONText `db:"conflict_details" json:"conflict_details"`
	Status              FailureStatus  `db:"status" json:"status"`
	ResolvedBy          *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt          *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionNotes     *string        `db:"resolution_notes" json:"resolution_notes,omitempty"`
	SupersededBy        *string        `db:"superseded_by" json:"superseded_by,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// SessionSnapshot decodes the stored display snapshot.
func (f SchedulingFailure) SessionSnapshot() (SessionSnapshot, error) {
	var snap SessionSnapshot
	if len(f.Snapshot) == 0 {
		return snap, nil
	}
	err := json.Unmarshal(f.Snapshot, &snap)
	return snap, err
}

// ConflictDetails decodes the stored conflict payload.
func (f SchedulingFailure) ConflictDetails() (ConflictDetails, error) {
	var details ConflictDetails
	if len(f.Details) == 0 {
		return details, nil
	}
	err := json.Unmarshal(f.Details, &details)
	return details, err
}

// FailureEvent is one audit entry of a triage transition.
type FailureEvent struct {
	ID         string        `db:"id" json:"id"`
	FailureID  string        `db:"failure_id" json:"failure_id"`
	Action     TriageAction  `db:"action" json:"action"`
	FromStatus FailureStatus `db:"from_status" json:"from_status"`
	ToStatus   FailureStatus `db:"to_status" json:"to_status"`
	ActorID    string        `db:"actor_id" json:"actor_id"`
	Notes      *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// FailureFilter narrows failure listings.
type FailureFilter struct {
	Status     FailureStatus
	SemesterID string
	ProgramID  string
	BatchID    string
	Reason     ReasonCode
	Page       int
	PageSize   int
}
