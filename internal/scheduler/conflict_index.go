package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

type slotKey struct {
	date   string
	number int
}

func keyOf(slot models.TimeSlot) slotKey {
	return slotKey{date: slot.DateKey(), number: slot.SlotNumber}
}

type cellKey struct {
	venueID string
	slot    slotKey
}

type cellState struct {
	capacity int
	used     int
	sessions []string
}

// Verdict is the answer to "can this session occupy this venue cell".
type Verdict struct {
	OK                  bool
	Reason              models.ReasonCode
	ConflictingStudents []string
	LecturerConflict    bool
	CapacityShort       bool
	VenueOccupied       bool
	RemainingSeats      int
}

func (v Verdict) violations() int {
	n := len(v.ConflictingStudents)
	if v.LecturerConflict {
		n++
	}
	if v.VenueOccupied || v.CapacityShort {
		n++
	}
	return n
}

// ConflictIndex tracks what a batch has committed so far. It is owned by exactly one
// batch and is not safe for concurrent use.
type ConflictIndex struct {
	sharing   VenueSharing
	students  map[string]map[slotKey]struct{}
	lecturers map[string]map[slotKey]struct{}
	cells     map[cellKey]*cellState
	dateLoad  map[string]int
}

// NewConflictIndex builds an empty index using the given venue sharing policy.
func NewConflictIndex(sharing VenueSharing) *ConflictIndex {
	if sharing == "" {
		sharing = VenueSharingExclusive
	}
	return &ConflictIndex{
		sharing:   sharing,
		students:  make(map[string]map[slotKey]struct{}),
		lecturers: make(map[string]map[slotKey]struct{}),
		cells:     make(map[cellKey]*cellState),
		dateLoad:  make(map[string]int),
	}
}

// CanPlace checks students first, then the lecturer, then the venue cell.
func (ix *ConflictIndex) CanPlace(session models.ExamSession, slot models.TimeSlot, venue models.Venue) Verdict {
	students, lecturer := ix.peopleConflicts(session, keyOf(slot))
	return ix.verdict(session.StudentCount(), students, lecturer, venue, keyOf(slot))
}

func (ix *ConflictIndex) verdict(seats int, students []string, lecturer bool, venue models.Venue, slot slotKey) Verdict {
	v := Verdict{
		ConflictingStudents: students,
		LecturerConflict:    lecturer,
		RemainingSeats:      ix.remaining(venue.ID, venue.Capacity, slot),
	}
	if venue.Capacity < seats {
		v.CapacityShort = true
	} else if v.RemainingSeats < seats {
		v.VenueOccupied = true
	}
	switch {
	case len(students) > 0:
		v.Reason = models.ReasonStudentConflict
	case lecturer:
		v.Reason = models.ReasonLecturerConflict
	case v.CapacityShort:
		v.Reason = models.ReasonNoVenueCapacity
	case v.VenueOccupied:
		v.Reason = models.ReasonSlotsExhausted
	default:
		v.OK = true
	}
	return v
}

func (ix *ConflictIndex) peopleConflicts(session models.ExamSession, slot slotKey) ([]string, bool) {
	var conflicting []string
	for _, id := range session.StudentIDs {
		if _, busy := ix.students[id][slot]; busy {
			conflicting = append(conflicting, id)
		}
	}
	sort.Strings(conflicting)
	lecturer := false
	if session.LecturerID != "" {
		_, lecturer = ix.lecturers[session.LecturerID][slot]
	}
	return conflicting, lecturer
}

// remaining returns the free seats of a cell under the sharing policy.
func (ix *ConflictIndex) remaining(venueID string, capacity int, slot slotKey) int {
	state, ok := ix.cells[cellKey{venueID: venueID, slot: slot}]
	if !ok {
		return capacity
	}
	if ix.sharing == VenueSharingExclusive && state.used > 0 {
		return 0
	}
	free := capacity - state.used
	if free < 0 {
		return 0
	}
	return free
}

// Commit records the session in every cell. Nothing is written unless every check passes.
func (ix *ConflictIndex) Commit(session models.ExamSession, slot models.TimeSlot, cells []models.CellAllocation) error {
	if len(cells) == 0 {
		return fmt.Errorf("commit %s: no venue cells", session.Key())
	}
	key := keyOf(slot)
	students, lecturer := ix.peopleConflicts(session, key)
	if len(students) > 0 {
		return fmt.Errorf("commit %s: %d students already committed at %s slot %d", session.Key(), len(students), key.date, key.number)
	}
	if lecturer {
		return fmt.Errorf("commit %s: lecturer %s already committed at %s slot %d", session.Key(), session.LecturerID, key.date, key.number)
	}

	seen := make(map[string]struct{}, len(cells))
	seats := 0
	for _, cell := range cells {
		if cell.Date != key.date || cell.SlotNumber != key.number {
			return fmt.Errorf("commit %s: cell %s is outside slot %s/%d", session.Key(), cell.VenueID, key.date, key.number)
		}
		if _, dup := seen[cell.VenueID]; dup {
			return fmt.Errorf("commit %s: venue %s listed twice", session.Key(), cell.VenueID)
		}
		seen[cell.VenueID] = struct{}{}
		if cell.Seats <= 0 {
			return fmt.Errorf("commit %s: venue %s allocates no seats", session.Key(), cell.VenueID)
		}
		if free := ix.remaining(cell.VenueID, cell.Capacity, key); free < cell.Seats {
			return fmt.Errorf("commit %s: venue %s has %d free seats, needs %d", session.Key(), cell.VenueID, free, cell.Seats)
		}
		seats += cell.Seats
	}
	if seats < session.StudentCount() {
		return fmt.Errorf("commit %s: cells seat %d of %d students", session.Key(), seats, session.StudentCount())
	}

	ix.apply(session.Key(), session.StudentIDs, session.LecturerID, key, cells)
	return nil
}

// Seed loads a previously persisted assignment without re-validating it.
func (ix *ConflictIndex) Seed(assignment models.ExamAssignment) error {
	var cells []models.CellAllocation
	if len(assignment.Cells) > 0 {
		if err := json.Unmarshal(assignment.Cells, &cells); err != nil {
			return fmt.Errorf("decode cells of assignment %s: %w", assignment.ID, err)
		}
	}
	ix.apply(assignment.SessionKey, assignment.StudentIDs, assignment.LecturerID, keyOf(assignment.Slot()), cells)
	return nil
}

func (ix *ConflictIndex) apply(sessionKey string, studentIDs []string, lecturerID string, key slotKey, cells []models.CellAllocation) {
	for _, id := range studentIDs {
		mark(ix.students, id, key)
	}
	if lecturerID != "" {
		mark(ix.lecturers, lecturerID, key)
	}
	for _, cell := range cells {
		ck := cellKey{venueID: cell.VenueID, slot: key}
		state, ok := ix.cells[ck]
		if !ok {
			state = &cellState{capacity: cell.Capacity}
			ix.cells[ck] = state
		}
		state.used += cell.Seats
		state.sessions = append(state.sessions, sessionKey)
	}
	ix.dateLoad[key.date]++
}

func mark(index map[string]map[slotKey]struct{}, id string, key slotKey) {
	slots, ok := index[id]
	if !ok {
		slots = make(map[slotKey]struct{})
		index[id] = slots
	}
	slots[key] = struct{}{}
}

// DateLoad returns how many sessions are committed on a date.
func (ix *ConflictIndex) DateLoad(date string) int {
	return ix.dateLoad[date]
}

// Occupants lists the sessions committed to a venue cell in commit order.
func (ix *ConflictIndex) Occupants(venueID string, slot models.TimeSlot) []string {
	state, ok := ix.cells[cellKey{venueID: venueID, slot: keyOf(slot)}]
	if !ok {
		return nil
	}
	out := make([]string, len(state.sessions))
	copy(out, state.sessions)
	return out
}
