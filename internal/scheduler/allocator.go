package scheduler

import (
	"fmt"
	"sort"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

// Placement is a committed binding of a session to one or more cells of a slot.
type Placement struct {
	Slot  models.TimeSlot
	Cells []models.CellAllocation
}

// Attempt is the cell shown to administrators for a failed session.
type Attempt struct {
	Slot    models.TimeSlot
	VenueID string
}

// Failure describes why a session could not be placed. It is data, not an error.
type Failure struct {
	Reason  models.ReasonCode
	Message string
	Attempt *Attempt
	Details models.ConflictDetails
}

// Outcome is the result of placing one session: exactly one of Placement or Failure is set.
type Outcome struct {
	Session   models.ExamSession
	Placement *Placement
	Failure   *Failure
}

// Placed reports whether the session was committed.
func (o Outcome) Placed() bool {
	return o.Placement != nil
}

type candidate struct {
	slot    models.TimeSlot
	venueID string
	verdict Verdict
}

// Allocator searches slots and venues for one session at a time and commits the first
// feasible cell into its conflict index.
type Allocator struct {
	policy Policy
	index  *ConflictIndex
	dates  []string
	slots  map[string][]models.TimeSlot
	venues []models.Venue
}

// NewAllocator snapshots slots and venues in enumeration order: dates ascending, slot
// numbers ascending, venues by capacity descending then id ascending.
func NewAllocator(index *ConflictIndex, slots []models.TimeSlot, venues []models.Venue, policy Policy) *Allocator {
	if policy.MaxVenuesPerSession < 1 {
		policy.MaxVenuesPerSession = 1
	}
	byDate := make(map[string][]models.TimeSlot)
	var dates []string
	for _, slot := range slots {
		key := slot.DateKey()
		if _, ok := byDate[key]; !ok {
			dates = append(dates, key)
		}
		byDate[key] = append(byDate[key], slot)
	}
	sort.Strings(dates)
	for _, key := range dates {
		list := byDate[key]
		sort.SliceStable(list, func(i, j int) bool { return list[i].SlotNumber < list[j].SlotNumber })
	}

	ordered := make([]models.Venue, len(venues))
	copy(ordered, venues)
	SortVenues(ordered)

	return &Allocator{
		policy: policy,
		index:  index,
		dates:  dates,
		slots:  byDate,
		venues: ordered,
	}
}

// SortVenues orders venues largest first, ties broken by ascending id.
func SortVenues(venues []models.Venue) {
	sort.SliceStable(venues, func(i, j int) bool {
		if venues[i].Capacity != venues[j].Capacity {
			return venues[i].Capacity > venues[j].Capacity
		}
		return venues[i].ID < venues[j].ID
	})
}

// OrderQueue sorts sessions largest roster first, then by unit id and session key.
func OrderQueue(sessions []models.ExamSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StudentCount() != sessions[j].StudentCount() {
			return sessions[i].StudentCount() > sessions[j].StudentCount()
		}
		if sessions[i].UnitID != sessions[j].UnitID {
			return sessions[i].UnitID < sessions[j].UnitID
		}
		return sessions[i].Key() < sessions[j].Key()
	})
}

// Place finds the first feasible cell for the session and commits it, or reports why
// none exists.
func (a *Allocator) Place(session models.ExamSession) Outcome {
	out := Outcome{Session: session}
	seats := session.StudentCount()
	if seats == 0 {
		out.Failure = ReferenceFailure("session has no enrolled students", nil, "")
		return out
	}

	if largest, reachable := a.reachableCapacity(); reachable < seats {
		out.Failure = a.capacityFailure(seats, largest)
		return out
	}

	var (
		best  *candidate
		last  *models.TimeSlot
		tried int
	)
	for _, date := range a.dateOrder() {
		for _, slot := range a.slots[date] {
			slot := slot
			if !fitsDuration(slot, session.DurationMinutes) {
				continue
			}
			last = &slot
			key := keyOf(slot)
			students, lecturer := a.index.peopleConflicts(session, key)

			for _, venue := range a.venues {
				if venue.Capacity < seats || !venue.AvailableAt(slot) {
					continue
				}
				tried++
				verdict := a.index.verdict(seats, students, lecturer, venue, key)
				if verdict.OK {
					cells := []models.CellAllocation{cellFor(venue, slot, seats)}
					if err := a.index.Commit(session, slot, cells); err == nil {
						out.Placement = &Placement{Slot: slot, Cells: cells}
						return out
					}
					continue
				}
				if best == nil || verdict.violations() < best.verdict.violations() {
					best = &candidate{slot: slot, venueID: venue.ID, verdict: verdict}
				}
			}

			if a.policy.MaxVenuesPerSession > 1 {
				cells, c, ok := a.combine(seats, students, lecturer, slot)
				if c != nil {
					tried++
				}
				if ok {
					if err := a.index.Commit(session, slot, cells); err == nil {
						out.Placement = &Placement{Slot: slot, Cells: cells}
						return out
					}
				}
				if c != nil && (best == nil || c.verdict.violations() < best.verdict.violations()) {
					best = c
				}
			}
		}
	}

	out.Failure = a.exhaustedFailure(session, best, last, tried)
	return out
}

// combine greedily takes free venues of one slot, largest first, until the roster fits.
// The returned candidate is nil when no multi-venue attempt was possible.
func (a *Allocator) combine(seats int, students []string, lecturer bool, slot models.TimeSlot) ([]models.CellAllocation, *candidate, bool) {
	key := keyOf(slot)
	var (
		cells  []models.CellAllocation
		first  string
		left   = seats
		usable int
	)
	for _, venue := range a.venues {
		if !venue.AvailableAt(slot) {
			continue
		}
		usable++
		if first == "" {
			first = venue.ID
		}
		if len(cells) == a.policy.MaxVenuesPerSession || left == 0 {
			continue
		}
		free := a.index.remaining(venue.ID, venue.Capacity, key)
		if free <= 0 {
			continue
		}
		take := free
		if take > left {
			take = left
		}
		cell := cellFor(venue, slot, take)
		cells = append(cells, cell)
		left -= take
	}
	if usable < 2 {
		return nil, nil, false
	}
	verdict := Verdict{ConflictingStudents: students, LecturerConflict: lecturer, VenueOccupied: left > 0}
	switch {
	case len(students) > 0:
		verdict.Reason = models.ReasonStudentConflict
	case lecturer:
		verdict.Reason = models.ReasonLecturerConflict
	case left > 0:
		verdict.Reason = models.ReasonSlotsExhausted
	default:
		verdict.OK = true
	}
	c := &candidate{slot: slot, venueID: first, verdict: verdict}
	return cells, c, verdict.OK
}

func (a *Allocator) dateOrder() []string {
	dates := make([]string, len(a.dates))
	copy(dates, a.dates)
	if a.policy.DateOrder == DateOrderSpread {
		sort.SliceStable(dates, func(i, j int) bool {
			li, lj := a.index.DateLoad(dates[i]), a.index.DateLoad(dates[j])
			if li != lj {
				return li < lj
			}
			return dates[i] < dates[j]
		})
	}
	return dates
}

// reachableCapacity returns the largest single venue and the most seats the policy can
// ever combine for one session.
func (a *Allocator) reachableCapacity() (int, int) {
	if len(a.venues) == 0 {
		return 0, 0
	}
	largest := a.venues[0].Capacity
	total := 0
	for i, venue := range a.venues {
		if i == a.policy.MaxVenuesPerSession {
			break
		}
		total += venue.Capacity
	}
	return largest, total
}

func (a *Allocator) capacityFailure(seats, largest int) *Failure {
	f := &Failure{
		Reason: models.ReasonNoVenueCapacity,
		Details: models.ConflictDetails{
			Version: models.ConflictDetailsVersion,
			Reason:  models.ReasonNoVenueCapacity,
			Capacity: &models.CapacityConflictDetail{
				RequiredSeats:   seats,
				LargestCapacity: largest,
				MaxVenues:       a.policy.MaxVenuesPerSession,
			},
		},
	}
	if a.policy.MaxVenuesPerSession > 1 {
		f.Message = fmt.Sprintf("no combination of %d venues can seat %d students", a.policy.MaxVenuesPerSession, seats)
	} else {
		f.Message = fmt.Sprintf("no venue can seat %d students (largest capacity %d)", seats, largest)
	}
	if len(a.dates) > 0 && len(a.venues) > 0 {
		f.Attempt = &Attempt{Slot: a.slots[a.dates[0]][0], VenueID: a.venues[0].ID}
	}
	return f
}

func (a *Allocator) exhaustedFailure(session models.ExamSession, best *candidate, last *models.TimeSlot, tried int) *Failure {
	f := &Failure{}
	if best == nil {
		f.Reason = models.ReasonSlotsExhausted
		f.Message = fmt.Sprintf("no exam slot of at least %d minutes has a venue available for %d students", session.DurationMinutes, session.StudentCount())
		f.Details = models.ConflictDetails{
			Version:   models.ConflictDetailsVersion,
			Reason:    models.ReasonSlotsExhausted,
			Exhausted: &models.ExhaustedConflictDetail{CandidatesTried: tried},
		}
		if last != nil {
			f.Attempt = &Attempt{Slot: *last}
		}
		return f
	}

	f.Attempt = &Attempt{Slot: best.slot, VenueID: best.venueID}
	v := best.verdict
	where := fmt.Sprintf("%s slot %d", best.slot.DateKey(), best.slot.SlotNumber)
	venueBlocked := v.VenueOccupied || v.CapacityShort

	switch {
	case len(v.ConflictingStudents) > 0 && !v.LecturerConflict && !venueBlocked:
		f.Reason = models.ReasonStudentConflict
		f.Message = fmt.Sprintf("%d students already sit another exam at %s", len(v.ConflictingStudents), where)
		f.Details = models.ConflictDetails{
			Version:  models.ConflictDetailsVersion,
			Reason:   models.ReasonStudentConflict,
			Students: &models.StudentConflictDetail{StudentIDs: v.ConflictingStudents, VenueID: best.venueID},
		}
	case v.LecturerConflict && len(v.ConflictingStudents) == 0 && !venueBlocked:
		f.Reason = models.ReasonLecturerConflict
		f.Message = fmt.Sprintf("lecturer %s already has an exam at %s", session.LecturerID, where)
		f.Details = models.ConflictDetails{
			Version:  models.ConflictDetailsVersion,
			Reason:   models.ReasonLecturerConflict,
			Lecturer: &models.LecturerConflictDetail{LecturerID: session.LecturerID, VenueID: best.venueID},
		}
	default:
		f.Reason = models.ReasonSlotsExhausted
		f.Message = fmt.Sprintf("all %d candidate cells were taken or conflicting; closest was %s", tried, where)
		f.Details = models.ConflictDetails{
			Version: models.ConflictDetailsVersion,
			Reason:  models.ReasonSlotsExhausted,
			Exhausted: &models.ExhaustedConflictDetail{
				CandidatesTried:       tried,
				ConflictingStudentIDs: v.ConflictingStudents,
				LecturerConflict:      v.LecturerConflict,
				VenueOccupied:         venueBlocked,
				VenueID:               best.venueID,
			},
		}
	}
	return f
}

// ReferenceFailure builds an INVALID_REFERENCE failure for sessions whose source records
// no longer resolve.
func ReferenceFailure(message string, missingClassIDs []string, missingUnitID string) *Failure {
	return &Failure{
		Reason:  models.ReasonInvalidReference,
		Message: message,
		Details: models.ConflictDetails{
			Version: models.ConflictDetailsVersion,
			Reason:  models.ReasonInvalidReference,
			Reference: &models.ReferenceConflictDetail{
				MissingClassIDs: missingClassIDs,
				MissingUnitID:   missingUnitID,
				Message:         message,
			},
		},
	}
}

func fitsDuration(slot models.TimeSlot, required int) bool {
	if required <= 0 {
		return true
	}
	length := slot.DurationMinutes()
	return length == 0 || length >= required
}

func cellFor(venue models.Venue, slot models.TimeSlot, seats int) models.CellAllocation {
	return models.CellAllocation{
		VenueID:    venue.ID,
		VenueName:  venue.Name,
		Date:       slot.DateKey(),
		SlotNumber: slot.SlotNumber,
		Capacity:   venue.Capacity,
		Seats:      seats,
	}
}
