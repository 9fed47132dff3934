package scheduler

import (
	"sort"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

type sessionGroup struct {
	unitID     string
	lecturerID string
	offerings  []models.ClassUnitOffering
}

// BuildSessions groups class offerings by unit and lecturer into exam sessions. The
// roster is the sorted union of the class rosters, so a student enrolled in two of the
// classes is counted once.
func BuildSessions(offerings []models.ClassUnitOffering, enrollments []models.ClassEnrollment) []models.ExamSession {
	rosters := make(map[string][]string)
	for _, e := range enrollments {
		rosters[e.ClassID] = append(rosters[e.ClassID], e.StudentID)
	}

	groups := make(map[string]*sessionGroup)
	var order []string
	for _, o := range offerings {
		key := o.UnitID + "|" + o.LecturerID
		g, ok := groups[key]
		if !ok {
			g = &sessionGroup{unitID: o.UnitID, lecturerID: o.LecturerID}
			groups[key] = g
			order = append(order, key)
		}
		g.offerings = append(g.offerings, o)
	}
	sort.Strings(order)

	sessions := make([]models.ExamSession, 0, len(order))
	for _, key := range order {
		sessions = append(sessions, buildSession(groups[key], rosters))
	}
	return sessions
}

func buildSession(g *sessionGroup, rosters map[string][]string) models.ExamSession {
	offerings := make([]models.ClassUnitOffering, 0, len(g.offerings))
	seenClass := make(map[string]struct{}, len(g.offerings))
	for _, o := range g.offerings {
		if _, dup := seenClass[o.ClassID]; dup {
			continue
		}
		seenClass[o.ClassID] = struct{}{}
		offerings = append(offerings, o)
	}
	sort.SliceStable(offerings, func(i, j int) bool { return offerings[i].ClassID < offerings[j].ClassID })

	first := offerings[0]
	session := models.ExamSession{
		UnitID:          g.unitID,
		LecturerID:      g.lecturerID,
		DurationMinutes: first.DurationMinutes,
		ProgramID:       first.ProgramID,
		SchoolID:        first.SchoolID,
		Snapshot: models.SessionSnapshot{
			UnitCode: first.UnitCode,
			UnitName: first.UnitName,
		},
	}

	students := make(map[string]struct{})
	for _, o := range offerings {
		session.ClassIDs = append(session.ClassIDs, o.ClassID)
		session.Snapshot.ClassNames = append(session.Snapshot.ClassNames, o.ClassName)
		if !sameOptional(session.ProgramID, o.ProgramID) {
			session.ProgramID = nil
		}
		if !sameOptional(session.SchoolID, o.SchoolID) {
			session.SchoolID = nil
		}
		if o.DurationMinutes > session.DurationMinutes {
			session.DurationMinutes = o.DurationMinutes
		}
		for _, id := range rosters[o.ClassID] {
			students[id] = struct{}{}
		}
	}
	session.StudentIDs = make([]string, 0, len(students))
	for id := range students {
		session.StudentIDs = append(session.StudentIDs, id)
	}
	sort.Strings(session.StudentIDs)
	return session
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MatchSession finds the current session for a previously failed unit and class set.
// The same unit and lecturer covering every original class is preferred; otherwise any
// session of the unit covering the classes is accepted.
func MatchSession(sessions []models.ExamSession, unitID, lecturerID string, classIDs []string) (models.ExamSession, bool) {
	var fallback *models.ExamSession
	for i := range sessions {
		s := sessions[i]
		if s.UnitID != unitID || !covers(s.ClassIDs, classIDs) {
			continue
		}
		if s.LecturerID == lecturerID {
			return s, true
		}
		if fallback == nil {
			fallback = &sessions[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return models.ExamSession{}, false
}

func covers(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// MissingIDs returns the ids of want that are not in have, in want order.
func MissingIDs(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	var missing []string
	for _, id := range want {
		if _, ok := set[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
