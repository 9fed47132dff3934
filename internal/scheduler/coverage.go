package scheduler

import "github.com/noah-isme/exam-scheduler-api/internal/models"

// Coverage records which (unit, class) pairs and (unit, student) pairs already sit an
// exam in the active timetable, whatever session shape placed them.
type Coverage struct {
	classes  map[string]struct{}
	students map[string]struct{}
}

// NewCoverage indexes the active assignments of a semester.
func NewCoverage(active []models.ExamAssignment) *Coverage {
	c := &Coverage{
		classes:  make(map[string]struct{}),
		students: make(map[string]struct{}),
	}
	for _, a := range active {
		for _, classID := range a.ClassIDs {
			c.classes[a.UnitID+"|"+classID] = struct{}{}
		}
		for _, studentID := range a.StudentIDs {
			c.students[a.UnitID+"|"+studentID] = struct{}{}
		}
	}
	return c
}

// Trim drops the classes of session that are already scheduled for its unit, along with
// the students who already sit that unit. It reports false when nothing is left to place.
// A session with no covered class is returned unchanged.
func (c *Coverage) Trim(session models.ExamSession) (models.ExamSession, bool) {
	keep := make([]int, 0, len(session.ClassIDs))
	for i, classID := range session.ClassIDs {
		if _, ok := c.classes[session.UnitID+"|"+classID]; !ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return session, false
	}
	if len(keep) == len(session.ClassIDs) {
		return session, true
	}

	trimmed := session
	trimmed.ClassIDs = make([]string, 0, len(keep))
	trimmed.Snapshot.ClassNames = nil
	for _, i := range keep {
		trimmed.ClassIDs = append(trimmed.ClassIDs, session.ClassIDs[i])
		if i < len(session.Snapshot.ClassNames) {
			trimmed.Snapshot.ClassNames = append(trimmed.Snapshot.ClassNames, session.Snapshot.ClassNames[i])
		}
	}
	trimmed.StudentIDs = make([]string, 0, len(session.StudentIDs))
	for _, studentID := range session.StudentIDs {
		if _, ok := c.students[session.UnitID+"|"+studentID]; !ok {
			trimmed.StudentIDs = append(trimmed.StudentIDs, studentID)
		}
	}
	return trimmed, true
}
