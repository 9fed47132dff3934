package scheduler

import (
	"fmt"
	"sort"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

// ScopeInput is everything one scope would touch during a batch.
type ScopeInput struct {
	Key      string
	Sessions []models.ExamSession
	Venues   []models.Venue
}

// OverlapError reports the first resource shared by two scopes.
type OverlapError struct {
	Kind   string
	ID     string
	ScopeA string
	ScopeB string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s %s is shared by scopes %s and %s", e.Kind, e.ID, e.ScopeA, e.ScopeB)
}

// CheckDisjoint proves that no student, lecturer or venue appears in more than one scope.
// Scopes are inspected in key order so the reported overlap is stable.
func CheckDisjoint(scopes []ScopeInput) error {
	ordered := make([]ScopeInput, len(scopes))
	copy(ordered, scopes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Key < ordered[j].Key })

	students := make(map[string]string)
	lecturers := make(map[string]string)
	venues := make(map[string]string)

	claim := func(owners map[string]string, kind, id, scope string) error {
		if prev, ok := owners[id]; ok && prev != scope {
			return &OverlapError{Kind: kind, ID: id, ScopeA: prev, ScopeB: scope}
		}
		owners[id] = scope
		return nil
	}

	for _, scope := range ordered {
		for _, session := range scope.Sessions {
			for _, id := range session.StudentIDs {
				if err := claim(students, "student", id, scope.Key); err != nil {
					return err
				}
			}
			if session.LecturerID != "" {
				if err := claim(lecturers, "lecturer", session.LecturerID, scope.Key); err != nil {
					return err
				}
			}
		}
		for _, venue := range scope.Venues {
			if err := claim(venues, "venue", venue.ID, scope.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// VenuesOwnedBy filters venues to the pool of one program. Shared venues (no owner) are
// returned separately because they make scopes overlap.
func VenuesOwnedBy(venues []models.Venue, programID string) (owned []models.Venue, shared []models.Venue) {
	for _, v := range venues {
		switch {
		case v.ProgramID == nil:
			shared = append(shared, v)
		case *v.ProgramID == programID:
			owned = append(owned, v)
		}
	}
	return owned, shared
}
