package scheduler

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-scheduler-api/internal/models"
)

func TestCoverageTrimsClassesScheduledUnderAnotherShape(t *testing.T) {
	coverage := NewCoverage([]models.ExamAssignment{
		{UnitID: "u1", LecturerID: "l1", SessionKey: "u1|l1|cA", ClassIDs: pq.StringArray{"cA"}, StudentIDs: pq.StringArray{"s1", "s2"}},
	})
	full := models.ExamSession{
		UnitID:     "u1",
		LecturerID: "l1",
		ClassIDs:   []string{"cA", "cB"},
		StudentIDs: []string{"s1", "s2", "s3", "s4"},
		Snapshot:   models.SessionSnapshot{UnitCode: "U1", ClassNames: []string{"A", "B"}},
	}

	trimmed, ok := coverage.Trim(full)
	require.True(t, ok)
	assert.Equal(t, []string{"cB"}, trimmed.ClassIDs)
	assert.Equal(t, []string{"B"}, trimmed.Snapshot.ClassNames)
	assert.Equal(t, []string{"s3", "s4"}, trimmed.StudentIDs)
	assert.Equal(t, "u1|l1|cB", trimmed.Key())
	assert.Equal(t, []string{"cA", "cB"}, full.ClassIDs, "input left untouched")
}

func TestCoverageTrimReportsFullyCoveredSession(t *testing.T) {
	coverage := NewCoverage([]models.ExamAssignment{
		{UnitID: "u1", ClassIDs: pq.StringArray{"cA"}},
		{UnitID: "u1", ClassIDs: pq.StringArray{"cB"}},
	})

	_, ok := coverage.Trim(models.ExamSession{UnitID: "u1", LecturerID: "l2", ClassIDs: []string{"cA", "cB"}})
	assert.False(t, ok)

	other := models.ExamSession{UnitID: "u2", LecturerID: "l1", ClassIDs: []string{"cA"}, StudentIDs: []string{"s1"}}
	got, ok := coverage.Trim(other)
	require.True(t, ok)
	assert.Equal(t, other, got, "coverage is per unit")
}
