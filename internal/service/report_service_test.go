package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/pkg/config"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type mockClassStore struct {
	classes map[string]models.Class
}

func (m *mockClassStore) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &class, nil
}

type mockEnrollmentStore struct {
	byClass map[string][]models.Enrollment
}

func (m *mockEnrollmentStore) ListByClass(ctx context.Context, classID string) ([]models.Enrollment, error) {
	return m.byClass[classID], nil
}

type mockEvaluationStore struct {
	byEnrollment map[string][]models.EvaluationEntry
}

func (m *mockEvaluationStore) FetchByEnrollments(ctx context.Context, enrollmentIDs []string) (map[string][]models.EvaluationEntry, error) {
	result := make(map[string][]models.EvaluationEntry)
	for _, id := range enrollmentIDs {
		if entries, ok := m.byEnrollment[id]; ok {
			result[id] = entries
		}
	}
	return result, nil
}

type stubSpecProvider struct {
	spec *models.GradeSpec
}

func (s *stubSpecProvider) GetForClass(ctx context.Context, classID string) (*models.GradeSpec, error) {
	return s.spec, nil
}

type stubExamGrader struct {
	grades map[string]float64
}

func (s *stubExamGrader) FinalGradesByClass(ctx context.Context, classID string) (map[string]float64, error) {
	return s.grades, nil
}

func testPolicy() config.ReportConfig {
	return config.ReportConfig{
		ApproveMin:     7.0,
		FinalBandMin:   5.0,
		ExamPassMin:    70.0,
		MaxAbsenceRate: 0.25,
	}
}

func testSpec(t *testing.T) *models.GradeSpec {
	t.Helper()
	spec, err := models.NewGradeSpec(
		map[string]float64{"G1": 1, "G2": 1, "G3": 1},
		map[string]float64{"MA": 10, "MPA": 7, "MANA": 0},
	)
	require.NoError(t, err)
	return spec
}

func teacherEval(enrollmentID string, concepts map[string]string) []models.EvaluationEntry {
	var entries []models.EvaluationEntry
	for goal, concept := range concepts {
		entries = append(entries, models.EvaluationEntry{
			EnrollmentID: enrollmentID,
			Kind:         models.EvaluationKindTeacher,
			Goal:         goal,
			Concept:      concept,
		})
	}
	return entries
}

func TestGetReportClassifiesStudents(t *testing.T) {
	classes := &mockClassStore{classes: map[string]models.Class{"class-1": {ID: "class-1", Name: "3A"}}}
	enrollments := &mockEnrollmentStore{byClass: map[string][]models.Enrollment{"class-1": {
		{ID: "e1", StudentID: "alice", StudentName: "Alice", ClassID: "class-1", AbsenceRate: 0.05},
		{ID: "e2", StudentID: "bruno", StudentName: "Bruno", ClassID: "class-1", AbsenceRate: 0.10},
		{ID: "e3", StudentID: "carla", StudentName: "Carla", ClassID: "class-1", AbsenceRate: 0.10},
		{ID: "e4", StudentID: "diego", StudentName: "Diego", ClassID: "class-1", AbsenceRate: 0.00},
		{ID: "e5", StudentID: "elena", StudentName: "Elena", ClassID: "class-1", AbsenceRate: 0.40},
	}}}
	evaluations := &mockEvaluationStore{byEnrollment: map[string][]models.EvaluationEntry{
		"e1": teacherEval("e1", map[string]string{"G1": "MA", "G2": "MA", "G3": "MA"}),
		"e2": teacherEval("e2", map[string]string{"G1": "MA", "G2": "MPA", "G3": "MANA"}),
		"e3": teacherEval("e3", map[string]string{"G1": "MA", "G2": "MPA", "G3": "MANA"}),
		// Diego has a full self evaluation but only one teacher entry.
		"e4": append(
			teacherEval("e4", map[string]string{"G1": "MA"}),
			models.EvaluationEntry{EnrollmentID: "e4", Kind: models.EvaluationKindSelf, Goal: "G2", Concept: "MA"},
			models.EvaluationEntry{EnrollmentID: "e4", Kind: models.EvaluationKindSelf, Goal: "G3", Concept: "MA"},
		),
		"e5": teacherEval("e5", map[string]string{"G1": "MA", "G2": "MA", "G3": "MA"}),
	}}
	examGrades := &stubExamGrader{grades: map[string]float64{
		"alice": 80, "bruno": 75, "carla": 50, "elena": 90,
	}}

	svc := NewReportService(classes, enrollments, evaluations, &stubSpecProvider{spec: testSpec(t)}, examGrades, testPolicy(), zap.NewNop())

	report, err := svc.GetReport(context.Background(), "class-1")
	require.NoError(t, err)
	require.Len(t, report.Students, 5)

	byID := make(map[string]models.StudentReportRow)
	for _, row := range report.Students {
		byID[row.StudentID] = row
	}

	assert.Equal(t, models.StudentStatusApproved, byID["alice"].Status)
	assert.InDelta(t, 10.0, *byID["alice"].FinalGrade, 0.0001)

	assert.Equal(t, models.StudentStatusApprovedFinal, byID["bruno"].Status, "band grade with passing exam")
	assert.InDelta(t, 17.0/3.0, *byID["bruno"].FinalGrade, 0.0001)

	assert.Equal(t, models.StudentStatusFailed, byID["carla"].Status, "band grade without passing exam")

	assert.Equal(t, models.StudentStatusPending, byID["diego"].Status, "self evaluation never completes a teacher evaluation")
	assert.Nil(t, byID["diego"].FinalGrade)

	assert.Equal(t, models.StudentStatusFailedByAbsence, byID["elena"].Status, "absence trumps a passing grade")

	assert.Equal(t, models.ReportCounts{
		Approved: 1, ApprovedFinal: 1, Failed: 1, FailedByAbsence: 1, Pending: 1,
	}, report.Counts)

	require.NotNil(t, report.StudentsAverage)
	assert.InDelta(t, 94.0/12.0, *report.StudentsAverage, 0.0001)
}

func TestGetReportGoalPerformance(t *testing.T) {
	classes := &mockClassStore{classes: map[string]models.Class{"class-1": {ID: "class-1"}}}
	enrollments := &mockEnrollmentStore{byClass: map[string][]models.Enrollment{"class-1": {
		{ID: "e1", StudentID: "alice", StudentName: "Alice"},
		{ID: "e2", StudentID: "bruno", StudentName: "Bruno"},
	}}}
	evaluations := &mockEvaluationStore{byEnrollment: map[string][]models.EvaluationEntry{
		"e1": teacherEval("e1", map[string]string{"G1": "MA", "G2": "MA", "G3": "MA"}),
		"e2": teacherEval("e2", map[string]string{"G1": "MA", "G2": "MPA", "G3": "MANA"}),
	}}

	svc := NewReportService(classes, enrollments, evaluations, &stubSpecProvider{spec: testSpec(t)}, &stubExamGrader{}, testPolicy(), zap.NewNop())

	report, err := svc.GetReport(context.Background(), "class-1")
	require.NoError(t, err)
	require.Len(t, report.Goals, 3)

	assert.Equal(t, "G1", report.Goals[0].Goal)
	assert.Equal(t, 2, report.Goals[0].EvaluatedCount)
	assert.InDelta(t, 10.0, *report.Goals[0].Average, 0.0001)
	assert.Equal(t, map[string]int{"MA": 2}, report.Goals[0].Distribution)

	assert.Equal(t, "G2", report.Goals[1].Goal)
	assert.InDelta(t, 8.5, *report.Goals[1].Average, 0.0001)
	assert.Equal(t, map[string]int{"MA": 1, "MPA": 1}, report.Goals[1].Distribution)

	assert.Equal(t, "G3", report.Goals[2].Goal)
	assert.InDelta(t, 5.0, *report.Goals[2].Average, 0.0001)
	assert.Equal(t, map[string]int{"MA": 1, "MANA": 1}, report.Goals[2].Distribution)
}

func TestGetReportIsolatesBrokenStudent(t *testing.T) {
	classes := &mockClassStore{classes: map[string]models.Class{"class-1": {ID: "class-1"}}}
	enrollments := &mockEnrollmentStore{byClass: map[string][]models.Enrollment{"class-1": {
		{ID: "e1", StudentID: "alice", StudentName: "Alice"},
		{ID: "e2", StudentID: "frank", StudentName: "Frank"},
	}}}
	evaluations := &mockEvaluationStore{byEnrollment: map[string][]models.EvaluationEntry{
		"e1": teacherEval("e1", map[string]string{"G1": "MA", "G2": "MA", "G3": "MA"}),
		// Concept the spec does not know; Frank stays PENDING.
		"e2": teacherEval("e2", map[string]string{"G1": "MA", "G2": "MA", "G3": "XX"}),
	}}

	svc := NewReportService(classes, enrollments, evaluations, &stubSpecProvider{spec: testSpec(t)}, &stubExamGrader{}, testPolicy(), zap.NewNop())

	report, err := svc.GetReport(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts.Approved)
	assert.Equal(t, 1, report.Counts.Pending)
}

func TestGetReportUnknownClass(t *testing.T) {
	svc := NewReportService(&mockClassStore{}, &mockEnrollmentStore{}, &mockEvaluationStore{}, &stubSpecProvider{spec: testSpec(t)}, &stubExamGrader{}, testPolicy(), zap.NewNop())

	_, err := svc.GetReport(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGetReportEmptyClass(t *testing.T) {
	classes := &mockClassStore{classes: map[string]models.Class{"class-1": {ID: "class-1"}}}
	svc := NewReportService(classes, &mockEnrollmentStore{}, &mockEvaluationStore{}, &stubSpecProvider{spec: testSpec(t)}, &stubExamGrader{}, testPolicy(), zap.NewNop())

	report, err := svc.GetReport(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Empty(t, report.Students)
	assert.Nil(t, report.StudentsAverage)
	assert.Len(t, report.Goals, 3, "goal axes exist even with nobody evaluated")
	for _, goal := range report.Goals {
		assert.Nil(t, goal.Average)
		assert.Zero(t, goal.EvaluatedCount)
	}
}
