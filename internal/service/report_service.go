package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/pkg/config"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type enrollmentReader interface {
	ListByClass(ctx context.Context, classID string) ([]models.Enrollment, error)
}

type evaluationReader interface {
	FetchByEnrollments(ctx context.Context, enrollmentIDs []string) (map[string][]models.EvaluationEntry, error)
}

type specProvider interface {
	GetForClass(ctx context.Context, classID string) (*models.GradeSpec, error)
}

type examGrader interface {
	FinalGradesByClass(ctx context.Context, classID string) (map[string]float64, error)
}

// ReportService derives the class report on every call. It only reads, so
// concurrent requests are safe; nothing it produces is persisted.
type ReportService struct {
	classes     classReader
	enrollments enrollmentReader
	evaluations evaluationReader
	specs       specProvider
	exams       examGrader
	policy      config.ReportConfig
	logger      *zap.Logger
}

// NewReportService constructs ReportService. policy carries the deployment's
// approval thresholds.
func NewReportService(classes classReader, enrollments enrollmentReader, evaluations evaluationReader, specs specProvider, exams examGrader, policy config.ReportConfig, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		classes:     classes,
		enrollments: enrollments,
		evaluations: evaluations,
		specs:       specs,
		exams:       exams,
		policy:      policy,
		logger:      logger,
	}
}

// GetReport builds the report snapshot for one class. A student whose
// grade cannot be computed is left PENDING and the rest of the class still
// reports.
func (s *ReportService) GetReport(ctx context.Context, classID string) (*models.ReportData, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	spec, err := s.specs.GetForClass(ctx, class.ID)
	if err != nil {
		return nil, err
	}

	enrollments, err := s.enrollments.ListByClass(ctx, class.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	enrollmentIDs := make([]string, len(enrollments))
	for i, enrollment := range enrollments {
		enrollmentIDs[i] = enrollment.ID
	}
	evaluations, err := s.evaluations.FetchByEnrollments(ctx, enrollmentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluations")
	}

	examGrades, err := s.exams.FinalGradesByClass(ctx, class.ID)
	if err != nil {
		return nil, err
	}

	report := &models.ReportData{
		ClassID:     class.ID,
		GeneratedAt: time.Now().UTC(),
		Students:    make([]models.StudentReportRow, 0, len(enrollments)),
	}

	gradeSum := 0.0
	gradeCount := 0
	goalStats := newGoalStats(spec)

	for _, enrollment := range enrollments {
		teacherEval := teacherEntries(evaluations[enrollment.ID])
		goalStats.observe(teacherEval, spec)

		row := models.StudentReportRow{
			StudentID:   enrollment.StudentID,
			StudentName: enrollment.StudentName,
		}
		if examGrade, ok := examGrades[enrollment.StudentID]; ok {
			g := examGrade
			row.ExamGrade = &g
		}

		row.Status = models.StudentStatusPending
		if len(teacherEval) >= spec.GoalCount() && spec.GoalCount() > 0 {
			final, err := spec.Calc(teacherEval)
			if err != nil {
				s.logger.Sugar().Warnw("student grade not computable",
					"class_id", class.ID, "student_id", enrollment.StudentID, "error", err)
			} else {
				row.FinalGrade = &final
				row.Status = s.classify(final, row.ExamGrade, enrollment.AbsenceRate)
				gradeSum += final
				gradeCount++
			}
		}

		switch row.Status {
		case models.StudentStatusApproved:
			report.Counts.Approved++
		case models.StudentStatusApprovedFinal:
			report.Counts.ApprovedFinal++
		case models.StudentStatusFailed:
			report.Counts.Failed++
		case models.StudentStatusFailedByAbsence:
			report.Counts.FailedByAbsence++
		default:
			report.Counts.Pending++
		}
		report.Students = append(report.Students, row)
	}

	if gradeCount > 0 {
		avg := gradeSum / float64(gradeCount)
		report.StudentsAverage = &avg
	}
	report.Goals = goalStats.summarize(spec)

	return report, nil
}

// classify applies the approval thresholds. Absence trumps grades; the
// approved-final band additionally gates on the exam grade.
func (s *ReportService) classify(final float64, examGrade *float64, absenceRate float64) models.StudentStatus {
	if absenceRate > s.policy.MaxAbsenceRate {
		return models.StudentStatusFailedByAbsence
	}
	if final >= s.policy.ApproveMin {
		return models.StudentStatusApproved
	}
	if final >= s.policy.FinalBandMin && examGrade != nil && *examGrade >= s.policy.ExamPassMin {
		return models.StudentStatusApprovedFinal
	}
	return models.StudentStatusFailed
}

// teacherEntries reduces an enrollment's mixed evaluation entries to the
// goal→concept map the spec consumes. Self evaluations never count toward
// the grade.
func teacherEntries(entries []models.EvaluationEntry) map[string]string {
	result := make(map[string]string)
	for _, entry := range entries {
		if entry.Kind == models.EvaluationKindTeacher {
			result[entry.Goal] = entry.Concept
		}
	}
	return result
}

type goalAccumulator struct {
	sum          float64
	evaluated    int
	distribution map[string]int
}

type goalStatsMap map[string]*goalAccumulator

func newGoalStats(spec *models.GradeSpec) goalStatsMap {
	stats := make(goalStatsMap, spec.GoalCount())
	for goal := range spec.GoalWeights() {
		stats[goal] = &goalAccumulator{distribution: make(map[string]int)}
	}
	return stats
}

func (g goalStatsMap) observe(teacherEval map[string]string, spec *models.GradeSpec) {
	for goal, concept := range teacherEval {
		acc, ok := g[goal]
		if !ok {
			continue
		}
		acc.distribution[concept]++
		if weight, ok := spec.ConceptWeight(concept); ok {
			acc.sum += weight
			acc.evaluated++
		}
	}
}

func (g goalStatsMap) summarize(spec *models.GradeSpec) []models.GoalPerformance {
	goals := make([]string, 0, len(g))
	for goal := range g {
		goals = append(goals, goal)
	}
	sort.Strings(goals)

	result := make([]models.GoalPerformance, 0, len(goals))
	for _, goal := range goals {
		acc := g[goal]
		perf := models.GoalPerformance{
			Goal:           goal,
			EvaluatedCount: acc.evaluated,
			Distribution:   acc.distribution,
		}
		if acc.evaluated > 0 {
			avg := acc.sum / float64(acc.evaluated)
			perf.Average = &avg
		}
		result = append(result, perf)
	}
	return result
}
