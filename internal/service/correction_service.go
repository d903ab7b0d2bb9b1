package service

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type examReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	ListByClass(ctx context.Context, classID string) ([]models.Exam, error)
	ListQuestions(ctx context.Context, examID string) ([]models.Question, error)
}

type responseReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.Response, error)
}

type openGradeFetcher interface {
	FetchByResponses(ctx context.Context, responseIDs []string) (map[string][]models.OpenAnswerGrade, error)
}

type examDispatcher interface {
	DispatchExam(ctx context.Context, examID string) (int, error)
}

// CorrectionService scores closed questions deterministically and combines
// them with whatever open-question scores have already arrived. Open
// questions still in flight count as zero until their callback lands, so a
// grade read is always a snapshot, never blocked on the queue.
type CorrectionService struct {
	exams        examReader
	responses    responseReader
	openGrades   openGradeFetcher
	dispatcher   examDispatcher
	metrics      *MetricsService
	logger       *zap.Logger
	roundingMode func(float64) float64
}

// NewCorrectionService constructs CorrectionService. The dispatcher may be
// nil for read-only callers.
func NewCorrectionService(exams examReader, responses responseReader, openGrades openGradeFetcher, dispatcher examDispatcher, metrics *MetricsService, logger *zap.Logger) *CorrectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectionService{
		exams:        exams,
		responses:    responses,
		openGrades:   openGrades,
		dispatcher:   dispatcher,
		metrics:      metrics,
		logger:       logger,
		roundingMode: func(v float64) float64 { return math.Round(v*10) / 10 },
	}
}

// CorrectExam runs a correction pass over every response to the exam:
// closed questions are scored synchronously, open questions are handed to
// the dispatcher for asynchronous grading.
func (s *CorrectionService) CorrectExam(ctx context.Context, examID string) (*models.ExamCorrectionResult, error) {
	grades, err := s.gradeExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncCorrectionRuns()

	if s.dispatcher != nil {
		dispatched, err := s.dispatcher.DispatchExam(ctx, examID)
		if err != nil {
			// Publish failures never abort the run; a later re-scan
			// picks up whatever was not enqueued.
			s.logger.Sugar().Warnw("open question dispatch incomplete", "exam_id", examID, "error", err)
		} else if dispatched > 0 {
			s.logger.Sugar().Infow("open questions dispatched", "exam_id", examID, "jobs", dispatched)
		}
	}

	return &models.ExamCorrectionResult{
		ExamID:         examID,
		CorrectedCount: len(grades),
		Results:        grades,
	}, nil
}

// GetAnswersForExam returns the current grade of every response to the
// exam. Empty list, never nil, when nobody has responded.
func (s *CorrectionService) GetAnswersForExam(ctx context.Context, examID string) ([]models.ResponseGrade, error) {
	return s.gradeExam(ctx, examID)
}

// FinalGradesByClass averages each student's response grades across all of
// the class's exams. Students without any response are absent from the map.
func (s *CorrectionService) FinalGradesByClass(ctx context.Context, classID string) (map[string]float64, error) {
	exams, err := s.exams.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class exams")
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, exam := range exams {
		grades, err := s.gradeExam(ctx, exam.ID)
		if err != nil {
			return nil, err
		}
		for _, grade := range grades {
			sums[grade.StudentID] += grade.FinalGrade
			counts[grade.StudentID]++
		}
	}
	finals := make(map[string]float64, len(sums))
	for studentID, sum := range sums {
		finals[studentID] = s.roundingMode(sum / float64(counts[studentID]))
	}
	return finals, nil
}

func (s *CorrectionService) gradeExam(ctx context.Context, examID string) ([]models.ResponseGrade, error) {
	if _, err := s.exams.FindByID(ctx, examID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	questions, err := s.exams.ListQuestions(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questions")
	}
	responses, err := s.responses.ListByExam(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}

	grades := make([]models.ResponseGrade, 0, len(responses))
	if len(responses) == 0 {
		return grades, nil
	}

	responseIDs := make([]string, len(responses))
	for i, response := range responses {
		responseIDs[i] = response.ID
	}
	openGrades, err := s.openGrades.FetchByResponses(ctx, responseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grading state")
	}

	for _, response := range responses {
		grades = append(grades, s.gradeResponse(questions, response, openGrades[response.ID]))
	}
	return grades, nil
}

// gradeResponse computes per-question credit on a 0-100 scale. Every
// question of the exam sits in the denominator: a skipped question dilutes
// the average exactly like a wrong one.
func (s *CorrectionService) gradeResponse(questions []models.Question, response models.Response, openGrades []models.OpenAnswerGrade) models.ResponseGrade {
	answers := make(map[string]models.Answer, len(response.Answers))
	for _, answer := range response.Answers {
		answers[answer.QuestionID] = answer
	}
	graded := make(map[string]float64, len(openGrades))
	for _, grade := range openGrades {
		if grade.Status == models.GradingStatusGraded && grade.Score != nil {
			graded[grade.QuestionID] = *grade.Score
		}
	}

	credits := make(map[string]float64, len(questions))
	total := 0.0
	for _, question := range questions {
		credit := 0.0
		switch question.Type {
		case models.QuestionTypeClosed:
			if answer, ok := answers[question.ID]; ok {
				credit = closedCredit(question, answer)
			}
		case models.QuestionTypeOpen:
			if score, ok := graded[question.ID]; ok {
				credit = score
			}
		}
		credits[question.ID] = credit
		total += credit
	}

	grade := models.ResponseGrade{
		ResponseID: response.ID,
		StudentID:  response.StudentID,
		ExamID:     response.ExamID,
		Credits:    credits,
	}
	if len(questions) > 0 {
		grade.FinalGrade = s.roundingMode(total / float64(len(questions)))
	}
	return grade
}

// closedCredit is the fraction of the question's correct options the
// student selected, scaled to 100. Selecting wrong options earns nothing
// but costs nothing either.
func closedCredit(question models.Question, answer models.Answer) float64 {
	correct := make(map[string]bool, len(question.Options))
	correctCount := 0
	for _, option := range question.Options {
		if option.Correct {
			correct[option.ID] = true
			correctCount++
		}
	}
	if correctCount == 0 {
		return 0
	}
	matched := 0
	for _, optionID := range answer.OptionIDs {
		if correct[optionID] {
			matched++
		}
	}
	return float64(matched) / float64(correctCount) * 100
}
