package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type gradeDispatchStore interface {
	EnsurePending(ctx context.Context, grades []models.OpenAnswerGrade) error
	ListUngradedByExam(ctx context.Context, examID string) ([]models.OpenAnswerGrade, error)
}

type responseSource interface {
	FindByID(ctx context.Context, id string) (*models.Response, error)
	ListByExam(ctx context.Context, examID string) ([]models.Response, error)
}

type queuePublisher interface {
	Publish(ctx context.Context, payload interface{}) (string, error)
}

// DispatchService turns answered open questions into grading jobs on the
// queue. Dispatch is a re-scan, not a one-shot: every run enqueues whatever
// has not reached a final score, so a crashed worker or a failed publish
// heals on the next pass.
type DispatchService struct {
	exams     examReader
	responses responseSource
	grades    gradeDispatchStore
	publisher queuePublisher
	metrics   *MetricsService
	logger    *zap.Logger
	model     string
}

// NewDispatchService constructs DispatchService. model names the grading
// model stamped into every job.
func NewDispatchService(exams examReader, responses responseSource, grades gradeDispatchStore, publisher queuePublisher, model string, metrics *MetricsService, logger *zap.Logger) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		exams:     exams,
		responses: responses,
		grades:    grades,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		model:     model,
	}
}

// PublishJob enqueues a single grading job.
func (s *DispatchService) PublishJob(ctx context.Context, job models.GradingJob) (string, error) {
	id, err := s.publisher.Publish(ctx, job)
	if err != nil {
		s.metrics.IncPublishFailure()
		return "", appErrors.Wrap(err, appErrors.ErrPublishFailed.Code, appErrors.ErrPublishFailed.Status, "failed to publish grading job")
	}
	s.metrics.AddJobsPublished(1)
	return id, nil
}

// PublishBatch enqueues jobs one by one and returns the message IDs of the
// successes, in input order. A failed publish is logged and skipped; the
// batch never aborts, the pair stays PENDING and the next dispatch run
// retries it.
func (s *DispatchService) PublishBatch(ctx context.Context, jobs []models.GradingJob) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := s.PublishJob(ctx, job)
		if err != nil {
			s.logger.Sugar().Errorw("failed to publish grading job",
				"exam_id", job.ExamID, "response_id", job.ResponseID, "question_id", job.QuestionID, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// DispatchExam enqueues a grading job for every answered open question of
// the exam that has not reached a final score. Returns the number of jobs
// published.
func (s *DispatchService) DispatchExam(ctx context.Context, examID string) (int, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	open, err := s.openQuestions(ctx, exam.ID)
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}

	responses, err := s.responses.ListByExam(ctx, exam.ID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}

	// Answered open questions only. A question the student skipped keeps
	// its zero credit and never reaches the queue.
	answerText := make(map[string]string)
	var pending []models.OpenAnswerGrade
	for _, response := range responses {
		for _, answer := range response.Answers {
			if _, ok := open[answer.QuestionID]; !ok {
				continue
			}
			answerText[pairKey(response.ID, answer.QuestionID)] = answer.Value
			pending = append(pending, models.OpenAnswerGrade{
				ResponseID: response.ID,
				QuestionID: answer.QuestionID,
				Model:      s.model,
			})
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := s.grades.EnsurePending(ctx, pending); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage grading state")
	}

	ungraded, err := s.grades.ListUngradedByExam(ctx, exam.ID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ungraded answers")
	}

	jobs := make([]models.GradingJob, 0, len(ungraded))
	for _, grade := range ungraded {
		question, ok := open[grade.QuestionID]
		if !ok {
			continue
		}
		text, ok := answerText[pairKey(grade.ResponseID, grade.QuestionID)]
		if !ok {
			continue
		}
		jobs = append(jobs, s.buildJob(exam.ID, question, grade.ResponseID, text))
	}
	ids := s.PublishBatch(ctx, jobs)
	if len(ids) < len(jobs) {
		return len(ids), appErrors.Clone(appErrors.ErrPublishFailed,
			fmt.Sprintf("%d of %d grading jobs not enqueued", len(jobs)-len(ids), len(jobs)))
	}
	return len(ids), nil
}

// DispatchPair re-publishes the job for a single (response, question) pair.
// Used by the rate-limit retry timer.
func (s *DispatchService) DispatchPair(ctx context.Context, responseID, questionID string) error {
	response, err := s.responses.FindByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}
	open, err := s.openQuestions(ctx, response.ExamID)
	if err != nil {
		return err
	}
	question, ok := open[questionID]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "open question not found")
	}
	for _, answer := range response.Answers {
		if answer.QuestionID == questionID {
			_, err := s.PublishJob(ctx, s.buildJob(response.ExamID, question, response.ID, answer.Value))
			return err
		}
	}
	return appErrors.Clone(appErrors.ErrNotFound, "answer not found")
}

func (s *DispatchService) openQuestions(ctx context.Context, examID string) (map[string]models.Question, error) {
	questions, err := s.exams.ListQuestions(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questions")
	}
	open := make(map[string]models.Question)
	for _, question := range questions {
		if question.Type == models.QuestionTypeOpen {
			open[question.ID] = question
		}
	}
	return open, nil
}

func (s *DispatchService) buildJob(examID string, question models.Question, responseID, studentAnswer string) models.GradingJob {
	return models.GradingJob{
		ResponseID:     responseID,
		ExamID:         examID,
		QuestionID:     question.ID,
		QuestionType:   question.Type,
		QuestionText:   question.Text,
		StudentAnswer:  studentAnswer,
		ExpectedAnswer: question.ExpectedAnswer,
		Model:          s.model,
	}
}

func pairKey(responseID, questionID string) string {
	return responseID + "/" + questionID
}
