package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type mockDispatchGradeStore struct {
	rows map[string]*models.OpenAnswerGrade
}

func (m *mockDispatchGradeStore) EnsurePending(ctx context.Context, grades []models.OpenAnswerGrade) error {
	if m.rows == nil {
		m.rows = make(map[string]*models.OpenAnswerGrade)
	}
	for _, grade := range grades {
		key := grade.ResponseID + "/" + grade.QuestionID
		if _, ok := m.rows[key]; ok {
			continue
		}
		staged := grade
		staged.Status = models.GradingStatusPending
		m.rows[key] = &staged
	}
	return nil
}

func (m *mockDispatchGradeStore) ListUngradedByExam(ctx context.Context, examID string) ([]models.OpenAnswerGrade, error) {
	var result []models.OpenAnswerGrade
	for _, grade := range m.rows {
		if grade.Status == models.GradingStatusPending || grade.Status == models.GradingStatusRateLimited {
			result = append(result, *grade)
		}
	}
	return result, nil
}

type mockQueuePublisher struct {
	published    []models.GradingJob
	failQuestion string
	sequence     int
}

func (m *mockQueuePublisher) Publish(ctx context.Context, payload interface{}) (string, error) {
	job, ok := payload.(models.GradingJob)
	if !ok {
		return "", errors.New("unexpected payload type")
	}
	if m.failQuestion != "" && job.QuestionID == m.failQuestion {
		return "", errors.New("connection refused")
	}
	m.sequence++
	m.published = append(m.published, job)
	return fmt.Sprintf("msg-%d", m.sequence), nil
}

func dispatchFixture(graded bool) (*mockExamStore, *mockResponseStore, *mockDispatchGradeStore) {
	exams := &mockExamStore{
		exams: map[string]models.Exam{"exam-1": {ID: "exam-1"}},
		questions: map[string][]models.Question{"exam-1": {
			closedQuestion("q1", "exam-1", 1, []string{"o1"}, nil),
			{ID: "q2", ExamID: "exam-1", Position: 2, Type: models.QuestionTypeOpen, Text: "Explain photosynthesis", ExpectedAnswer: "light to chemical energy"},
			{ID: "q3", ExamID: "exam-1", Position: 3, Type: models.QuestionTypeOpen, Text: "Describe mitosis"},
		}},
	}
	responses := &mockResponseStore{byExam: map[string][]models.Response{"exam-1": {
		{ID: "r1", ExamID: "exam-1", StudentID: "s1", Answers: []models.Answer{
			{ResponseID: "r1", QuestionID: "q1", OptionIDs: []string{"o1"}},
			{ResponseID: "r1", QuestionID: "q2", Value: "plants convert light"},
			{ResponseID: "r1", QuestionID: "q3", Value: "cells divide"},
		}},
		{ID: "r2", ExamID: "exam-1", StudentID: "s2", Answers: []models.Answer{
			{ResponseID: "r2", QuestionID: "q2", Value: "something about sunlight"},
		}},
	}}}
	grades := &mockDispatchGradeStore{rows: map[string]*models.OpenAnswerGrade{}}
	if graded {
		score := 90.0
		grades.rows["r1/q2"] = &models.OpenAnswerGrade{
			ResponseID: "r1", QuestionID: "q2",
			Status: models.GradingStatusGraded, Score: &score,
		}
	}
	return exams, responses, grades
}

func TestDispatchExamPublishesAnsweredOpenQuestions(t *testing.T) {
	exams, responses, grades := dispatchFixture(false)
	publisher := &mockQueuePublisher{}

	svc := NewDispatchService(exams, responses, grades, publisher, "gpt-4o-mini", nil, zap.NewNop())

	published, err := svc.DispatchExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, 3, published, "r1 answered two open questions, r2 one")
	require.Len(t, publisher.published, 3)

	for _, job := range publisher.published {
		assert.Equal(t, "exam-1", job.ExamID)
		assert.Equal(t, models.QuestionTypeOpen, job.QuestionType)
		assert.Equal(t, "gpt-4o-mini", job.Model)
		assert.NotEmpty(t, job.StudentAnswer)
	}
}

func TestDispatchExamSkipsGradedPairs(t *testing.T) {
	exams, responses, grades := dispatchFixture(true)
	publisher := &mockQueuePublisher{}

	svc := NewDispatchService(exams, responses, grades, publisher, "gpt-4o-mini", nil, zap.NewNop())

	published, err := svc.DispatchExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	for _, job := range publisher.published {
		assert.False(t, job.ResponseID == "r1" && job.QuestionID == "q2", "graded pair must not be re-enqueued")
	}
}

func TestDispatchExamIsIdempotentOnPendingRows(t *testing.T) {
	exams, responses, grades := dispatchFixture(false)
	publisher := &mockQueuePublisher{}

	svc := NewDispatchService(exams, responses, grades, publisher, "gpt-4o-mini", nil, zap.NewNop())

	_, err := svc.DispatchExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Len(t, grades.rows, 3)

	// A second run republishes jobs but stages no extra rows.
	_, err = svc.DispatchExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Len(t, grades.rows, 3)
}

func TestDispatchExamNoOpenQuestions(t *testing.T) {
	exams := &mockExamStore{
		exams: map[string]models.Exam{"exam-1": {ID: "exam-1"}},
		questions: map[string][]models.Question{"exam-1": {
			closedQuestion("q1", "exam-1", 1, []string{"o1"}, nil),
		}},
	}
	publisher := &mockQueuePublisher{}

	svc := NewDispatchService(exams, &mockResponseStore{}, &mockDispatchGradeStore{}, publisher, "gpt-4o-mini", nil, zap.NewNop())

	published, err := svc.DispatchExam(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Empty(t, publisher.published)
}

func TestDispatchExamPartialPublishFailure(t *testing.T) {
	exams, responses, grades := dispatchFixture(false)
	publisher := &mockQueuePublisher{failQuestion: "q3"}

	svc := NewDispatchService(exams, responses, grades, publisher, "gpt-4o-mini", nil, zap.NewNop())

	published, err := svc.DispatchExam(context.Background(), "exam-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPublishFailed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 2, published, "failures skip the pair, the rest of the batch still ships")
	// The failed pair stays PENDING for the next re-scan.
	assert.Equal(t, models.GradingStatusPending, grades.rows["r1/q3"].Status)
}

func TestPublishBatchPreservesOrder(t *testing.T) {
	publisher := &mockQueuePublisher{failQuestion: "q-fail"}
	svc := NewDispatchService(nil, nil, nil, publisher, "gpt-4o-mini", nil, zap.NewNop())

	jobs := []models.GradingJob{
		{ResponseID: "r1", QuestionID: "q-a"},
		{ResponseID: "r1", QuestionID: "q-fail"},
		{ResponseID: "r2", QuestionID: "q-b"},
	}
	ids := svc.PublishBatch(context.Background(), jobs)
	require.Len(t, ids, 2)
	assert.Equal(t, "q-a", publisher.published[0].QuestionID)
	assert.Equal(t, "q-b", publisher.published[1].QuestionID)
}

func TestDispatchPairRepublishesOneJob(t *testing.T) {
	exams, responses, _ := dispatchFixture(false)
	publisher := &mockQueuePublisher{}

	svc := NewDispatchService(exams, responses, &mockDispatchGradeStore{}, publisher, "gpt-4o-mini", nil, zap.NewNop())

	err := svc.DispatchPair(context.Background(), "r2", "q2")
	require.NoError(t, err)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "r2", publisher.published[0].ResponseID)
	assert.Equal(t, "something about sunlight", publisher.published[0].StudentAnswer)
}

func TestDispatchPairUnknownResponse(t *testing.T) {
	exams, responses, _ := dispatchFixture(false)
	svc := NewDispatchService(exams, responses, &mockDispatchGradeStore{}, &mockQueuePublisher{}, "gpt-4o-mini", nil, zap.NewNop())

	err := svc.DispatchPair(context.Background(), "missing", "q2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
