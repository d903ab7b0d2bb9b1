package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

type mockCallbackGradeStore struct {
	rows     map[string]*models.OpenAnswerGrade
	requeued []string
}

func callbackKey(responseID, questionID string) string {
	return responseID + "/" + questionID
}

func (m *mockCallbackGradeStore) Get(ctx context.Context, responseID, questionID string) (*models.OpenAnswerGrade, error) {
	row, ok := m.rows[callbackKey(responseID, questionID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *row
	return &copied, nil
}

func (m *mockCallbackGradeStore) MarkGraded(ctx context.Context, responseID, questionID string, score float64, feedback string) (bool, error) {
	row := m.rows[callbackKey(responseID, questionID)]
	if row.Status == models.GradingStatusGraded {
		return false, nil
	}
	row.Status = models.GradingStatusGraded
	row.Score = &score
	row.Feedback = feedback
	now := time.Now().UTC()
	row.GradedAt = &now
	return true, nil
}

func (m *mockCallbackGradeStore) MarkRateLimited(ctx context.Context, responseID, questionID, feedback string) (int, error) {
	row := m.rows[callbackKey(responseID, questionID)]
	if row.Status == models.GradingStatusGraded {
		return 0, sql.ErrNoRows
	}
	row.Status = models.GradingStatusRateLimited
	row.Feedback = feedback
	row.Attempts++
	return row.Attempts, nil
}

func (m *mockCallbackGradeStore) MarkFailed(ctx context.Context, responseID, questionID, feedback string) error {
	row := m.rows[callbackKey(responseID, questionID)]
	if row.Status == models.GradingStatusGraded {
		return nil
	}
	zero := 0.0
	row.Status = models.GradingStatusFailed
	row.Score = &zero
	row.Feedback = feedback
	return nil
}

func (m *mockCallbackGradeStore) Requeue(ctx context.Context, responseID, questionID string) error {
	key := callbackKey(responseID, questionID)
	if row, ok := m.rows[key]; ok && row.Status == models.GradingStatusRateLimited {
		row.Status = models.GradingStatusPending
	}
	m.requeued = append(m.requeued, key)
	return nil
}

type mockPairRetrier struct {
	dispatched chan string
}

func (m *mockPairRetrier) DispatchPair(ctx context.Context, responseID, questionID string) error {
	m.dispatched <- callbackKey(responseID, questionID)
	return nil
}

func pendingStore(responseID, questionID string) *mockCallbackGradeStore {
	return &mockCallbackGradeStore{rows: map[string]*models.OpenAnswerGrade{
		callbackKey(responseID, questionID): {
			ResponseID: responseID,
			QuestionID: questionID,
			Status:     models.GradingStatusPending,
		},
	}}
}

func floatPtr(v float64) *float64 { return &v }

func TestProcessCallbackRecordsGrade(t *testing.T) {
	store := pendingStore("r1", "q1")
	svc := NewCallbackService(store, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Score: floatPtr(8.5), Feedback: "solid reasoning",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GradingStatusGraded, result.Status)
	assert.False(t, result.Duplicate)

	row := store.rows["r1/q1"]
	require.NotNil(t, row.Score)
	assert.InDelta(t, 85.0, *row.Score, 0.0001)
	assert.Equal(t, "solid reasoning", row.Feedback)
}

func TestProcessCallbackDuplicateDeliveryKeepsFirstGrade(t *testing.T) {
	store := pendingStore("r1", "q1")
	svc := NewCallbackService(store, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	_, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Score: floatPtr(8.5),
	})
	require.NoError(t, err)

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Score: floatPtr(3.0),
	})
	require.NoError(t, err, "duplicate delivery is acknowledged, not rejected")
	assert.True(t, result.Duplicate)
	assert.InDelta(t, 85.0, *store.rows["r1/q1"].Score, 0.0001)
}

func TestProcessCallbackRejectsInvalidPayload(t *testing.T) {
	svc := NewCallbackService(&mockCallbackGradeStore{}, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	_, err := svc.Process(context.Background(), models.GradingCallback{
		QuestionID: "q1", Score: floatPtr(5),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Score: floatPtr(11),
	})
	require.Error(t, err, "scores above the 0-10 scale are rejected")
}

func TestProcessCallbackUnknownPair(t *testing.T) {
	svc := NewCallbackService(&mockCallbackGradeStore{}, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	_, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "ghost", QuestionID: "q1", Score: floatPtr(5),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestProcessCallbackPermanentFailure(t *testing.T) {
	store := pendingStore("r1", "q1")
	svc := NewCallbackService(store, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Feedback: "model returned malformed output",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GradingStatusFailed, result.Status)
	row := store.rows["r1/q1"]
	require.NotNil(t, row.Score)
	assert.Zero(t, *row.Score)
	assert.Equal(t, "model returned malformed output", row.Feedback)
}

func TestProcessCallbackRateLimitedSchedulesRetry(t *testing.T) {
	store := pendingStore("r1", "q1")
	retrier := &mockPairRetrier{dispatched: make(chan string, 1)}
	svc := NewCallbackService(store, retrier, 3, 10*time.Millisecond, nil, zap.NewNop())
	defer svc.Close()

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Feedback: "Rate limit reached for requests",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GradingStatusRateLimited, result.Status)
	assert.Equal(t, 1, result.Attempts)

	select {
	case pair := <-retrier.dispatched:
		assert.Equal(t, "r1/q1", pair)
	case <-time.After(2 * time.Second):
		t.Fatal("retry was never dispatched")
	}
	assert.Equal(t, []string{"r1/q1"}, store.requeued)
}

func TestProcessCallbackRateLimitExhausted(t *testing.T) {
	store := pendingStore("r1", "q1")
	store.rows["r1/q1"].Attempts = 2
	retrier := &mockPairRetrier{dispatched: make(chan string, 1)}
	svc := NewCallbackService(store, retrier, 3, 10*time.Millisecond, nil, zap.NewNop())
	defer svc.Close()

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Feedback: "quota exhausted",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GradingStatusFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)

	select {
	case <-retrier.dispatched:
		t.Fatal("exhausted pair must not be retried")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessCallbackLateFailureAfterGrade(t *testing.T) {
	store := pendingStore("r1", "q1")
	store.rows["r1/q1"].Status = models.GradingStatusGraded
	store.rows["r1/q1"].Score = floatPtr(90)
	svc := NewCallbackService(store, nil, 3, time.Minute, nil, zap.NewNop())
	defer svc.Close()

	result, err := svc.Process(context.Background(), models.GradingCallback{
		ResponseID: "r1", QuestionID: "q1", Feedback: "rate limit reached",
	})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, models.GradingStatusGraded, result.Status)
	assert.InDelta(t, 90.0, *store.rows["r1/q1"].Score, 0.0001)
}

func TestRateLimitTimeoutFallsBack(t *testing.T) {
	svc := NewCallbackService(&mockCallbackGradeStore{}, nil, 3, 0, nil, zap.NewNop())
	defer svc.Close()
	assert.Equal(t, defaultRateLimitDelay, svc.RateLimitTimeout())

	configured := NewCallbackService(&mockCallbackGradeStore{}, nil, 3, 5*time.Minute, nil, zap.NewNop())
	defer configured.Close()
	assert.Equal(t, 5*time.Minute, configured.RateLimitTimeout())
}

func TestIsRateLimitError(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"Rate limit reached for gpt-4o-mini", true},
		{"insufficient_quota: billing hard limit", true},
		{"Request limit exceeded, retry later", true},
		{"Cota de uso excedida", true},
		{"RATE LIMIT", true},
		{"", false},
		{"bad gateway", false},
		{"context deadline", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsRateLimitError(tc.message), "message %q", tc.message)
	}
}

func TestConvertScoreToPercentage(t *testing.T) {
	assert.InDelta(t, 73.0, ConvertScoreToPercentage(7.3), 0.0001)
	assert.InDelta(t, 0.0, ConvertScoreToPercentage(0), 0.0001)
	assert.InDelta(t, 100.0, ConvertScoreToPercentage(10), 0.0001)
	assert.InDelta(t, 100.0, ConvertScoreToPercentage(12), 0.0001, "out-of-range scores clamp")
	assert.InDelta(t, 0.0, ConvertScoreToPercentage(-1), 0.0001)
}
