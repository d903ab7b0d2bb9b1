package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/models"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
)

// defaultRateLimitDelay backs RateLimitTimeout when no delay is configured.
const defaultRateLimitDelay = 2 * time.Second

// rateLimitMarkers are matched case-insensitively against provider error
// messages. The last entry covers the Portuguese message some providers
// return for quota exhaustion.
var rateLimitMarkers = []string{"rate limit", "quota", "exceeded", "excedida"}

type openGradeStore interface {
	Get(ctx context.Context, responseID, questionID string) (*models.OpenAnswerGrade, error)
	MarkGraded(ctx context.Context, responseID, questionID string, score float64, feedback string) (bool, error)
	MarkRateLimited(ctx context.Context, responseID, questionID, feedback string) (int, error)
	MarkFailed(ctx context.Context, responseID, questionID, feedback string) error
	Requeue(ctx context.Context, responseID, questionID string) error
}

type pairRetrier interface {
	DispatchPair(ctx context.Context, responseID, questionID string) error
}

// CallbackService applies asynchronous grading results. The queue delivers
// at least once and the worker retries, so every transition is idempotent:
// a duplicate delivery for an already-GRADED pair is acknowledged without
// touching the stored score.
type CallbackService struct {
	grades     openGradeStore
	retrier    pairRetrier
	validate   *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
	done       chan struct{}
}

// NewCallbackService constructs CallbackService. maxRetries bounds how many
// rate-limited attempts a pair absorbs before it is failed permanently; a
// zero retryDelay falls back to a small built-in default. The retrier may
// be nil, in which case rate-limited pairs wait for the next dispatch run.
func NewCallbackService(grades openGradeStore, retrier pairRetrier, maxRetries int, retryDelay time.Duration, metrics *MetricsService, logger *zap.Logger) *CallbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackService{
		grades:     grades,
		retrier:    retrier,
		validate:   validator.New(),
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		done:       make(chan struct{}),
	}
}

// Close cancels pending retry timers.
func (s *CallbackService) Close() {
	close(s.done)
}

// RateLimitTimeout is how long a throttled pair waits before re-entering
// the queue.
func (s *CallbackService) RateLimitTimeout() time.Duration {
	if s.retryDelay > 0 {
		return s.retryDelay
	}
	return defaultRateLimitDelay
}

// Process records one grading outcome. A callback without a score is a
// failure report; its feedback decides between a scheduled retry and a
// permanent FAILED.
func (s *CallbackService) Process(ctx context.Context, callback models.GradingCallback) (*models.CallbackResult, error) {
	if err := s.validate.Struct(callback); err != nil {
		s.metrics.IncCallback("rejected")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading callback")
	}
	if _, err := s.grades.Get(ctx, callback.ResponseID, callback.QuestionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.IncCallback("rejected")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grading record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grading record")
	}

	result := &models.CallbackResult{
		ResponseID: callback.ResponseID,
		QuestionID: callback.QuestionID,
	}

	if callback.Score == nil {
		return s.processFailure(ctx, callback, result)
	}

	percentage := ConvertScoreToPercentage(*callback.Score)
	changed, err := s.grades.MarkGraded(ctx, callback.ResponseID, callback.QuestionID, percentage, callback.Feedback)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}
	result.Status = models.GradingStatusGraded
	if !changed {
		result.Duplicate = true
		s.metrics.IncCallback("duplicate")
		s.logger.Sugar().Debugw("duplicate grading callback ignored",
			"response_id", callback.ResponseID, "question_id", callback.QuestionID)
		return result, nil
	}
	s.metrics.IncCallback("graded")
	return result, nil
}

func (s *CallbackService) processFailure(ctx context.Context, callback models.GradingCallback, result *models.CallbackResult) (*models.CallbackResult, error) {
	if !IsRateLimitError(callback.Feedback) {
		if err := s.grades.MarkFailed(ctx, callback.ResponseID, callback.QuestionID, callback.Feedback); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record failure")
		}
		s.metrics.IncCallback("failed")
		result.Status = models.GradingStatusFailed
		return result, nil
	}

	attempts, err := s.grades.MarkRateLimited(ctx, callback.ResponseID, callback.QuestionID, callback.Feedback)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already GRADED; the late failure loses the race.
			s.metrics.IncCallback("duplicate")
			result.Status = models.GradingStatusGraded
			result.Duplicate = true
			return result, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rate limit")
	}
	result.Attempts = attempts

	if attempts >= s.maxRetries {
		if err := s.grades.MarkFailed(ctx, callback.ResponseID, callback.QuestionID, "rate limit retries exhausted: "+callback.Feedback); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record failure")
		}
		s.metrics.IncCallback("failed")
		result.Status = models.GradingStatusFailed
		s.logger.Sugar().Warnw("grading abandoned after rate limit retries",
			"response_id", callback.ResponseID, "question_id", callback.QuestionID, "attempts", attempts)
		return result, nil
	}

	s.metrics.IncCallback("rate_limited")
	s.metrics.IncRateLimitRetry()
	result.Status = models.GradingStatusRateLimited
	s.scheduleRetry(callback.ResponseID, callback.QuestionID)
	return result, nil
}

// scheduleRetry re-publishes the pair after the rate-limit timeout. Timer,
// not a held lock; the callback request returns immediately.
func (s *CallbackService) scheduleRetry(responseID, questionID string) {
	if s.retrier == nil {
		return
	}
	go func() {
		timer := time.NewTimer(s.RateLimitTimeout())
		defer timer.Stop()
		select {
		case <-s.done:
			return
		case <-timer.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.grades.Requeue(ctx, responseID, questionID); err != nil {
			s.logger.Sugar().Errorw("failed to requeue rate-limited pair",
				"response_id", responseID, "question_id", questionID, "error", err)
			return
		}
		if err := s.retrier.DispatchPair(ctx, responseID, questionID); err != nil {
			s.logger.Sugar().Errorw("failed to re-publish rate-limited pair",
				"response_id", responseID, "question_id", questionID, "error", err)
		}
	}()
}

// IsRateLimitError reports whether a grading provider error message looks
// like throttling rather than a hard failure. Empty messages are not.
func IsRateLimitError(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ConvertScoreToPercentage maps the grading service's 0-10 scale onto the
// 0-100 credit scale used everywhere else, clamping out-of-range input.
func ConvertScoreToPercentage(score float64) float64 {
	percentage := score * 10
	if percentage < 0 {
		return 0
	}
	if percentage > 100 {
		return 100
	}
	return percentage
}
