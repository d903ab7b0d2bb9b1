package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-exam-api/internal/grading"
	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/pkg/queue"
)

// Grader scores one job. Implemented by grading.Client.
type Grader interface {
	Grade(ctx context.Context, job models.GradingJob) (*grading.Result, error)
}

// GradingWorker consumes grading jobs and reports every outcome back to
// the API's callback endpoint. It never writes grading state itself: a
// failed model call becomes a failure callback, and the API decides
// whether that means retry or permanent failure.
type GradingWorker struct {
	grader      Grader
	httpClient  *http.Client
	callbackURL string
	token       string
	logger      *zap.Logger
}

// New builds a grading worker posting to callbackURL with the shared token.
func New(grader Grader, callbackURL, token string, logger *zap.Logger) *GradingWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradingWorker{
		grader:      grader,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		callbackURL: callbackURL,
		token:       token,
		logger:      logger,
	}
}

// Handle is the queue.Handler for one envelope.
func (w *GradingWorker) Handle(ctx context.Context, env queue.Envelope) error {
	var job models.GradingJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		// Malformed payloads are dropped; redelivery cannot fix them.
		return fmt.Errorf("decode grading job %s: %w", env.ID, err)
	}

	callback := models.GradingCallback{
		ResponseID: job.ResponseID,
		QuestionID: job.QuestionID,
	}

	started := time.Now()
	result, err := w.grader.Grade(ctx, job)
	if err != nil {
		callback.Feedback = err.Error()
		w.logger.Sugar().Warnw("grading attempt failed",
			"message_id", env.ID, "response_id", job.ResponseID, "question_id", job.QuestionID, "error", err)
	} else {
		score := result.Score
		callback.Score = &score
		callback.Feedback = result.Feedback
		w.logger.Sugar().Infow("answer graded",
			"message_id", env.ID, "response_id", job.ResponseID, "question_id", job.QuestionID,
			"score", score, "took", time.Since(started))
	}

	return w.postCallback(ctx, callback)
}

func (w *GradingWorker) postCallback(ctx context.Context, callback models.GradingCallback) error {
	body, err := json.Marshal(callback)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Grading-Token", w.token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback rejected with status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
