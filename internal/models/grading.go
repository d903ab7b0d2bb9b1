package models

import "time"

// GradingStatus is the lifecycle of one open answer's grading.
type GradingStatus string

const (
	GradingStatusPending     GradingStatus = "PENDING"
	GradingStatusGraded      GradingStatus = "GRADED"
	GradingStatusRateLimited GradingStatus = "FAILED_RATE_LIMITED"
	GradingStatusFailed      GradingStatus = "FAILED"
)

// GradingJob is the queue payload for one open question of one response.
// It carries everything the grading service needs to operate statelessly;
// this subsystem never persists it.
type GradingJob struct {
	ResponseID     string       `json:"response_id"`
	ExamID         string       `json:"exam_id"`
	QuestionID     string       `json:"question_id"`
	QuestionText   string       `json:"question_text"`
	StudentAnswer  string       `json:"student_answer"`
	ExpectedAnswer string       `json:"expected_answer"`
	Model          string       `json:"model"`
	QuestionType   QuestionType `json:"question_type"`
}

// GradingCallback is the payload the grading worker posts back once an
// attempt finishes. Score is on the grading service's 0-10 scale; when it
// is absent the attempt failed and Feedback carries the provider's error
// message.
type GradingCallback struct {
	ResponseID string   `json:"response_id" binding:"required" validate:"required"`
	QuestionID string   `json:"question_id" binding:"required" validate:"required"`
	Score      *float64 `json:"score,omitempty" validate:"omitempty,gte=0,lte=10"`
	Feedback   string   `json:"feedback,omitempty"`
}

// CallbackResult reports what the callback processor did with a delivery.
type CallbackResult struct {
	ResponseID string        `json:"response_id"`
	QuestionID string        `json:"question_id"`
	Status     GradingStatus `json:"status"`
	Duplicate  bool          `json:"duplicate"`
	Attempts   int           `json:"attempts,omitempty"`
}

// OpenAnswerGrade is the stored grading state for one (response, question)
// pair. Unique on that pair; the callback processor's idempotency hinges on
// updates being conditional on Status.
type OpenAnswerGrade struct {
	ID         string        `db:"id" json:"id"`
	ResponseID string        `db:"response_id" json:"response_id"`
	QuestionID string        `db:"question_id" json:"question_id"`
	Status     GradingStatus `db:"status" json:"status"`
	Score      *float64      `db:"score" json:"score,omitempty"`
	Feedback   string        `db:"feedback" json:"feedback,omitempty"`
	Attempts   int           `db:"attempts" json:"attempts"`
	Model      string        `db:"model" json:"model,omitempty"`
	GradedAt   *time.Time    `db:"graded_at" json:"graded_at,omitempty"`
}
