package models

import "time"

// QuestionType distinguishes deterministic from model-graded questions.
type QuestionType string

const (
	// QuestionTypeClosed is multiple-choice with flagged-correct options.
	QuestionTypeClosed QuestionType = "closed"
	// QuestionTypeOpen is free text graded by the external model.
	QuestionTypeOpen QuestionType = "open"
)

// Exam is an authored exam. Immutable once students have responded; this
// subsystem only reads it.
type Exam struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Question belongs to an exam, ordered by Position.
type Question struct {
	ID             string           `db:"id" json:"id"`
	ExamID         string           `db:"exam_id" json:"exam_id"`
	Position       int              `db:"position" json:"position"`
	Type           QuestionType     `db:"type" json:"type"`
	Text           string           `db:"text" json:"text"`
	ExpectedAnswer string           `db:"expected_answer" json:"expected_answer,omitempty"`
	Options        []QuestionOption `json:"options,omitempty"`
}

// QuestionOption is one choice of a closed question.
type QuestionOption struct {
	ID         string `db:"id" json:"id"`
	QuestionID string `db:"question_id" json:"question_id"`
	Text       string `db:"text" json:"text"`
	Correct    bool   `db:"correct" json:"correct"`
}
