package models

import (
	"time"

	"github.com/lib/pq"
)

// Response is a student's submission for one exam. Questions the student
// skipped have no Answer row at all.
type Response struct {
	ID          string    `db:"id" json:"id"`
	ExamID      string    `db:"exam_id" json:"exam_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
	Answers     []Answer  `json:"answers,omitempty"`
}

// Answer holds the submitted value for one question: free text for open
// questions, the selected option ids for closed ones.
type Answer struct {
	ID         string         `db:"id" json:"id"`
	ResponseID string         `db:"response_id" json:"response_id"`
	QuestionID string         `db:"question_id" json:"question_id"`
	Value      string         `db:"value" json:"value,omitempty"`
	OptionIDs  pq.StringArray `db:"option_ids" json:"option_ids,omitempty"`
}

// ResponseGrade is the computed final grade of one response on a 0-100
// scale, with per-question credit for auditing.
type ResponseGrade struct {
	ResponseID string             `json:"response_id"`
	StudentID  string             `json:"student_id"`
	ExamID     string             `json:"exam_id"`
	FinalGrade float64            `json:"final_grade"`
	Credits    map[string]float64 `json:"credits,omitempty"`
}

// ExamCorrectionResult summarises one correction run.
type ExamCorrectionResult struct {
	ExamID         string          `json:"exam_id"`
	CorrectedCount int             `json:"corrected_count"`
	Results        []ResponseGrade `json:"results"`
}
