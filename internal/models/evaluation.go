package models

// EvaluationKind separates the teacher's assessment from the student's own.
type EvaluationKind string

const (
	EvaluationKindTeacher EvaluationKind = "TEACHER"
	EvaluationKindSelf    EvaluationKind = "SELF"
)

// EvaluationEntry assigns a concept grade to one goal for one enrollment.
// At most one entry per (enrollment, kind, goal).
type EvaluationEntry struct {
	ID           string         `db:"id" json:"id"`
	EnrollmentID string         `db:"enrollment_id" json:"enrollment_id"`
	Kind         EvaluationKind `db:"kind" json:"kind"`
	Goal         string         `db:"goal" json:"goal"`
	Concept      string         `db:"concept" json:"concept"`
}
