package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive EnrollmentStatus = "ACTIVE"
	EnrollmentStatusLeft   EnrollmentStatus = "LEFT"
)

// Enrollment captures a student's registration to a class, enriched with
// the pieces the report aggregator needs: the student name and the share of
// sessions missed.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	StudentName string           `db:"student_name" json:"student_name"`
	ClassID     string           `db:"class_id" json:"class_id"`
	AbsenceRate float64          `db:"absence_rate" json:"absence_rate"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	JoinedAt    time.Time        `db:"joined_at" json:"joined_at"`
}

// Class is the minimal class record this subsystem reads.
type Class struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
