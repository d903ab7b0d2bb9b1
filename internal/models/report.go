package models

import "time"

// StudentStatus is the academic standing derived for one student.
type StudentStatus string

const (
	StudentStatusPending         StudentStatus = "PENDING"
	StudentStatusApproved        StudentStatus = "APPROVED"
	StudentStatusApprovedFinal   StudentStatus = "APPROVED_FINAL"
	StudentStatusFailed          StudentStatus = "FAILED"
	StudentStatusFailedByAbsence StudentStatus = "FAILED_BY_ABSENCE"
)

// ReportCounts aggregates students per status.
type ReportCounts struct {
	Approved        int `json:"approved"`
	ApprovedFinal   int `json:"approved_final"`
	Failed          int `json:"failed"`
	FailedByAbsence int `json:"failed_by_absence"`
	Pending         int `json:"pending"`
}

// StudentReportRow is one student's line in the class report.
type StudentReportRow struct {
	StudentID   string        `json:"student_id"`
	StudentName string        `json:"student_name"`
	FinalGrade  *float64      `json:"final_grade"`
	ExamGrade   *float64      `json:"exam_grade,omitempty"`
	Status      StudentStatus `json:"status"`
}

// GoalPerformance summarises the class against one goal of the grade
// specification.
type GoalPerformance struct {
	Goal           string         `json:"goal"`
	Average        *float64       `json:"average"`
	EvaluatedCount int            `json:"evaluated_count"`
	Distribution   map[string]int `json:"distribution"`
}

// ReportData is the class report snapshot. It is derived on every request
// and never persisted.
type ReportData struct {
	ClassID         string             `json:"class_id"`
	GeneratedAt     time.Time          `json:"generated_at"`
	Counts          ReportCounts       `json:"counts"`
	StudentsAverage *float64           `json:"students_average"`
	Students        []StudentReportRow `json:"students"`
	Goals           []GoalPerformance  `json:"goals"`
}
