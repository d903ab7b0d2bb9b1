package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// OpenGradeRepository persists grading state per (response, question) pair.
// The queue delivers at least once, so every state transition here is
// conditional: a pair that already reached GRADED is never overwritten.
type OpenGradeRepository struct {
	db *sqlx.DB
}

// NewOpenGradeRepository creates a new open grade repository.
func NewOpenGradeRepository(db *sqlx.DB) *OpenGradeRepository {
	return &OpenGradeRepository{db: db}
}

// Get returns the grading state for one pair.
func (r *OpenGradeRepository) Get(ctx context.Context, responseID, questionID string) (*models.OpenAnswerGrade, error) {
	const query = `SELECT id, response_id, question_id, status, score, feedback, attempts, model, graded_at
        FROM open_answer_grades WHERE response_id = $1 AND question_id = $2`
	var grade models.OpenAnswerGrade
	if err := r.db.GetContext(ctx, &grade, query, responseID, questionID); err != nil {
		return nil, err
	}
	return &grade, nil
}

// EnsurePending inserts PENDING rows for pairs that do not exist yet.
// Existing rows, whatever their status, are left untouched.
func (r *OpenGradeRepository) EnsurePending(ctx context.Context, grades []models.OpenAnswerGrade) error {
	if len(grades) == 0 {
		return nil
	}
	const query = `INSERT INTO open_answer_grades (id, response_id, question_id, status, attempts, model)
        VALUES (:id, :response_id, :question_id, :status, :attempts, :model)
        ON CONFLICT (response_id, question_id) DO NOTHING`
	for i := range grades {
		if grades[i].ID == "" {
			grades[i].ID = uuid.NewString()
		}
		grades[i].Status = models.GradingStatusPending
		if _, err := r.db.NamedExecContext(ctx, query, grades[i]); err != nil {
			return fmt.Errorf("ensure pending grade: %w", err)
		}
	}
	return nil
}

// MarkGraded records a final score, guarded against duplicate deliveries.
// Returns false when the pair was already GRADED and nothing changed.
func (r *OpenGradeRepository) MarkGraded(ctx context.Context, responseID, questionID string, score float64, feedback string) (bool, error) {
	const query = `UPDATE open_answer_grades
        SET status = $1, score = $2, feedback = $3, graded_at = $4
        WHERE response_id = $5 AND question_id = $6 AND status <> $1`
	result, err := r.db.ExecContext(ctx, query, models.GradingStatusGraded, score, feedback, time.Now().UTC(), responseID, questionID)
	if err != nil {
		return false, fmt.Errorf("mark graded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark graded rows: %w", err)
	}
	return affected > 0, nil
}

// MarkRateLimited flags the pair transient-failed and bumps its attempt
// counter, returning the new count.
func (r *OpenGradeRepository) MarkRateLimited(ctx context.Context, responseID, questionID, feedback string) (int, error) {
	const query = `UPDATE open_answer_grades
        SET status = $1, feedback = $2, attempts = attempts + 1
        WHERE response_id = $3 AND question_id = $4 AND status <> $5
        RETURNING attempts`
	var attempts int
	err := r.db.GetContext(ctx, &attempts, query, models.GradingStatusRateLimited, feedback, responseID, questionID, models.GradingStatusGraded)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// MarkFailed records a permanent failure with zero score and the service's
// feedback preserved for audit.
func (r *OpenGradeRepository) MarkFailed(ctx context.Context, responseID, questionID, feedback string) error {
	const query = `UPDATE open_answer_grades
        SET status = $1, score = 0, feedback = $2
        WHERE response_id = $3 AND question_id = $4 AND status <> $5`
	if _, err := r.db.ExecContext(ctx, query, models.GradingStatusFailed, feedback, responseID, questionID, models.GradingStatusGraded); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Requeue resets a rate-limited pair to PENDING so a new dispatch run picks
// it up.
func (r *OpenGradeRepository) Requeue(ctx context.Context, responseID, questionID string) error {
	const query = `UPDATE open_answer_grades SET status = $1
        WHERE response_id = $2 AND question_id = $3 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, models.GradingStatusPending, responseID, questionID, models.GradingStatusRateLimited); err != nil {
		return fmt.Errorf("requeue grade: %w", err)
	}
	return nil
}

// ListUngradedByExam returns pairs of the exam still awaiting a final
// score, i.e. PENDING or FAILED_RATE_LIMITED.
func (r *OpenGradeRepository) ListUngradedByExam(ctx context.Context, examID string) ([]models.OpenAnswerGrade, error) {
	const query = `SELECT g.id, g.response_id, g.question_id, g.status, g.score, g.feedback, g.attempts, g.model, g.graded_at
        FROM open_answer_grades g
        JOIN responses r ON r.id = g.response_id
        WHERE r.exam_id = $1 AND g.status IN ($2, $3)
        ORDER BY g.response_id, g.question_id`
	var grades []models.OpenAnswerGrade
	if err := r.db.SelectContext(ctx, &grades, query, examID, models.GradingStatusPending, models.GradingStatusRateLimited); err != nil {
		return nil, fmt.Errorf("list ungraded: %w", err)
	}
	return grades, nil
}

// FetchByResponses returns grading state keyed by response ID.
func (r *OpenGradeRepository) FetchByResponses(ctx context.Context, responseIDs []string) (map[string][]models.OpenAnswerGrade, error) {
	if len(responseIDs) == 0 {
		return map[string][]models.OpenAnswerGrade{}, nil
	}
	placeholders := make([]string, len(responseIDs))
	args := make([]interface{}, len(responseIDs))
	for i, id := range responseIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, response_id, question_id, status, score, feedback, attempts, model, graded_at
        FROM open_answer_grades WHERE response_id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch grades: %w", err)
	}
	defer rows.Close()
	result := make(map[string][]models.OpenAnswerGrade, len(responseIDs))
	for rows.Next() {
		var grade models.OpenAnswerGrade
		if err := rows.StructScan(&grade); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		result[grade.ResponseID] = append(result[grade.ResponseID], grade)
	}
	return result, nil
}
