package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// ResponseRepository reads student responses and their answers.
type ResponseRepository struct {
	db *sqlx.DB
}

// NewResponseRepository creates a new response repository.
func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// FindByID returns one response with its answers.
func (r *ResponseRepository) FindByID(ctx context.Context, id string) (*models.Response, error) {
	const query = `SELECT id, exam_id, student_id, submitted_at FROM responses WHERE id = $1`
	var response models.Response
	if err := r.db.GetContext(ctx, &response, query, id); err != nil {
		return nil, err
	}
	answers, err := r.fetchAnswers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	response.Answers = answers[id]
	return &response, nil
}

// ListByExam returns every response to an exam, answers included. Students
// who skipped a question simply have no answer row for it.
func (r *ResponseRepository) ListByExam(ctx context.Context, examID string) ([]models.Response, error) {
	const query = `SELECT id, exam_id, student_id, submitted_at FROM responses WHERE exam_id = $1 ORDER BY submitted_at`
	var responses []models.Response
	if err := r.db.SelectContext(ctx, &responses, query, examID); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if len(responses) == 0 {
		return responses, nil
	}
	ids := make([]string, len(responses))
	for i, resp := range responses {
		ids[i] = resp.ID
	}
	answers, err := r.fetchAnswers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range responses {
		responses[i].Answers = answers[responses[i].ID]
	}
	return responses, nil
}

func (r *ResponseRepository) fetchAnswers(ctx context.Context, responseIDs []string) (map[string][]models.Answer, error) {
	placeholders := make([]string, len(responseIDs))
	args := make([]interface{}, len(responseIDs))
	for i, id := range responseIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, response_id, question_id, value, option_ids
        FROM answers WHERE response_id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch answers: %w", err)
	}
	defer rows.Close()
	result := make(map[string][]models.Answer, len(responseIDs))
	for rows.Next() {
		var answer models.Answer
		if err := rows.StructScan(&answer); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		result[answer.ResponseID] = append(result[answer.ResponseID], answer)
	}
	return result, nil
}
