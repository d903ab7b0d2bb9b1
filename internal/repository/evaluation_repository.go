package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// EvaluationRepository reads teacher and self evaluation entries.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository creates a new evaluation repository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// FetchByEnrollments returns evaluation entries keyed by enrollment ID,
// both kinds mixed; callers split on Kind.
func (r *EvaluationRepository) FetchByEnrollments(ctx context.Context, enrollmentIDs []string) (map[string][]models.EvaluationEntry, error) {
	if len(enrollmentIDs) == 0 {
		return map[string][]models.EvaluationEntry{}, nil
	}
	placeholders := make([]string, len(enrollmentIDs))
	args := make([]interface{}, len(enrollmentIDs))
	for i, id := range enrollmentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, enrollment_id, kind, goal, concept
        FROM evaluation_entries WHERE enrollment_id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch evaluations: %w", err)
	}
	defer rows.Close()
	result := make(map[string][]models.EvaluationEntry, len(enrollmentIDs))
	for rows.Next() {
		var entry models.EvaluationEntry
		if err := rows.StructScan(&entry); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		result[entry.EnrollmentID] = append(result[entry.EnrollmentID], entry)
	}
	return result, nil
}
