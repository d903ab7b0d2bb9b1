package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// ExamRepository reads exam and question records. This subsystem never
// writes them; authoring lives elsewhere.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository creates a new exam repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// FindByID returns one exam. sql.ErrNoRows passes through for the service
// layer to translate.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	const query = `SELECT id, class_id, title, created_at FROM exams WHERE id = $1`
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, query, id); err != nil {
		return nil, err
	}
	return &exam, nil
}

// ListByClass returns a class's exams ordered by creation.
func (r *ExamRepository) ListByClass(ctx context.Context, classID string) ([]models.Exam, error) {
	const query = `SELECT id, class_id, title, created_at FROM exams WHERE class_id = $1 ORDER BY created_at`
	var exams []models.Exam
	if err := r.db.SelectContext(ctx, &exams, query, classID); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// ListQuestions returns the exam's questions in position order with their
// options stitched in.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID string) ([]models.Question, error) {
	const query = `SELECT id, exam_id, position, type, text, expected_answer
        FROM questions WHERE exam_id = $1 ORDER BY position`
	var questions []models.Question
	if err := r.db.SelectContext(ctx, &questions, query, examID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return questions, nil
	}

	ids := make([]string, len(questions))
	index := make(map[string]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		index[q.ID] = i
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	optionQuery := fmt.Sprintf(`SELECT id, question_id, text, correct
        FROM question_options WHERE question_id IN (%s) ORDER BY id`, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, optionQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list question options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var option models.QuestionOption
		if err := rows.StructScan(&option); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		if i, ok := index[option.QuestionID]; ok {
			questions[i].Options = append(questions[i].Options, option)
		}
	}
	return questions, nil
}
