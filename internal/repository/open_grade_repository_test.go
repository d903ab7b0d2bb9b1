package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

func newOpenGradeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestOpenGradeRepositoryMarkGraded(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE open_answer_grades")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.MarkGraded(context.Background(), "resp-1", "q-1", 85, "good answer")
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryMarkGradedAlreadyFinal(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	// The status guard matches no row on a second delivery.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE open_answer_grades")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkGraded(context.Background(), "resp-1", "q-1", 30, "late duplicate")
	require.NoError(t, err)
	require.False(t, changed, "an already graded pair must stay untouched")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryEnsurePending(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO open_answer_grades")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second pair already exists; ON CONFLICT swallows the insert.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO open_answer_grades")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.EnsurePending(context.Background(), []models.OpenAnswerGrade{
		{ResponseID: "resp-1", QuestionID: "q-1", Model: "gpt-4o-mini"},
		{ResponseID: "resp-1", QuestionID: "q-2", Model: "gpt-4o-mini"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryMarkRateLimited(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	rows := sqlmock.NewRows([]string{"attempts"}).AddRow(2)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE open_answer_grades")).
		WithArgs(string(models.GradingStatusRateLimited), "Rate limit reached", "resp-1", "q-1", string(models.GradingStatusGraded)).
		WillReturnRows(rows)

	attempts, err := repo.MarkRateLimited(context.Background(), "resp-1", "q-1", "Rate limit reached")
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryGet(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	rows := sqlmock.NewRows([]string{"id", "response_id", "question_id", "status", "score", "feedback", "attempts", "model", "graded_at"}).
		AddRow("g-1", "resp-1", "q-1", "PENDING", nil, "", 0, "gpt-4o-mini", nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, response_id, question_id, status")).
		WithArgs("resp-1", "q-1").
		WillReturnRows(rows)

	grade, err := repo.Get(context.Background(), "resp-1", "q-1")
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusPending, grade.Status)
	require.Nil(t, grade.Score)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryFetchByResponses(t *testing.T) {
	db, mock, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	rows := sqlmock.NewRows([]string{"id", "response_id", "question_id", "status", "score", "feedback", "attempts", "model", "graded_at"}).
		AddRow("g-1", "resp-1", "q-1", "GRADED", 85.0, "solid", 1, "gpt-4o-mini", nil).
		AddRow("g-2", "resp-2", "q-1", "PENDING", nil, "", 0, "gpt-4o-mini", nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, response_id, question_id, status")).
		WithArgs("resp-1", "resp-2").
		WillReturnRows(rows)

	grades, err := repo.FetchByResponses(context.Background(), []string{"resp-1", "resp-2"})
	require.NoError(t, err)
	require.Len(t, grades["resp-1"], 1)
	require.Len(t, grades["resp-2"], 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGradeRepositoryFetchByResponsesEmpty(t *testing.T) {
	db, _, cleanup := newOpenGradeRepoMock(t)
	defer cleanup()

	repo := NewOpenGradeRepository(db)
	grades, err := repo.FetchByResponses(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, grades)
}
