package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

func TestGradeRepositoryUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grades")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	value := 8.5
	grade := &models.Grade{EvaluationID: "ev1", StudentID: "s1", Grade: &value}
	require.NoError(t, repo.Upsert(context.Background(), grade))
	assert.NotEmpty(t, grade.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryUpsertRaced(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGradeRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grades")).
		WillReturnError(&pq.Error{Code: "23505"})

	value := 8.5
	err := repo.Upsert(context.Background(), &models.Grade{EvaluationID: "ev1", StudentID: "s1", Grade: &value})
	assert.ErrorIs(t, err, ErrDuplicateGrade)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListByEvaluation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGradeRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "evaluation_id", "student_id", "grade", "concept", "created_at", "updated_at"}).
		AddRow("g1", "ev1", "s1", 8.5, nil, now, now).
		AddRow("g2", "ev1", "s2", nil, string(models.ConceptSatisfactory), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, evaluation_id, student_id, grade, concept, created_at, updated_at")).
		WithArgs("ev1").
		WillReturnRows(rows)

	grades, err := repo.ListByEvaluation(context.Background(), "ev1")
	require.NoError(t, err)
	require.Len(t, grades, 2)
	assert.Equal(t, "s1", grades[0].StudentID)
	require.NoError(t, mock.ExpectationsWereMet())
}
