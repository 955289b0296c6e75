package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

func TestDocumentRepositoryApplyReview(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status = $2, reviewed_by = $3, review_note = $4, updated_at = $5 WHERE id = $1")).
		WithArgs("d1", models.DocumentStatusApproved, "admin", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO document_reviews")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	review := &models.DocumentReview{
		DocumentID: "d1",
		ReviewerID: "admin",
		Decision:   models.ReviewDecisionApprove,
	}
	require.NoError(t, repo.ApplyReview(context.Background(), review, models.DocumentStatusApproved))
	assert.NotEmpty(t, review.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryApplyReviewMissingDocument(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyReview(context.Background(), &models.DocumentReview{
		DocumentID: "missing",
		ReviewerID: "admin",
		Decision:   models.ReviewDecisionReject,
	}, models.DocumentStatusRejected)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryIsFullyApproved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT NOT EXISTS").
		WithArgs("s1", models.RoleStudent).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	approved, err := repo.IsFullyApproved(context.Background(), "s1", models.RoleStudent)
	require.NoError(t, err)
	assert.True(t, approved)
	require.NoError(t, mock.ExpectationsWereMet())
}
