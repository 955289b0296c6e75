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

func TestContractRepositoryAccept(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContractRepository(db)
	acceptedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts SET accepted_at = $2, updated_at = $2 WHERE id = $1 AND accepted_at IS NULL")).
		WithArgs("ct1", acceptedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Accept(context.Background(), "ct1", acceptedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryAcceptAlreadyAccepted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContractRepository(db)

	// The accepted_at IS NULL guard filters out the row on a second accept.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts SET accepted_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Accept(context.Background(), "ct1", time.Now().UTC())
	assert.ErrorIs(t, err, ErrContractAccepted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryCreateDuplicateTerm(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContractRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contracts")).
		WillReturnError(&pq.Error{Code: "23505"})

	enrollmentID := "e1"
	err := repo.Create(context.Background(), &models.Contract{
		EnrollmentID: &enrollmentID,
		UserID:       "s1",
		TemplateID:   "tpl1",
		Semester:     1,
		Year:         2025,
	})
	assert.ErrorIs(t, err, ErrDuplicateContract)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositorySetFilePath(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContractRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts SET file_path = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("ct1", "contracts/ct1.pdf", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetFilePath(context.Background(), "ct1", "contracts/ct1.pdf"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContractRepositoryListFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewContractRepository(db)
	now := time.Now().UTC()
	enrollmentID := "e1"

	rows := sqlmock.NewRows([]string{"id", "enrollment_id", "user_id", "template_id", "file_path", "accepted_at", "semester", "year", "created_at", "updated_at"}).
		AddRow("ct1", enrollmentID, "s1", "tpl1", nil, nil, 1, 2025, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("enrollment_id = $1 AND semester = $2 AND accepted_at IS NULL ORDER BY year DESC, semester DESC")).
		WithArgs(enrollmentID, 1).
		WillReturnRows(rows)

	accepted := false
	contracts, err := repo.List(context.Background(), models.ContractFilter{
		EnrollmentID: enrollmentID,
		Semester:     1,
		Accepted:     &accepted,
	})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, "ct1", contracts[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
