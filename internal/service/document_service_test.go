package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/storage"
)

type mockDocumentRepo struct {
	types     map[string]*models.DocumentType
	documents map[string]*models.Document
	reviews   []models.DocumentReview
	approved  map[string]bool
}

func (m *mockDocumentRepo) FindTypeByID(ctx context.Context, id string) (*models.DocumentType, error) {
	if t, ok := m.types[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) Create(ctx context.Context, document *models.Document) error {
	if m.documents == nil {
		m.documents = make(map[string]*models.Document)
	}
	m.documents[document.ID] = document
	return nil
}

func (m *mockDocumentRepo) FindByID(ctx context.Context, id string) (*models.Document, error) {
	if d, ok := m.documents[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	var list []models.Document
	for _, d := range m.documents {
		if d.UserID == userID {
			list = append(list, *d)
		}
	}
	return list, nil
}

func (m *mockDocumentRepo) ApplyReview(ctx context.Context, review *models.DocumentReview, status models.DocumentStatus) error {
	d, ok := m.documents[review.DocumentID]
	if !ok {
		return sql.ErrNoRows
	}
	d.Status = status
	d.ReviewedBy = &review.ReviewerID
	d.ReviewNote = review.Note
	m.reviews = append(m.reviews, *review)
	return nil
}

func (m *mockDocumentRepo) ListRequiredStatus(ctx context.Context, userID string, role models.UserRole) ([]models.RequiredDocumentStatus, error) {
	return nil, nil
}

func (m *mockDocumentRepo) IsFullyApproved(ctx context.Context, userID string, role models.UserRole) (bool, error) {
	return m.approved[userID], nil
}

func newDocumentFixture(t *testing.T, repo *mockDocumentRepo) *DocumentService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	users := &mockUserReader{users: map[string]*models.User{
		"s1":    {ID: "s1", Role: models.RoleStudent, Active: true},
		"admin": {ID: "admin", Role: models.RoleAdmin, Active: true},
	}}
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	return NewDocumentService(repo, users, store, signer, validator.New(), zap.NewNop(), DocumentServiceConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"application/pdf"},
	})
}

func TestDocumentServiceRecordUpload(t *testing.T) {
	repo := &mockDocumentRepo{types: map[string]*models.DocumentType{
		"dt1": {ID: "dt1", Name: "ID card", Role: models.RoleStudent, Required: true},
	}}
	svc := newDocumentFixture(t, repo)

	document, err := svc.RecordUpload(context.Background(), RecordUploadRequest{UserID: "s1", DocumentTypeID: "dt1"}, DocumentUpload{
		Filename: "id.pdf",
		Size:     128,
		MimeType: "application/pdf",
		Content:  strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusPending, document.Status)
	assert.Contains(t, document.FilePath, "s1")
}

func TestDocumentServiceRecordUploadRoleMismatch(t *testing.T) {
	repo := &mockDocumentRepo{types: map[string]*models.DocumentType{
		"dt-teacher": {ID: "dt-teacher", Name: "Diploma", Role: models.RoleTeacher, Required: true},
	}}
	svc := newDocumentFixture(t, repo)

	_, err := svc.RecordUpload(context.Background(), RecordUploadRequest{UserID: "s1", DocumentTypeID: "dt-teacher"}, DocumentUpload{
		Filename: "diploma.pdf",
		Size:     128,
		MimeType: "application/pdf",
		Content:  strings.NewReader("%PDF-1.4"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidDocumentType.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceRecordUploadTooLarge(t *testing.T) {
	repo := &mockDocumentRepo{types: map[string]*models.DocumentType{
		"dt1": {ID: "dt1", Role: models.RoleStudent},
	}}
	svc := newDocumentFixture(t, repo)

	_, err := svc.RecordUpload(context.Background(), RecordUploadRequest{UserID: "s1", DocumentTypeID: "dt1"}, DocumentUpload{
		Filename: "big.pdf",
		Size:     4096,
		MimeType: "application/pdf",
		Content:  strings.NewReader("..."),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceReviewRejectRequiresNote(t *testing.T) {
	repo := &mockDocumentRepo{documents: map[string]*models.Document{
		"d1": {ID: "d1", UserID: "s1", Status: models.DocumentStatusPending},
	}}
	svc := newDocumentFixture(t, repo)
	reviewer := &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}

	_, err := svc.Review(context.Background(), "d1", ReviewRequest{Decision: models.ReviewDecisionReject}, reviewer)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingReviewNote.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.reviews)
}

func TestDocumentServiceReviewOverwriteKeepsTrail(t *testing.T) {
	repo := &mockDocumentRepo{documents: map[string]*models.Document{
		"d1": {ID: "d1", UserID: "s1", Status: models.DocumentStatusPending},
	}}
	svc := newDocumentFixture(t, repo)
	reviewer := &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin}

	document, err := svc.Review(context.Background(), "d1", ReviewRequest{Decision: models.ReviewDecisionApprove}, reviewer)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, document.Status)

	document, err = svc.Review(context.Background(), "d1", ReviewRequest{Decision: models.ReviewDecisionReject, Note: "blurry scan"}, reviewer)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusRejected, document.Status)
	require.Len(t, repo.reviews, 2)
	assert.Equal(t, models.ReviewDecisionApprove, repo.reviews[0].Decision)
	assert.Equal(t, models.ReviewDecisionReject, repo.reviews[1].Decision)
}

func TestDocumentServiceDownloadRoundTrip(t *testing.T) {
	repo := &mockDocumentRepo{
		types: map[string]*models.DocumentType{"dt1": {ID: "dt1", Role: models.RoleStudent}},
	}
	svc := newDocumentFixture(t, repo)
	owner := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	document, err := svc.RecordUpload(context.Background(), RecordUploadRequest{UserID: "s1", DocumentTypeID: "dt1"}, DocumentUpload{
		Filename: "id.pdf",
		Size:     8,
		MimeType: "application/pdf",
		Content:  strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)

	token, err := svc.GetDownloadURL(context.Background(), document.ID, owner)
	require.NoError(t, err)

	result, err := svc.Download(context.Background(), document.ID, token, owner)
	require.NoError(t, err)
	defer result.Content.Close() //nolint:errcheck
	assert.NotEmpty(t, result.FileName)

	other := &models.JWTClaims{UserID: "s2", Role: models.RoleStudent}
	_, err = svc.Download(context.Background(), document.ID, token, other)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
