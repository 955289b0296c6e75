package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/storage"
)

type documentRepository interface {
	FindTypeByID(ctx context.Context, id string) (*models.DocumentType, error)
	Create(ctx context.Context, document *models.Document) error
	FindByID(ctx context.Context, id string) (*models.Document, error)
	ListByUser(ctx context.Context, userID string) ([]models.Document, error)
	ApplyReview(ctx context.Context, review *models.DocumentReview, status models.DocumentStatus) error
	ListRequiredStatus(ctx context.Context, userID string, role models.UserRole) ([]models.RequiredDocumentStatus, error)
	IsFullyApproved(ctx context.Context, userID string, role models.UserRole) (bool, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type blobStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
}

// DocumentUpload carries the uploaded blob and its metadata.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.Reader
}

// RecordUploadRequest identifies the owner and document type of an upload.
type RecordUploadRequest struct {
	UserID         string `form:"user_id" json:"user_id" validate:"required"`
	DocumentTypeID string `form:"document_type_id" json:"document_type_id" validate:"required"`
}

// ReviewRequest carries a reviewer verdict.
type ReviewRequest struct {
	Decision models.ReviewDecision `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Note     string                `json:"note"`
}

// DocumentDownload bundles a blob stream with response metadata.
type DocumentDownload struct {
	FileName string
	Content  io.ReadCloser
}

// DocumentServiceConfig bounds uploads and signs download tokens.
type DocumentServiceConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// DocumentService owns the document registry: uploads, reviews and the
// approval gate consumed by enrollment activation.
type DocumentService struct {
	repo      documentRepository
	users     userReader
	store     blobStore
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	config    DocumentServiceConfig
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(repo documentRepository, users userReader, store blobStore, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, config DocumentServiceConfig) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{repo: repo, users: users, store: store, signer: signer, validator: validate, logger: logger, config: config}
}

// RecordUpload stores the blob and creates a PENDING document row. The type
// must apply to the owner's role.
func (s *DocumentService) RecordUpload(ctx context.Context, req RecordUploadRequest, upload DocumentUpload) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload payload")
	}
	if s.config.MaxFileSizeBytes > 0 && upload.Size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds maximum allowed size")
	}
	if len(s.config.AllowedMIMEs) > 0 && !containsFold(s.config.AllowedMIMEs, upload.MimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type not allowed")
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	docType, err := s.repo.FindTypeByID(ctx, req.DocumentTypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document type")
	}
	if docType.Role != user.Role {
		return nil, appErrors.Clone(appErrors.ErrInvalidDocumentType, fmt.Sprintf("document type %s does not apply to role %s", docType.Name, user.Role))
	}

	documentID := uuid.NewString()
	relPath := filepath.Join("documents", user.ID, documentID+sanitizedExt(upload.Filename))
	storedPath, err := s.store.SaveStream(relPath, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	document := &models.Document{
		ID:             documentID,
		UserID:         req.UserID,
		DocumentTypeID: req.DocumentTypeID,
		FilePath:       storedPath,
		Status:         models.DocumentStatusPending,
	}
	if err := s.repo.Create(ctx, document); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}
	return document, nil
}

// Review applies a verdict. Re-reviewing an already reviewed document
// overwrites the decision; every verdict lands in the review trail with its
// own reviewer and timestamp. Rejection requires a note.
func (s *DocumentService) Review(ctx context.Context, documentID string, req ReviewRequest, reviewer *models.JWTClaims) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	note := strings.TrimSpace(req.Note)
	if req.Decision == models.ReviewDecisionReject && note == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingReviewNote, "")
	}

	if _, err := s.repo.FindByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}

	status := models.DocumentStatusApproved
	if req.Decision == models.ReviewDecisionReject {
		status = models.DocumentStatusRejected
	}
	review := &models.DocumentReview{
		DocumentID: documentID,
		ReviewerID: reviewer.UserID,
		Decision:   req.Decision,
		CreatedAt:  time.Now().UTC(),
	}
	if note != "" {
		review.Note = &note
	}
	if err := s.repo.ApplyReview(ctx, review, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply review")
	}

	document, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload document")
	}
	return document, nil
}

// RequiredTypes reports fulfilment of each required type for the user role.
func (s *DocumentService) RequiredTypes(ctx context.Context, userID string) ([]models.RequiredDocumentStatus, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	statuses, err := s.repo.ListRequiredStatus(ctx, userID, user.Role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list required documents")
	}
	return statuses, nil
}

// IsFullyApproved recomputes the approval gate from current state.
func (s *DocumentService) IsFullyApproved(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	approved, err := s.repo.IsFullyApproved(ctx, userID, user.Role)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check document approval")
	}
	return approved, nil
}

// GetDownloadURL issues a signed download token for a document blob.
func (s *DocumentService) GetDownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (string, error) {
	document, err := s.loadForActor(ctx, documentID, actor)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(document.ID, document.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, nil
}

// Download validates the signed token and streams the blob.
func (s *DocumentService) Download(ctx context.Context, documentID, token string, actor *models.JWTClaims) (*DocumentDownload, error) {
	document, err := s.loadForActor(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	resourceID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil || resourceID != document.ID || relPath != document.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	file, err := s.store.Open(document.FilePath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "stored file missing")
	}
	return &DocumentDownload{FileName: filepath.Base(document.FilePath), Content: file}, nil
}

func (s *DocumentService) loadForActor(ctx context.Context, documentID string, actor *models.JWTClaims) (*models.Document, error) {
	document, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if actor.Role != models.RoleAdmin && actor.UserID != document.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the document owner")
	}
	return document, nil
}

func sanitizedExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		return ""
	}
	return ext
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
