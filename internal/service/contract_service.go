package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/jobs"
	"github.com/noah-isme/uni-enroll-api/pkg/storage"
)

// JobTypeRenderContract names the background rendering job.
const JobTypeRenderContract = "contract.render"

type contractRepository interface {
	Create(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, id string) (*models.Contract, error)
	ExistsForTerm(ctx context.Context, enrollmentID string, semester, year int) (bool, error)
	Accept(ctx context.Context, id string, acceptedAt time.Time) error
	SetFilePath(ctx context.Context, id, filePath string) error
	List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, error)
	FindTemplateByID(ctx context.Context, id string) (*models.ContractTemplate, error)
}

type enrollmentReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

type renewalActivator interface {
	ReactivateFromRenewal(ctx context.Context, enrollmentID string) error
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type renderQueue interface {
	Enqueue(job jobs.Job) error
}

// GenerateContractRequest describes a term-scoped contract issuance. The
// enrollment link is optional: legacy and acceptance-first contracts are
// issued directly against a user, with UserID naming the signer. When an
// enrollment is linked the signer is derived from it instead.
type GenerateContractRequest struct {
	UserID       string  `json:"user_id" validate:"required_without=EnrollmentID"`
	EnrollmentID *string `json:"enrollment_id,omitempty"`
	TemplateID   string  `json:"template_id" validate:"required"`
	Semester     int     `json:"semester" validate:"required,oneof=1 2"`
	Year         int     `json:"year" validate:"required,min=2000"`
}

// ContractDownload bundles the rendered PDF stream with its filename.
type ContractDownload struct {
	FileName string
	Content  io.ReadCloser
}

// ContractService issues, renders and accepts term contracts. Issuance never
// waits on rendering: the row is persisted with a NULL file path and a render
// job is queued; any later read path backfills synchronously if the job has
// not landed yet.
type ContractService struct {
	repo        contractRepository
	enrollments enrollmentReader
	renewals    renewalActivator
	audit       auditRecorder
	renderer    *ContractRenderer
	queue       renderQueue
	store       blobStore
	signer      *storage.SignedURLSigner
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewContractService constructs ContractService. The queue may be nil, in
// which case rendering happens lazily on first access.
func NewContractService(repo contractRepository, enrollments enrollmentReader, renewals renewalActivator, audit auditRecorder, renderer *ContractRenderer, queue renderQueue, store blobStore, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger) *ContractService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContractService{
		repo:        repo,
		enrollments: enrollments,
		renewals:    renewals,
		audit:       audit,
		renderer:    renderer,
		queue:       queue,
		store:       store,
		signer:      signer,
		validator:   validate,
		logger:      logger,
	}
}

// Generate issues one contract per (enrollment, semester, year). The unique
// index is the real arbiter; the ExistsForTerm pre-check only gives a cleaner
// error on the common path. Enrollment-less contracts carry no term
// uniqueness (the partial index ignores NULL enrollment_id).
func (s *ContractService) Generate(ctx context.Context, req GenerateContractRequest) (*models.Contract, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contract payload")
	}

	userID := req.UserID
	if req.EnrollmentID != nil {
		detail, err := s.enrollments.FindDetailByID(ctx, *req.EnrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if detail.Status == models.EnrollmentStatusCancelled {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is cancelled")
		}
		userID = detail.StudentID
	}
	if _, err := s.repo.FindTemplateByID(ctx, req.TemplateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}

	if req.EnrollmentID != nil {
		exists, err := s.repo.ExistsForTerm(ctx, *req.EnrollmentID, req.Semester, req.Year)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing contracts")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrDuplicateContract, "")
		}
	}

	contract := &models.Contract{
		EnrollmentID: req.EnrollmentID,
		UserID:       userID,
		TemplateID:   req.TemplateID,
		Semester:     req.Semester,
		Year:         req.Year,
	}
	if err := s.repo.Create(ctx, contract); err != nil {
		if errors.Is(err, repository.ErrDuplicateContract) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateContract, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create contract")
	}

	s.enqueueRender(contract.ID)
	return contract, nil
}

// Accept stamps acceptance exactly once and, for renewal contracts, flips the
// enrollment back to ACTIVE. Acceptance never waits on the rendered PDF.
func (s *ContractService) Accept(ctx context.Context, id string, actor *models.JWTClaims) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract")
	}
	if actor.Role != models.RoleAdmin && actor.UserID != contract.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the contract signer")
	}

	acceptedAt := time.Now().UTC()
	if err := s.repo.Accept(ctx, id, acceptedAt); err != nil {
		if errors.Is(err, repository.ErrContractAccepted) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyAccepted, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept contract")
	}

	if contract.EnrollmentID != nil && s.renewals != nil {
		// Only enrollments parked in AWAITING_RENEWAL move; first-cycle
		// contracts leave activation to the document gate.
		if err := s.renewals.ReactivateFromRenewal(ctx, *contract.EnrollmentID); err != nil {
			s.logger.Info("acceptance did not reactivate enrollment",
				zap.String("contract_id", id),
				zap.String("enrollment_id", *contract.EnrollmentID),
				zap.Error(err))
		}
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionContractAccept,
			Resource:   "contracts",
			ResourceID: &id,
			NewValues:  []byte(fmt.Sprintf(`{"accepted_at":%q}`, acceptedAt.Format(time.RFC3339))),
		}); err != nil {
			s.logger.Warn("failed to record contract acceptance audit log", zap.Error(err))
		}
	}

	contract, err = s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload contract")
	}
	return contract, nil
}

// Get returns a contract visible to the actor.
func (s *ContractService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Contract, error) {
	return s.loadForActor(ctx, id, actor)
}

// List returns contracts matching the filter. Non-admin actors are pinned to
// their own contracts.
func (s *ContractService) List(ctx context.Context, filter models.ContractFilter, actor *models.JWTClaims) ([]models.Contract, error) {
	if actor.Role != models.RoleAdmin {
		filter.UserID = actor.UserID
	}
	contracts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contracts")
	}
	return contracts, nil
}

// GetDownloadURL renders the PDF if needed and returns a signed token.
func (s *ContractService) GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	contract, err := s.loadForActor(ctx, id, actor)
	if err != nil {
		return "", err
	}
	path, err := s.ensureRendered(ctx, contract)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(contract.ID, path)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, nil
}

// Download validates the signed token and streams the rendered PDF, rendering
// on the spot when the background job has not completed.
func (s *ContractService) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (*ContractDownload, error) {
	contract, err := s.loadForActor(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	resourceID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil || resourceID != contract.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	path, err := s.ensureRendered(ctx, contract)
	if err != nil {
		return nil, err
	}
	if relPath != path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	file, err := s.store.Open(path)
	if err != nil {
		// Stored file lost after render; regenerate once.
		contract.FilePath = nil
		if path, err = s.ensureRendered(ctx, contract); err != nil {
			return nil, err
		}
		if file, err = s.store.Open(path); err != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rendered contract missing")
		}
	}
	return &ContractDownload{FileName: filepath.Base(path), Content: file}, nil
}

// RenderJobHandler is the queue handler for contract rendering.
func (s *ContractService) RenderJobHandler(ctx context.Context, job jobs.Job) error {
	contractID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected render payload %T", job.Payload)
	}
	contract, err := s.repo.FindByID(ctx, contractID)
	if err != nil {
		return fmt.Errorf("load contract %s: %w", contractID, err)
	}
	if contract.FilePath != nil {
		return nil
	}
	_, err = s.ensureRendered(ctx, contract)
	return err
}

func (s *ContractService) loadForActor(ctx context.Context, id string, actor *models.JWTClaims) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "contract not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load contract")
	}
	if actor.Role != models.RoleAdmin && actor.UserID != contract.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the contract signer")
	}
	return contract, nil
}

func (s *ContractService) ensureRendered(ctx context.Context, contract *models.Contract) (string, error) {
	if contract.FilePath != nil {
		return *contract.FilePath, nil
	}
	template, err := s.repo.FindTemplateByID(ctx, contract.TemplateID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	fields := ContractFields{
		Semester: contract.Semester,
		Year:     contract.Year,
		IssuedOn: contract.CreatedAt,
	}
	if contract.EnrollmentID != nil {
		detail, err := s.enrollments.FindDetailByID(ctx, *contract.EnrollmentID)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		fields.StudentName = detail.StudentName
		fields.CourseName = detail.CourseName
	}
	path, err := s.renderer.Render(contract.ID, template.Body, fields)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render contract")
	}
	if err := s.repo.SetFilePath(ctx, contract.ID, path); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record rendered contract")
	}
	contract.FilePath = &path
	return path, nil
}

func (s *ContractService) enqueueRender(contractID string) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeRenderContract,
		Payload: contractID,
	})
	if err != nil {
		// Lazy rendering on first access covers a failed enqueue.
		s.logger.Warn("failed to enqueue contract render", zap.String("contract_id", contractID), zap.Error(err))
	}
}
