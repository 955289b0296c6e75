package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/jobs"
)

const sweepLockName = "reenrollment-sweep"

type renewalCandidateLister interface {
	ListRenewalCandidates(ctx context.Context) ([]models.RenewalCandidate, error)
}

type renewalContractWriter interface {
	Create(ctx context.Context, contract *models.Contract) error
}

type renewalMarker interface {
	MarkAwaitingRenewal(ctx context.Context, enrollmentID string) error
}

type sweepLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// ReenrollmentConfig tunes the rollover sweep.
type ReenrollmentConfig struct {
	TemplateID string
	LockTTL    time.Duration
}

// ReenrollmentSummary reports one sweep run.
type ReenrollmentSummary struct {
	Processed int  `json:"processed"`
	Renewed   int  `json:"renewed"`
	Completed int  `json:"completed"`
	Skipped   int  `json:"skipped"`
	LockHeld  bool `json:"lock_held,omitempty"`
}

// ReenrollmentService rolls ACTIVE enrollments into the next term: it issues
// the next-term contract and parks the enrollment in AWAITING_RENEWAL until
// the student accepts. Enrollments that have contracted every course term are
// left alone. The sweep is idempotent; the contract unique index and the CAS
// status update make a rerun converge instead of double-issuing.
type ReenrollmentService struct {
	enrollments renewalCandidateLister
	contracts   renewalContractWriter
	marker      renewalMarker
	locker      sweepLocker
	audit       auditRecorder
	queue       renderQueue
	logger      *zap.Logger
	config      ReenrollmentConfig
}

// NewReenrollmentService constructs ReenrollmentService. The locker may be
// nil for single-instance deployments and tests.
func NewReenrollmentService(enrollments renewalCandidateLister, contracts renewalContractWriter, marker renewalMarker, locker sweepLocker, audit auditRecorder, queue renderQueue, logger *zap.Logger, config ReenrollmentConfig) *ReenrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 10 * time.Minute
	}
	return &ReenrollmentService{
		enrollments: enrollments,
		contracts:   contracts,
		marker:      marker,
		locker:      locker,
		audit:       audit,
		queue:       queue,
		logger:      logger,
		config:      config,
	}
}

// Run executes one sweep across all ACTIVE enrollments.
func (s *ReenrollmentService) Run(ctx context.Context) (*ReenrollmentSummary, error) {
	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, sweepLockName, s.config.LockTTL)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire sweep lock")
		}
		if !acquired {
			s.logger.Info("reenrollment sweep already running elsewhere")
			return &ReenrollmentSummary{LockHeld: true}, nil
		}
		defer func() {
			if err := s.locker.Release(ctx, sweepLockName); err != nil {
				s.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	candidates, err := s.enrollments.ListRenewalCandidates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list renewal candidates")
	}

	summary := &ReenrollmentSummary{}
	for _, candidate := range candidates {
		summary.Processed++
		switch s.renewOne(ctx, candidate) {
		case renewOutcomeRenewed:
			summary.Renewed++
		case renewOutcomeCompleted:
			summary.Completed++
		default:
			summary.Skipped++
		}
	}

	s.logger.Info("reenrollment sweep finished",
		zap.Int("processed", summary.Processed),
		zap.Int("renewed", summary.Renewed),
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped))

	if s.audit != nil {
		payload, _ := json.Marshal(summary)
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			Action:    models.AuditActionReenrollmentRun,
			Resource:  "enrollments",
			NewValues: payload,
		}); err != nil {
			s.logger.Warn("failed to record sweep audit log", zap.Error(err))
		}
	}
	return summary, nil
}

type renewOutcome int

const (
	renewOutcomeSkipped renewOutcome = iota
	renewOutcomeRenewed
	renewOutcomeCompleted
)

func (s *ReenrollmentService) renewOne(ctx context.Context, candidate models.RenewalCandidate) renewOutcome {
	if candidate.ContractedTerms >= candidate.TermCount {
		return renewOutcomeCompleted
	}

	semester, year := nextTerm(candidate)
	contract := &models.Contract{
		EnrollmentID: &candidate.ID,
		UserID:       candidate.StudentID,
		TemplateID:   s.config.TemplateID,
		Semester:     semester,
		Year:         year,
	}
	err := s.contracts.Create(ctx, contract)
	duplicated := errors.Is(err, repository.ErrDuplicateContract)
	if err != nil && !duplicated {
		s.logger.Error("failed to issue renewal contract",
			zap.String("enrollment_id", candidate.ID),
			zap.Error(err))
		return renewOutcomeSkipped
	}
	if !duplicated && s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: JobTypeRenderContract, Payload: contract.ID}); err != nil {
			s.logger.Warn("failed to enqueue renewal contract render",
				zap.String("contract_id", contract.ID),
				zap.Error(err))
		}
	}

	// Flip even when the contract already existed: a prior run may have
	// crashed between issuing and parking.
	if err := s.marker.MarkAwaitingRenewal(ctx, candidate.ID); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return renewOutcomeSkipped
		}
		s.logger.Error("failed to park enrollment for renewal",
			zap.String("enrollment_id", candidate.ID),
			zap.Error(err))
		return renewOutcomeSkipped
	}
	if duplicated {
		return renewOutcomeSkipped
	}
	return renewOutcomeRenewed
}

// nextTerm computes the term following the last contracted one. Semester 2
// rolls over into semester 1 of the next year. An enrollment with no
// contracts yet starts at semester 1 of its enrollment year.
func nextTerm(candidate models.RenewalCandidate) (int, int) {
	if candidate.LastSemester == nil || candidate.LastYear == nil {
		return 1, candidate.EnrolledAt.Year()
	}
	if *candidate.LastSemester >= 2 {
		return 1, *candidate.LastYear + 1
	}
	return 2, *candidate.LastYear
}
