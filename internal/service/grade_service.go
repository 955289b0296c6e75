package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
)

// Per-item failure codes returned inside a batch result.
const (
	GradeFailStudentNotInClass = "STUDENT_NOT_IN_CLASS"
	GradeFailTypeMismatch      = "TYPE_MISMATCH"
	GradeFailOutOfRange        = "GRADE_OUT_OF_RANGE"
	GradeFailDuplicate         = "DUPLICATE_SUBMISSION"
	GradeFailInternal          = "WRITE_FAILED"
)

type evaluationRepository interface {
	Create(ctx context.Context, evaluation *models.Evaluation) error
	FindByID(ctx context.Context, id string) (*models.Evaluation, error)
}

type gradeRepository interface {
	Upsert(ctx context.Context, grade *models.Grade) error
	ListByEvaluation(ctx context.Context, evaluationID string) ([]models.Grade, error)
}

type classRoster interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	MemberIDs(ctx context.Context, classID string) (map[string]bool, error)
}

// CreateEvaluationRequest describes a new gradable event.
type CreateEvaluationRequest struct {
	ClassID      string                `json:"class_id" validate:"required"`
	DisciplineID string                `json:"discipline_id" validate:"required"`
	Name         string                `json:"name" validate:"required,min=2,max=120"`
	HeldOn       time.Time             `json:"held_on" validate:"required"`
	Type         models.EvaluationType `json:"type" validate:"required,oneof=GRADE CONCEPT"`
}

// GradeItem is one student's submitted value.
type GradeItem struct {
	StudentID string               `json:"student_id" validate:"required"`
	Grade     *float64             `json:"grade,omitempty"`
	Concept   *models.GradeConcept `json:"concept,omitempty"`
}

// SubmitBatchRequest carries the full batch for one evaluation.
// LegacyImport enables the clamping rule for migrated historical data:
// values above 10 are capped instead of rejected. Negative values are
// rejected in every mode.
type SubmitBatchRequest struct {
	Grades       []GradeItem `json:"grades" validate:"required,min=1,max=500,dive"`
	LegacyImport bool        `json:"legacy_import"`
}

// GradeItemResult is the discriminated per-item outcome.
type GradeItemResult struct {
	StudentID string        `json:"student_id"`
	Status    string        `json:"status"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Grade     *models.Grade `json:"grade,omitempty"`
}

// BatchResult aggregates a batch submission. A non-zero Failed count is a
// successful call carrying mixed results, not an error.
type BatchResult struct {
	Total   int               `json:"total"`
	Success int               `json:"success"`
	Failed  int               `json:"failed"`
	Results []GradeItemResult `json:"results"`
}

// GradeService owns evaluations and the batch grade pipeline.
type GradeService struct {
	evaluations evaluationRepository
	grades      gradeRepository
	classes     classRoster
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(evaluations evaluationRepository, grades gradeRepository, classes classRoster, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{evaluations: evaluations, grades: grades, classes: classes, validator: validate, logger: logger}
}

// CreateEvaluation registers a gradable event owned by the acting teacher.
func (s *GradeService) CreateEvaluation(ctx context.Context, req CreateEvaluationRequest, actor *models.JWTClaims) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}
	if _, err := s.classes.FindByID(ctx, req.ClassID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	evaluation := &models.Evaluation{
		ClassID:      req.ClassID,
		TeacherID:    actor.UserID,
		DisciplineID: req.DisciplineID,
		Name:         req.Name,
		HeldOn:       req.HeldOn,
		Type:         req.Type,
	}
	if err := s.evaluations.Create(ctx, evaluation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation")
	}
	return evaluation, nil
}

// ListGrades returns all persisted grades for an evaluation.
func (s *GradeService) ListGrades(ctx context.Context, evaluationID string, actor *models.JWTClaims) ([]models.Grade, error) {
	evaluation, err := s.loadEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTeacher && actor.UserID != evaluation.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the evaluation owner")
	}
	grades, err := s.grades.ListByEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, nil
}

// SubmitBatch applies each grade item independently: a failed item is
// recorded in the result and never aborts the rest.
func (s *GradeService) SubmitBatch(ctx context.Context, evaluationID string, req SubmitBatchRequest, actor *models.JWTClaims) (*BatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	evaluation, err := s.loadEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTeacher && actor.UserID != evaluation.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the evaluation owner")
	}
	members, err := s.classes.MemberIDs(ctx, evaluation.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}

	result := &BatchResult{Total: len(req.Grades), Results: make([]GradeItemResult, 0, len(req.Grades))}
	for _, item := range req.Grades {
		outcome := s.applyItem(ctx, evaluation, members, item, req.LegacyImport)
		if outcome.Status == "success" {
			result.Success++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, outcome)
	}

	s.logger.Info("grade batch applied",
		zap.String("evaluation_id", evaluationID),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *GradeService) applyItem(ctx context.Context, evaluation *models.Evaluation, members map[string]bool, item GradeItem, legacyImport bool) GradeItemResult {
	failed := func(code, message string) GradeItemResult {
		return GradeItemResult{StudentID: item.StudentID, Status: "failed", Code: code, Message: message}
	}

	if !members[item.StudentID] {
		return failed(GradeFailStudentNotInClass, "student is not rostered in the evaluation's class")
	}

	grade := &models.Grade{EvaluationID: evaluation.ID, StudentID: item.StudentID}
	switch evaluation.Type {
	case models.EvaluationTypeGrade:
		if item.Grade == nil || item.Concept != nil {
			return failed(GradeFailTypeMismatch, "numeric grade required for GRADE evaluations")
		}
		value := *item.Grade
		if value < 0 {
			return failed(GradeFailOutOfRange, "grade must not be negative")
		}
		if value > 10 {
			if !legacyImport {
				return failed(GradeFailOutOfRange, "grade must be between 0 and 10")
			}
			value = 10
		}
		grade.Grade = &value
	case models.EvaluationTypeConcept:
		if item.Concept == nil || item.Grade != nil {
			return failed(GradeFailTypeMismatch, "concept verdict required for CONCEPT evaluations")
		}
		concept := *item.Concept
		if concept != models.ConceptSatisfactory && concept != models.ConceptUnsatisfactory {
			return failed(GradeFailTypeMismatch, fmt.Sprintf("unknown concept %q", concept))
		}
		grade.Concept = &concept
	default:
		return failed(GradeFailTypeMismatch, fmt.Sprintf("unknown evaluation type %q", evaluation.Type))
	}

	if err := s.grades.Upsert(ctx, grade); err != nil {
		if errors.Is(err, repository.ErrDuplicateGrade) {
			return failed(GradeFailDuplicate, "concurrent submission for the same student")
		}
		s.logger.Error("grade write failed",
			zap.String("evaluation_id", evaluation.ID),
			zap.String("student_id", item.StudentID),
			zap.Error(err))
		return failed(GradeFailInternal, "failed to persist grade")
	}
	return GradeItemResult{StudentID: item.StudentID, Status: "success", Grade: grade}
}

func (s *GradeService) loadEvaluation(ctx context.Context, id string) (*models.Evaluation, error) {
	evaluation, err := s.evaluations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation")
	}
	return evaluation, nil
}
