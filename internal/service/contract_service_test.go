package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/jobs"
	"github.com/noah-isme/uni-enroll-api/pkg/storage"
)

type mockContractRepo struct {
	contracts map[string]*models.Contract
	templates map[string]*models.ContractTemplate
}

func (m *mockContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	if m.contracts == nil {
		m.contracts = make(map[string]*models.Contract)
	}
	if contract.ID == "" {
		contract.ID = fmt.Sprintf("ct-%d", len(m.contracts)+1)
	}
	for _, existing := range m.contracts {
		if existing.EnrollmentID != nil && contract.EnrollmentID != nil &&
			*existing.EnrollmentID == *contract.EnrollmentID &&
			existing.Semester == contract.Semester && existing.Year == contract.Year {
			return repository.ErrDuplicateContract
		}
	}
	contract.CreatedAt = time.Now().UTC()
	copied := *contract
	m.contracts[contract.ID] = &copied
	return nil
}

func (m *mockContractRepo) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	if c, ok := m.contracts[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockContractRepo) ExistsForTerm(ctx context.Context, enrollmentID string, semester, year int) (bool, error) {
	for _, c := range m.contracts {
		if c.EnrollmentID != nil && *c.EnrollmentID == enrollmentID && c.Semester == semester && c.Year == year {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockContractRepo) Accept(ctx context.Context, id string, acceptedAt time.Time) error {
	c, ok := m.contracts[id]
	if !ok || c.AcceptedAt != nil {
		return repository.ErrContractAccepted
	}
	c.AcceptedAt = &acceptedAt
	return nil
}

func (m *mockContractRepo) SetFilePath(ctx context.Context, id, filePath string) error {
	if c, ok := m.contracts[id]; ok {
		c.FilePath = &filePath
	}
	return nil
}

func (m *mockContractRepo) List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, error) {
	var list []models.Contract
	for _, c := range m.contracts {
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		list = append(list, *c)
	}
	return list, nil
}

func (m *mockContractRepo) FindTemplateByID(ctx context.Context, id string) (*models.ContractTemplate, error) {
	if tpl, ok := m.templates[id]; ok {
		return tpl, nil
	}
	return nil, sql.ErrNoRows
}

type mockRenewalActivator struct {
	reactivated []string
	err         error
}

func (m *mockRenewalActivator) ReactivateFromRenewal(ctx context.Context, enrollmentID string) error {
	m.reactivated = append(m.reactivated, enrollmentID)
	return m.err
}

type mockAuditRecorder struct {
	logs []models.AuditLog
}

func (m *mockAuditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type mockRenderQueue struct {
	jobs []jobs.Job
}

func (m *mockRenderQueue) Enqueue(job jobs.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func strPtr(s string) *string { return &s }

type contractFixture struct {
	svc      *ContractService
	repo     *mockContractRepo
	renewals *mockRenewalActivator
	audit    *mockAuditRecorder
	queue    *mockRenderQueue
}

func newContractFixture(t *testing.T) *contractFixture {
	t.Helper()
	repo := &mockContractRepo{templates: map[string]*models.ContractTemplate{
		"tpl1": {ID: "tpl1", Name: "Standard", Body: "Agreement for {{student_name}} on {{course_name}}, term {{semester}}/{{year}}."},
	}}
	enrollments := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusActive},
	}}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	renewals := &mockRenewalActivator{}
	audit := &mockAuditRecorder{}
	queue := &mockRenderQueue{}
	renderer := NewContractRenderer(store, "Test University")
	signer := storage.NewSignedURLSigner("contract-secret", time.Minute)
	svc := NewContractService(repo, enrollments, renewals, audit, renderer, queue, store, signer, validator.New(), zap.NewNop())
	return &contractFixture{svc: svc, repo: repo, renewals: renewals, audit: audit, queue: queue}
}

func TestContractServiceGenerate(t *testing.T) {
	f := newContractFixture(t)

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)
	assert.Nil(t, contract.FilePath)
	assert.Equal(t, "s1", contract.UserID)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, JobTypeRenderContract, f.queue.jobs[0].Type)
}

func TestContractServiceGenerateWithoutEnrollment(t *testing.T) {
	f := newContractFixture(t)

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		UserID: "s1", TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)
	assert.Nil(t, contract.EnrollmentID)
	assert.Equal(t, "s1", contract.UserID)
	require.Len(t, f.queue.jobs, 1)

	// Acceptance works without an enrollment link and never touches the
	// renewal path.
	signer := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	accepted, err := f.svc.Accept(context.Background(), contract.ID, signer)
	require.NoError(t, err)
	require.NotNil(t, accepted.AcceptedAt)
	assert.Empty(t, f.renewals.reactivated)
}

func TestContractServiceGenerateRequiresSigner(t *testing.T) {
	f := newContractFixture(t)

	_, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestContractServiceGenerateDuplicate(t *testing.T) {
	f := newContractFixture(t)

	first, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)

	_, err = f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateContract.Code, appErrors.FromError(err).Code)

	unchanged, err := f.repo.FindByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Nil(t, unchanged.AcceptedAt)
}

func TestContractServiceAcceptRoundTrip(t *testing.T) {
	f := newContractFixture(t)
	signer := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)

	accepted, err := f.svc.Accept(context.Background(), contract.ID, signer)
	require.NoError(t, err)
	require.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, []string{"e1"}, f.renewals.reactivated)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionContractAccept, f.audit.logs[0].Action)

	_, err = f.svc.Accept(context.Background(), contract.ID, signer)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAccepted.Code, appErrors.FromError(err).Code)
}

func TestContractServiceAcceptForbiddenForStranger(t *testing.T) {
	f := newContractFixture(t)

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)

	stranger := &models.JWTClaims{UserID: "s9", Role: models.RoleStudent}
	_, err = f.svc.Accept(context.Background(), contract.ID, stranger)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestContractServiceDownloadBackfillsRender(t *testing.T) {
	f := newContractFixture(t)
	signer := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 1, Year: 2025,
	})
	require.NoError(t, err)
	require.Nil(t, contract.FilePath)

	token, err := f.svc.GetDownloadURL(context.Background(), contract.ID, signer)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	rendered, err := f.repo.FindByID(context.Background(), contract.ID)
	require.NoError(t, err)
	require.NotNil(t, rendered.FilePath)

	result, err := f.svc.Download(context.Background(), contract.ID, token, signer)
	require.NoError(t, err)
	defer result.Content.Close() //nolint:errcheck
	assert.Contains(t, result.FileName, ".pdf")
}

func TestContractServiceRenderJobIdempotent(t *testing.T) {
	f := newContractFixture(t)

	contract, err := f.svc.Generate(context.Background(), GenerateContractRequest{
		EnrollmentID: strPtr("e1"), TemplateID: "tpl1", Semester: 2, Year: 2025,
	})
	require.NoError(t, err)

	job := jobs.Job{ID: "j1", Type: JobTypeRenderContract, Payload: contract.ID}
	require.NoError(t, f.svc.RenderJobHandler(context.Background(), job))

	first, err := f.repo.FindByID(context.Background(), contract.ID)
	require.NoError(t, err)
	require.NotNil(t, first.FilePath)

	require.NoError(t, f.svc.RenderJobHandler(context.Background(), job))
	second, err := f.repo.FindByID(context.Background(), contract.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.FilePath, *second.FilePath)
}
