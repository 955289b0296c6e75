package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	standing    map[string]bool
	created     *models.Enrollment
	transitions []string
	detailErr   error
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var list []models.EnrollmentDetail
	for _, e := range m.enrollments {
		list = append(list, models.EnrollmentDetail{Enrollment: e})
	}
	return list, len(list), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsNonCancelled(ctx context.Context, studentID string) (bool, error) {
	return m.standing[studentID], nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enroll"
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.created = enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatusFrom(ctx context.Context, id string, from, to models.EnrollmentStatus, cancelledAt *time.Time) error {
	e, ok := m.enrollments[id]
	if !ok || e.Status != from {
		return repository.ErrStatusConflict
	}
	e.Status = to
	e.CancelledAt = cancelledAt
	m.enrollments[id] = e
	m.transitions = append(m.transitions, string(from)+"->"+string(to))
	return nil
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type mockApprovalGate struct {
	approved map[string]bool
}

func (m *mockApprovalGate) IsFullyApproved(ctx context.Context, userID string) (bool, error) {
	return m.approved[userID], nil
}

func newEnrollmentFixture(repo *mockEnrollmentRepo, gate *mockApprovalGate) *EnrollmentService {
	users := &mockUserReader{users: map[string]*models.User{
		"s1": {ID: "s1", Role: models.RoleStudent, Active: true},
		"t1": {ID: "t1", Role: models.RoleTeacher, Active: true},
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c1": {ID: "c1", Name: "Engineering", TermCount: 8},
	}}
	return NewEnrollmentService(repo, users, courses, gate, validator.New(), zap.NewNop())
}

func TestEnrollmentServiceCreate(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	detail, err := svc.Create(context.Background(), CreateEnrollmentRequest{StudentID: "s1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusAwaitingDocuments, detail.Status)
	require.NotNil(t, repo.created)
	assert.Equal(t, "s1", repo.created.StudentID)
}

func TestEnrollmentServiceCreateRejectsStandingEnrollment(t *testing.T) {
	repo := &mockEnrollmentRepo{standing: map[string]bool{"s1": true}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{StudentID: "s1", CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCreateRejectsNonStudent(t *testing.T) {
	svc := newEnrollmentFixture(&mockEnrollmentRepo{}, &mockApprovalGate{})

	_, err := svc.Create(context.Background(), CreateEnrollmentRequest{StudentID: "t1", CourseID: "c1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceActivateBlockedByDocuments(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusAwaitingDocuments},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{approved: map[string]bool{}})

	_, err := svc.Activate(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDocumentsPending.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.EnrollmentStatusAwaitingDocuments, repo.enrollments["e1"].Status)
}

func TestEnrollmentServiceActivate(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusAwaitingDocuments},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{approved: map[string]bool{"s1": true}})

	detail, err := svc.Activate(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
}

func TestEnrollmentServiceActivateIdempotent(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	detail, err := svc.Activate(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, detail.Status)
	assert.Empty(t, repo.transitions)
}

func TestEnrollmentServiceActivateIdempotentWrapsDetailFailure(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusActive},
		},
		detailErr: sql.ErrConnDone,
	}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	_, err := svc.Activate(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceActivateCancelled(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusCancelled},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{approved: map[string]bool{"s1": true}})

	_, err := svc.Activate(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancelTerminal(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	detail, err := svc.Cancel(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
	require.NotNil(t, detail.CancelledAt)

	_, err = svc.Cancel(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceReactivateFromRenewal(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusAwaitingRenewal},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	require.NoError(t, svc.ReactivateFromRenewal(context.Background(), "e1"))
	assert.Equal(t, models.EnrollmentStatusActive, repo.enrollments["e1"].Status)

	// Already ACTIVE counts as success.
	require.NoError(t, svc.ReactivateFromRenewal(context.Background(), "e1"))
}

func TestEnrollmentServiceReactivateConflict(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", Status: models.EnrollmentStatusAwaitingDocuments},
	}}
	svc := newEnrollmentFixture(repo, &mockApprovalGate{})

	err := svc.ReactivateFromRenewal(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}
