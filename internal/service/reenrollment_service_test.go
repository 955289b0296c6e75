package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
)

type stubCandidateLister struct {
	candidates []models.RenewalCandidate
}

func (s *stubCandidateLister) ListRenewalCandidates(ctx context.Context) ([]models.RenewalCandidate, error) {
	return s.candidates, nil
}

type stubRenewalMarker struct {
	marked []string
	err    error
}

func (s *stubRenewalMarker) MarkAwaitingRenewal(ctx context.Context, enrollmentID string) error {
	if s.err != nil {
		return s.err
	}
	s.marked = append(s.marked, enrollmentID)
	return nil
}

type stubSweepLocker struct {
	held     bool
	acquired int
	released int
}

func (s *stubSweepLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	s.acquired++
	return !s.held, nil
}

func (s *stubSweepLocker) Release(ctx context.Context, name string) error {
	s.released++
	return nil
}

func intPtr(v int) *int { return &v }

func candidate(id string, contracted, total int, lastSem, lastYear *int) models.RenewalCandidate {
	return models.RenewalCandidate{
		Enrollment: models.Enrollment{
			ID:         id,
			StudentID:  "s-" + id,
			EnrolledAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		TermCount:       total,
		ContractedTerms: contracted,
		LastSemester:    lastSem,
		LastYear:        lastYear,
	}
}

func TestReenrollmentRunRenewsAndParks(t *testing.T) {
	contracts := &mockContractRepo{}
	marker := &stubRenewalMarker{}
	audit := &mockAuditRecorder{}
	queue := &mockRenderQueue{}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 2, 8, intPtr(2), intPtr(2025)),
	}}
	svc := NewReenrollmentService(lister, contracts, marker, nil, audit, queue, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Renewed)
	assert.Equal(t, []string{"e1"}, marker.marked)
	require.Len(t, queue.jobs, 1)

	// Semester 2 rolls into semester 1 of the next year.
	require.Len(t, contracts.contracts, 1)
	for _, c := range contracts.contracts {
		assert.Equal(t, 1, c.Semester)
		assert.Equal(t, 2026, c.Year)
		assert.Equal(t, "tpl1", c.TemplateID)
	}
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionReenrollmentRun, audit.logs[0].Action)
}

func TestReenrollmentRunSkipsCompleted(t *testing.T) {
	contracts := &mockContractRepo{}
	marker := &stubRenewalMarker{}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 8, 8, intPtr(2), intPtr(2027)),
	}}
	svc := NewReenrollmentService(lister, contracts, marker, nil, nil, nil, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, contracts.contracts)
	assert.Empty(t, marker.marked)
}

func TestReenrollmentRunIdempotentOnRerun(t *testing.T) {
	contracts := &mockContractRepo{}
	marker := &stubRenewalMarker{}
	queue := &mockRenderQueue{}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 1, 8, intPtr(1), intPtr(2025)),
	}}
	svc := NewReenrollmentService(lister, contracts, marker, nil, nil, queue, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Renewed)

	// A rerun hits the duplicate contract but still re-parks the
	// enrollment, covering a crash between issue and flip.
	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Renewed)
	assert.Len(t, contracts.contracts, 1)
	assert.Equal(t, []string{"e1", "e1"}, marker.marked)
	assert.Len(t, queue.jobs, 1)
}

func TestReenrollmentRunFirstContractUsesEnrollmentYear(t *testing.T) {
	contracts := &mockContractRepo{}
	marker := &stubRenewalMarker{}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 0, 8, nil, nil),
	}}
	svc := NewReenrollmentService(lister, contracts, marker, nil, nil, nil, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	for _, c := range contracts.contracts {
		assert.Equal(t, 1, c.Semester)
		assert.Equal(t, 2024, c.Year)
	}
}

func TestReenrollmentRunMarkerConflictCountsSkipped(t *testing.T) {
	contracts := &mockContractRepo{}
	marker := &stubRenewalMarker{err: repository.ErrStatusConflict}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 1, 8, intPtr(1), intPtr(2025)),
	}}
	svc := NewReenrollmentService(lister, contracts, marker, nil, nil, nil, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Renewed)
}

func TestReenrollmentRunLockContention(t *testing.T) {
	locker := &stubSweepLocker{held: true}
	lister := &stubCandidateLister{candidates: []models.RenewalCandidate{
		candidate("e1", 1, 8, intPtr(1), intPtr(2025)),
	}}
	svc := NewReenrollmentService(lister, &mockContractRepo{}, &stubRenewalMarker{}, locker, nil, nil, zap.NewNop(), ReenrollmentConfig{TemplateID: "tpl1"})

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.LockHeld)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 1, locker.acquired)
	assert.Zero(t, locker.released)
}

func TestNextTermTable(t *testing.T) {
	cases := []struct {
		name         string
		candidate    models.RenewalCandidate
		wantSemester int
		wantYear     int
	}{
		{"no contracts yet", candidate("e1", 0, 8, nil, nil), 1, 2024},
		{"after semester one", candidate("e1", 1, 8, intPtr(1), intPtr(2025)), 2, 2025},
		{"after semester two", candidate("e1", 2, 8, intPtr(2), intPtr(2025)), 1, 2026},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			semester, year := nextTerm(tc.candidate)
			assert.Equal(t, tc.wantSemester, semester)
			assert.Equal(t, tc.wantYear, year)
		})
	}
}
