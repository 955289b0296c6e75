package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

// ErrStatusConflict reports a compare-and-set status update that found the
// row in a different state than expected.
var ErrStatusConflict = fmt.Errorf("enrollment status conflict")

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "u.full_name",
		"course_name":  "c.name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "enrolled_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.cancelled_at, e.created_at, e.updated_at,
        u.full_name AS student_name, c.name AS course_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, status, enrolled_at, cancelled_at, created_at, updated_at
        FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.cancelled_at, e.created_at, e.updated_at,
        u.full_name AS student_name, c.name AS course_name
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsNonCancelled checks whether the student already has a standing
// enrollment. A student keeps at most one non-cancelled enrollment.
func (r *EnrollmentRepository) ExistsNonCancelled(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND status <> $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, models.EnrollmentStatusCancelled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check standing enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record in the initial state.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusAwaitingDocuments
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (id, student_id, course_id, status, enrolled_at, cancelled_at, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :status, :enrolled_at, :cancelled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrStatusConflict
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatusFrom performs a compare-and-set transition. The update only
// lands when the stored status still matches `from`; otherwise
// ErrStatusConflict is returned and the caller decides whether that is a
// harmless no-op or a real conflict.
func (r *EnrollmentRepository) UpdateStatusFrom(ctx context.Context, id string, from, to models.EnrollmentStatus, cancelledAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $3, cancelled_at = $4, updated_at = $5
        WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, cancelledAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment update rows: %w", err)
	}
	if rows == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListRenewalCandidates returns every ACTIVE enrollment joined with its
// course term count and contract-term accounting, for the rollover sweep.
func (r *EnrollmentRepository) ListRenewalCandidates(ctx context.Context) ([]models.RenewalCandidate, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.enrolled_at, e.cancelled_at, e.created_at, e.updated_at,
        c.term_count,
        COALESCE(t.contracted_terms, 0) AS contracted_terms,
        t.last_semester, t.last_year
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        LEFT JOIN LATERAL (
            SELECT COUNT(DISTINCT (ct.semester, ct.year)) AS contracted_terms,
                   (ARRAY_AGG(ct.semester ORDER BY ct.year DESC, ct.semester DESC))[1] AS last_semester,
                   (ARRAY_AGG(ct.year ORDER BY ct.year DESC, ct.semester DESC))[1] AS last_year
            FROM contracts ct WHERE ct.enrollment_id = e.id
        ) t ON TRUE
        WHERE e.status = $1
        ORDER BY e.enrolled_at`
	var candidates []models.RenewalCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list renewal candidates: %w", err)
	}
	return candidates, nil
}
