package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

// ErrDuplicateGrade reports a unique-constraint violation on the
// (evaluation, student) pair, raised when two submissions race.
var ErrDuplicateGrade = fmt.Errorf("duplicate grade for evaluation and student")

// GradeRepository persists per-student evaluation results.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// Upsert writes one grade row keyed by (evaluation_id, student_id). The
// unique index serialises concurrent writers for the same pair; a raced
// plain insert is surfaced as ErrDuplicateGrade.
func (r *GradeRepository) Upsert(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if grade.CreatedAt.IsZero() {
		grade.CreatedAt = now
	}
	grade.UpdatedAt = now
	const query = `INSERT INTO grades (id, evaluation_id, student_id, grade, concept, created_at, updated_at)
        VALUES (:id, :evaluation_id, :student_id, :grade, :concept, :created_at, :updated_at)
        ON CONFLICT (evaluation_id, student_id)
        DO UPDATE SET grade = EXCLUDED.grade, concept = EXCLUDED.concept, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateGrade
		}
		return fmt.Errorf("upsert grade: %w", err)
	}
	return nil
}

// ListByEvaluation returns all grade rows for an evaluation.
func (r *GradeRepository) ListByEvaluation(ctx context.Context, evaluationID string) ([]models.Grade, error) {
	const query = `SELECT id, evaluation_id, student_id, grade, concept, created_at, updated_at
        FROM grades WHERE evaluation_id = $1 ORDER BY student_id`
	var grades []models.Grade
	if err := r.db.SelectContext(ctx, &grades, query, evaluationID); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return grades, nil
}
