package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

// ErrDuplicateContract reports a second contract for the same
// (enrollment, semester, year) triple. Backed by a unique index so that
// concurrent generators cannot both win.
var ErrDuplicateContract = fmt.Errorf("duplicate contract for enrollment and term")

// ErrContractAccepted reports an acceptance attempt on an already accepted
// contract.
var ErrContractAccepted = fmt.Errorf("contract already accepted")

// ContractRepository persists contracts and their templates.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs the repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create inserts a contract row. The rendered document path may be nil; it
// is backfilled once rendering completes.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now
	const query = `INSERT INTO contracts (id, enrollment_id, user_id, template_id, file_path, accepted_at, semester, year, created_at, updated_at)
        VALUES (:id, :enrollment_id, :user_id, :template_id, :file_path, :accepted_at, :semester, :year, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, contract); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateContract
		}
		return fmt.Errorf("create contract: %w", err)
	}
	return nil
}

// FindByID returns a contract by its ID.
func (r *ContractRepository) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	const query = `SELECT id, enrollment_id, user_id, template_id, file_path, accepted_at, semester, year, created_at, updated_at
        FROM contracts WHERE id = $1`
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		return nil, err
	}
	return &contract, nil
}

// ExistsForTerm checks for an existing contract on the triple.
func (r *ContractRepository) ExistsForTerm(ctx context.Context, enrollmentID string, semester, year int) (bool, error) {
	const query = `SELECT 1 FROM contracts WHERE enrollment_id = $1 AND semester = $2 AND year = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, enrollmentID, semester, year); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check contract term: %w", err)
	}
	return true, nil
}

// Accept stamps accepted_at exactly once. A second acceptance finds the
// guard column already set and reports ErrContractAccepted.
func (r *ContractRepository) Accept(ctx context.Context, id string, acceptedAt time.Time) error {
	const query = `UPDATE contracts SET accepted_at = $2, updated_at = $2 WHERE id = $1 AND accepted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, acceptedAt.UTC())
	if err != nil {
		return fmt.Errorf("accept contract: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check accept rows: %w", err)
	}
	if rows == 0 {
		return ErrContractAccepted
	}
	return nil
}

// SetFilePath backfills the rendered document reference.
func (r *ContractRepository) SetFilePath(ctx context.Context, id, filePath string) error {
	const query = `UPDATE contracts SET file_path = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, filePath, time.Now().UTC()); err != nil {
		return fmt.Errorf("set contract file path: %w", err)
	}
	return nil
}

// List returns contracts matching the filter, newest term first.
func (r *ContractRepository) List(ctx context.Context, filter models.ContractFilter) ([]models.Contract, error) {
	query := `SELECT id, enrollment_id, user_id, template_id, file_path, accepted_at, semester, year, created_at, updated_at
        FROM contracts`
	var conditions []string
	var args []interface{}
	if filter.EnrollmentID != "" {
		args = append(args, filter.EnrollmentID)
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Semester > 0 {
		args = append(args, filter.Semester)
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)))
	}
	if filter.Accepted != nil {
		if *filter.Accepted {
			conditions = append(conditions, "accepted_at IS NOT NULL")
		} else {
			conditions = append(conditions, "accepted_at IS NULL")
		}
	}
	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}
	query += " ORDER BY year DESC, semester DESC"

	var contracts []models.Contract
	if err := r.db.SelectContext(ctx, &contracts, query, args...); err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	return contracts, nil
}

// FindTemplateByID returns a contract template.
func (r *ContractRepository) FindTemplateByID(ctx context.Context, id string) (*models.ContractTemplate, error) {
	const query = `SELECT id, name, body, created_at FROM contract_templates WHERE id = $1`
	var template models.ContractTemplate
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}
