package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enroll-api/internal/models"
)

// DocumentRepository persists uploaded documents and their review trail.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// FindTypeByID returns a document type from the catalog.
func (r *DocumentRepository) FindTypeByID(ctx context.Context, id string) (*models.DocumentType, error) {
	const query = `SELECT id, name, role, required, created_at FROM document_types WHERE id = $1`
	var docType models.DocumentType
	if err := r.db.GetContext(ctx, &docType, query, id); err != nil {
		return nil, err
	}
	return &docType, nil
}

// Create persists a new document row in PENDING state.
func (r *DocumentRepository) Create(ctx context.Context, document *models.Document) error {
	if document.ID == "" {
		document.ID = uuid.NewString()
	}
	if document.Status == "" {
		document.Status = models.DocumentStatusPending
	}
	now := time.Now().UTC()
	if document.CreatedAt.IsZero() {
		document.CreatedAt = now
	}
	document.UpdatedAt = now
	const query = `INSERT INTO documents (id, user_id, document_type_id, file_path, status, reviewed_by, review_note, created_at, updated_at)
        VALUES (:id, :user_id, :document_type_id, :file_path, :status, :reviewed_by, :review_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, document); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// FindByID returns a document by its ID.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	const query = `SELECT id, user_id, document_type_id, file_path, status, reviewed_by, review_note, created_at, updated_at
        FROM documents WHERE id = $1`
	var document models.Document
	if err := r.db.GetContext(ctx, &document, query, id); err != nil {
		return nil, err
	}
	return &document, nil
}

// ListByUser returns all documents owned by a user, newest first.
func (r *DocumentRepository) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	const query = `SELECT id, user_id, document_type_id, file_path, status, reviewed_by, review_note, created_at, updated_at
        FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	var documents []models.Document
	if err := r.db.SelectContext(ctx, &documents, query, userID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return documents, nil
}

// ApplyReview overwrites the document's current review verdict and appends
// the decision to the review trail in one transaction.
func (r *DocumentRepository) ApplyReview(ctx context.Context, review *models.DocumentReview, status models.DocumentStatus) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const update = `UPDATE documents SET status = $2, reviewed_by = $3, review_note = $4, updated_at = $5 WHERE id = $1`
	result, err := tx.ExecContext(ctx, update, review.DocumentID, status, review.ReviewerID, review.Note, review.CreatedAt)
	if err != nil {
		return fmt.Errorf("update document review: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check review rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	const insert = `INSERT INTO document_reviews (id, document_id, reviewer_id, decision, note, created_at)
        VALUES (:id, :document_id, :reviewer_id, :decision, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, review); err != nil {
		return fmt.Errorf("append document review: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}
	return nil
}

// ListRequiredStatus reports, for every required type applicable to the
// role, the best current document status (approved beats pending beats
// rejected beats missing).
func (r *DocumentRepository) ListRequiredStatus(ctx context.Context, userID string, role models.UserRole) ([]models.RequiredDocumentStatus, error) {
	const query = `SELECT dt.id AS document_type_id, dt.name AS document_type_name, dt.required,
        COALESCE(best.status, 'PENDING') AS status, best.id AS document_id
        FROM document_types dt
        LEFT JOIN LATERAL (
            SELECT d.id, d.status FROM documents d
            WHERE d.user_id = $1 AND d.document_type_id = dt.id
            ORDER BY CASE d.status WHEN 'APPROVED' THEN 0 WHEN 'PENDING' THEN 1 ELSE 2 END, d.created_at DESC
            LIMIT 1
        ) best ON TRUE
        WHERE dt.role = $2 AND dt.required
        ORDER BY dt.name`
	var statuses []models.RequiredDocumentStatus
	if err := r.db.SelectContext(ctx, &statuses, query, userID, role); err != nil {
		return nil, fmt.Errorf("list required document status: %w", err)
	}
	return statuses, nil
}

// IsFullyApproved recomputes whether every required type for the role has at
// least one approved document. No cached flag is consulted.
func (r *DocumentRepository) IsFullyApproved(ctx context.Context, userID string, role models.UserRole) (bool, error) {
	const query = `SELECT NOT EXISTS (
        SELECT 1 FROM document_types dt
        WHERE dt.role = $2 AND dt.required
          AND NOT EXISTS (
            SELECT 1 FROM documents d
            WHERE d.user_id = $1 AND d.document_type_id = dt.id AND d.status = 'APPROVED'
          )
    )`
	var approved bool
	if err := r.db.GetContext(ctx, &approved, query, userID, role); err != nil {
		return false, fmt.Errorf("check document approval: %w", err)
	}
	return approved, nil
}
