package models

import "time"

// DocumentStatus captures the review state of an uploaded document.
type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "PENDING"
	DocumentStatusApproved DocumentStatus = "APPROVED"
	DocumentStatusRejected DocumentStatus = "REJECTED"
)

// ReviewDecision is a reviewer's verdict on a document.
type ReviewDecision string

const (
	ReviewDecisionApprove ReviewDecision = "APPROVE"
	ReviewDecisionReject  ReviewDecision = "REJECT"
)

// DocumentType describes a named category of upload, scoped by role.
type DocumentType struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      UserRole  `db:"role" json:"role"`
	Required  bool      `db:"required" json:"required"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Document is one uploaded artifact belonging to a user. Re-uploads after
// rejection create new rows; superseded rows are kept for audit.
type Document struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	DocumentTypeID string         `db:"document_type_id" json:"document_type_id"`
	FilePath       string         `db:"file_path" json:"file_path"`
	Status         DocumentStatus `db:"status" json:"status"`
	ReviewedBy     *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNote     *string        `db:"review_note" json:"review_note,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentReview is an append-only record of a single review action.
// Re-reviews overwrite the document's current status but every verdict
// lands here with its own reviewer and timestamp.
type DocumentReview struct {
	ID         string         `db:"id" json:"id"`
	DocumentID string         `db:"document_id" json:"document_id"`
	ReviewerID string         `db:"reviewer_id" json:"reviewer_id"`
	Decision   ReviewDecision `db:"decision" json:"decision"`
	Note       *string        `db:"note" json:"note,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// RequiredDocumentStatus reports fulfilment of one required type for a user.
type RequiredDocumentStatus struct {
	DocumentTypeID   string         `db:"document_type_id" json:"document_type_id"`
	DocumentTypeName string         `db:"document_type_name" json:"document_type_name"`
	Required         bool           `db:"required" json:"required"`
	Status           DocumentStatus `db:"status" json:"status"`
	DocumentID       *string        `db:"document_id" json:"document_id,omitempty"`
}
