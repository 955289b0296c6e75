package models

import "time"

// Contract is one term-scoped agreement tied to an enrollment and a signer.
// The rendered PDF lives on disk; file_path stays NULL until rendering
// completes, and acceptance never waits on it.
type Contract struct {
	ID           string     `db:"id" json:"id"`
	EnrollmentID *string    `db:"enrollment_id" json:"enrollment_id,omitempty"`
	UserID       string     `db:"user_id" json:"user_id"`
	TemplateID   string     `db:"template_id" json:"template_id"`
	FilePath     *string    `db:"file_path" json:"file_path,omitempty"`
	AcceptedAt   *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	Semester     int        `db:"semester" json:"semester"`
	Year         int        `db:"year" json:"year"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// ContractTemplate stores the agreement text with named placeholders.
type ContractTemplate struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ContractFilter constrains contract listing queries.
type ContractFilter struct {
	EnrollmentID string
	UserID       string
	Semester     int
	Year         int
	Accepted     *bool
	Page         int
	PageSize     int
}
