package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. AWAITING_DOCUMENTS is the initial state;
// AWAITING_RENEWAL marks an enrollment whose next-term contract has been
// issued but not yet accepted. CANCELLED is terminal.
const (
	EnrollmentStatusAwaitingDocuments EnrollmentStatus = "AWAITING_DOCUMENTS"
	EnrollmentStatusActive            EnrollmentStatus = "ACTIVE"
	EnrollmentStatusAwaitingRenewal   EnrollmentStatus = "AWAITING_RENEWAL"
	EnrollmentStatusCancelled         EnrollmentStatus = "CANCELLED"
)

// Enrollment captures a student's standing relationship to a course.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CancelledAt *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseName  string `db:"course_name" json:"course_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RenewalCandidate pairs an active enrollment with its term accounting,
// consumed by the reenrollment sweep.
type RenewalCandidate struct {
	Enrollment
	TermCount       int  `db:"term_count" json:"term_count"`
	ContractedTerms int  `db:"contracted_terms" json:"contracted_terms"`
	LastSemester    *int `db:"last_semester" json:"last_semester,omitempty"`
	LastYear        *int `db:"last_year" json:"last_year,omitempty"`
}
