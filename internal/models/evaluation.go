package models

import "time"

// EvaluationType distinguishes numeric and concept-based evaluations.
type EvaluationType string

const (
	EvaluationTypeGrade   EvaluationType = "GRADE"
	EvaluationTypeConcept EvaluationType = "CONCEPT"
)

// GradeConcept enumerates the allowed concept verdicts.
type GradeConcept string

const (
	ConceptSatisfactory   GradeConcept = "SATISFACTORY"
	ConceptUnsatisfactory GradeConcept = "UNSATISFACTORY"
)

// Evaluation is one gradable event within a class and discipline, owned by
// the teacher's user account.
type Evaluation struct {
	ID           string         `db:"id" json:"id"`
	ClassID      string         `db:"class_id" json:"class_id"`
	TeacherID    string         `db:"teacher_id" json:"teacher_id"`
	DisciplineID string         `db:"discipline_id" json:"discipline_id"`
	Name         string         `db:"name" json:"name"`
	HeldOn       time.Time      `db:"held_on" json:"held_on"`
	Type         EvaluationType `db:"type" json:"type"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Grade is one student's result for one evaluation. Exactly one of
// Grade/Concept is populated, consistent with the evaluation type.
type Grade struct {
	ID           string        `db:"id" json:"id"`
	EvaluationID string        `db:"evaluation_id" json:"evaluation_id"`
	StudentID    string        `db:"student_id" json:"student_id"`
	Grade        *float64      `db:"grade" json:"grade,omitempty"`
	Concept      *GradeConcept `db:"concept" json:"concept,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
