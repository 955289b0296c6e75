package models

import "time"

// Course is a program of study with a fixed number of terms; each term
// requires its own accepted contract.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TermCount int       `db:"term_count" json:"term_count"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
