package models

import "time"

// Class groups students for term-level rostering, independent of the
// course-level enrollment relationship.
type Class struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Discipline is a subject taught within classes.
type Discipline struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
