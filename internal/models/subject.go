package models

import "time"

// Subject is the canonical course shared by every student's schedule.
type Subject struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	TotalClasses int       `db:"total_classes" json:"total_classes"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectFilter defines filters for listing subjects.
type SubjectFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
