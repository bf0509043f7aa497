package models

import "time"

// Instructor is a person who can be assigned to events.
type Instructor struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// EventInstructor links an instructor to an event within a term.
type EventInstructor struct {
	EventID      string  `db:"event_id"`
	InstructorID string  `db:"instructor_id"`
	TermID       *string `db:"term_id"`
}
