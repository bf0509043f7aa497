package models

import (
	"fmt"
	"strings"
	"time"
)

// Event is a calendar entry scheduled inside a term.
type Event struct {
	ID          string       `db:"id" json:"id"`
	Title       string       `db:"title" json:"title"`
	Description *string      `db:"description" json:"description,omitempty"`
	StartAt     time.Time    `db:"start_at" json:"start_date"`
	EndAt       time.Time    `db:"end_at" json:"end_date"`
	Room        *string      `db:"room" json:"room,omitempty"`
	SubjectCode *string      `db:"subject_code" json:"subject,omitempty"`
	Students    *int         `db:"students" json:"students,omitempty"`
	Hours       *float64     `db:"hours" json:"horas,omitempty"`
	Color       *string      `db:"color" json:"color,omitempty"`
	TermID      *string      `db:"term_id" json:"bimestre_id,omitempty"`
	IsActive    bool         `db:"is_active" json:"is_active"`
	CreatedBy   string       `db:"created_by" json:"created_by"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
	Instructors []Instructor `db:"-" json:"instructors"`
}

// HasRoom reports whether the event occupies a named room.
func (e Event) HasRoom() bool {
	return e.Room != nil && strings.TrimSpace(*e.Room) != ""
}

// Overlaps applies half-open interval semantics: touching endpoints do not overlap.
func (e Event) Overlaps(start, end time.Time) bool {
	return e.StartAt.Before(end) && e.EndAt.After(start)
}

// EventFilter describes query params for listing events.
type EventFilter struct {
	TermID       string
	StartDate    *time.Time
	EndDate      *time.Time
	InstructorID string
	Active       *bool
	Room         string
	SubjectCode  string
	Page         int
	PageSize     int
}

// VisibleEventFilter restricts the permission-filtered listing.
type VisibleEventFilter struct {
	UserID    string
	TermID    string
	StartDate *time.Time
	EndDate   *time.Time
	Active    *bool
	Page      int
	PageSize  int
}

// EventConflict describes an existing event colliding with a candidate.
type EventConflict struct {
	EventID string    `json:"event_id"`
	Title   string    `json:"title"`
	Room    string    `json:"room"`
	StartAt time.Time `json:"start_date"`
	EndAt   time.Time `json:"end_date"`
}

// String renders a conflict as a short human readable line.
func (c EventConflict) String() string {
	return fmt.Sprintf("%q in room %s from %s to %s", c.Title, c.Room, c.StartAt.Format(time.RFC3339), c.EndAt.Format(time.RFC3339))
}

// EventConflictError is returned when an event collides with existing bookings.
type EventConflictError struct {
	Message   string          `json:"message"`
	Conflicts []EventConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *EventConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// Details lists each colliding event.
func (e *EventConflictError) Details() []string {
	if e == nil {
		return nil
	}
	details := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		details = append(details, c.String())
	}
	return details
}
