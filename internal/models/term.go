package models

import "time"

// TermsPerYear is the number of terms a batch import must contain.
const TermsPerYear = 5

const dateLayout = "2006-01-02"

// Term models an academic term ("bimestre") within the institution calendar.
type Term struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	Description         *string    `db:"description" json:"description,omitempty"`
	StartDate           time.Time  `db:"start_date" json:"start_date"`
	EndDate             time.Time  `db:"end_date" json:"end_date"`
	AcademicYear        int        `db:"academic_year" json:"academic_year"`
	Sequence            int        `db:"sequence" json:"sequence"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	PaymentWindow1Start *time.Time `db:"payment_window1_start" json:"payment_window1_start,omitempty"`
	PaymentWindow1End   *time.Time `db:"payment_window1_end" json:"payment_window1_end,omitempty"`
	PaymentWindow2Start *time.Time `db:"payment_window2_start" json:"payment_window2_start,omitempty"`
	PaymentWindow2End   *time.Time `db:"payment_window2_end" json:"payment_window2_end,omitempty"`
	Factor              *float64   `db:"factor" json:"factor,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// CalendarDay returns the UTC calendar day of an instant as YYYY-MM-DD.
func CalendarDay(at time.Time) string {
	return at.UTC().Format(dateLayout)
}

// Contains reports whether at falls on a calendar day inside the term. The
// instant is placed on its UTC day; term boundaries are plain dates and both
// boundary days are included.
func (t Term) Contains(at time.Time) bool {
	day := CalendarDay(at)
	return day >= t.StartDate.Format(dateLayout) && day <= t.EndDate.Format(dateLayout)
}

// ContainsRange reports whether [start, end] lies fully inside the term.
func (t Term) ContainsRange(start, end time.Time) bool {
	return t.Contains(start) && t.Contains(end)
}

// Overlaps reports whether two terms share at least one calendar day.
func (t Term) Overlaps(other Term) bool {
	return t.StartDate.Format(dateLayout) <= other.EndDate.Format(dateLayout) &&
		other.StartDate.Format(dateLayout) <= t.EndDate.Format(dateLayout)
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	AcademicYear int
	IsActive     *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
