package models

import (
	"strings"
	"time"
)

// GrantKind tags the variant of a permission grant.
type GrantKind string

const (
	GrantSubject  GrantKind = "SUBJECT"
	GrantCareer   GrantKind = "CAREER"
	GrantCategory GrantKind = "CATEGORY"
)

// CategoryStart is the reserved category granting the start-of-program catalog.
const CategoryStart = "INICIO"

// PermissionGrant authorises a user to see events in a term. Exactly one of
// SubjectCode, CareerID or Category is set, matching Kind.
type PermissionGrant struct {
	ID          string    `db:"id" json:"id"`
	Kind        GrantKind `db:"kind" json:"kind"`
	UserID      string    `db:"user_id" json:"user_id"`
	TermID      string    `db:"term_id" json:"bimestre_id"`
	SubjectCode *string   `db:"subject_code" json:"subject,omitempty"`
	CareerID    *string   `db:"career_id" json:"career_id,omitempty"`
	Category    *string   `db:"category" json:"category,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Target returns the value the grant refers to.
func (g PermissionGrant) Target() string {
	switch g.Kind {
	case GrantSubject:
		return deref(g.SubjectCode)
	case GrantCareer:
		return deref(g.CareerID)
	case GrantCategory:
		return deref(g.Category)
	}
	return ""
}

// PermissionSet is the resolved view of a user's active grants in a term,
// together with the subject reach of their career and category grants.
type PermissionSet struct {
	Subjects         map[string]struct{}
	CareerSubjects   map[string]struct{}
	CategorySubjects map[string]struct{}
}

// NewPermissionSet builds an empty set.
func NewPermissionSet() *PermissionSet {
	return &PermissionSet{
		Subjects:         map[string]struct{}{},
		CareerSubjects:   map[string]struct{}{},
		CategorySubjects: map[string]struct{}{},
	}
}

// Empty reports whether no grant reaches any subject.
func (p *PermissionSet) Empty() bool {
	return p == nil || len(p.Subjects)+len(p.CareerSubjects)+len(p.CategorySubjects) == 0
}

// Visible is the single visibility predicate: a subject is visible when any
// grant variant reaches it.
func (p *PermissionSet) Visible(subject string) bool {
	if p == nil {
		return false
	}
	key := NormalizeSubject(subject)
	if key == "" {
		return false
	}
	for _, reach := range []map[string]struct{}{p.Subjects, p.CareerSubjects, p.CategorySubjects} {
		if _, ok := reach[key]; ok {
			return true
		}
	}
	return false
}

// NormalizeSubject canonicalises subject codes for comparison.
func NormalizeSubject(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PermissionCheck is the answer to "can user U see subject S in term T".
type PermissionCheck struct {
	UserID  string      `json:"user_id"`
	TermID  string      `json:"bimestre_id"`
	Subject string      `json:"subject"`
	Visible bool        `json:"visible"`
	Via     []GrantKind `json:"via,omitempty"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
