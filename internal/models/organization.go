package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Member is an organization roster entry. Members are matched to users by
// lowercased email, not by reference.
type Member struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// NormalizedEmail returns the matching key for the member.
func (m Member) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(m.Email))
}

// MemberList is a JSONB encoded roster.
type MemberList []Member

// Value marshals the roster into JSON for storage.
func (l MemberList) Value() (driver.Value, error) {
	if l == nil {
		l = MemberList{}
	}
	data, err := json.Marshal([]Member(l))
	if err != nil {
		return nil, fmt.Errorf("marshal member list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the roster.
func (l *MemberList) Scan(value interface{}) error {
	return scanJSON(value, l, func() { *l = MemberList{} })
}

// Emails returns the normalized, de-duplicated email set of the roster.
func (l MemberList) Emails() map[string]Member {
	out := make(map[string]Member, len(l))
	for _, m := range l {
		email := m.NormalizedEmail()
		if email == "" {
			continue
		}
		out[email] = m
	}
	return out
}

// Organization grants its courses to every rostered member.
type Organization struct {
	ID        string     `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Users     MemberList `db:"users" json:"users"`
	CourseIDs StringList `db:"course_ids" json:"course_ids"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// OrganizationFilter captures listing filters.
type OrganizationFilter struct {
	Search   string
	Page     int
	PageSize int
}

// SyncFailure describes one member update that could not be applied.
type SyncFailure struct {
	Email  string `json:"email"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
}

// SyncReport aggregates the per-user outcome of an organization sync.
type SyncReport struct {
	OrganizationID string        `json:"organization_id"`
	Succeeded      []string      `json:"succeeded"`
	Failed         []SyncFailure `json:"failed"`
	Unmatched      []string      `json:"unmatched"`
	Unchanged      bool          `json:"unchanged"`
}

// HasFailures reports whether any member update failed.
func (r *SyncReport) HasFailures() bool {
	return r != nil && len(r.Failed) > 0
}
