package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionRegister       = "REGISTER"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionUserPurge      = "USER_PURGE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionCourseStatus   = "COURSE_STATUS"
	AuditActionCourseContent  = "COURSE_CONTENT"
	AuditActionOrgSync        = "ORGANIZATION_SYNC"
	AuditActionOrgDelete      = "ORGANIZATION_DELETE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestMeta carries caller details recorded alongside audit entries.
type RequestMeta struct {
	ActorID   string
	ActorRole UserRole
	IP        string
	UserAgent string
}

// IsAdmin reports whether the caller acts with the admin role.
func (m RequestMeta) IsAdmin() bool {
	return m.ActorRole == RoleAdmin
}
