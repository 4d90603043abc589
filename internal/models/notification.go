package models

import "time"

// NotificationType enumerates in-app notification kinds.
type NotificationType string

const (
	NotificationCourseApproved    NotificationType = "course_approved"
	NotificationCourseRejected    NotificationType = "course_rejected"
	NotificationCourseSubmitted   NotificationType = "course_submitted"
	NotificationOrganizationGrant NotificationType = "organization_grant"
	NotificationPurchase          NotificationType = "purchase"
	NotificationCertificateIssued NotificationType = "certificate_issued"
)

// Notification is an in-app message for a single recipient.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Read        bool             `db:"read" json:"read"`
	RelatedID   *string          `db:"related_id" json:"related_id,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter captures listing filters for a recipient.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Page        int
	PageSize    int
}
