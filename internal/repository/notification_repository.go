package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, type, title, message, read, related_id, created_at) VALUES (:id, :recipient_id, :type, :title, :message, :read, :related_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns a recipient's notifications, newest first, with a total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	base := `FROM notifications WHERE recipient_id = $1`
	if filter.UnreadOnly {
		base += " AND read = FALSE"
	}
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT id, recipient_id, type, title, message, read, related_id, created_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", base, pageSize, offset)
	items := []models.Notification{}
	if err := r.db.SelectContext(ctx, &items, listQuery, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, filter.RecipientID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead flags one notification as read. It reports whether the recipient
// owned a matching notification.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) (bool, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead flags every unread notification of a recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND read = FALSE`
	res, err := r.db.ExecContext(ctx, query, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}
