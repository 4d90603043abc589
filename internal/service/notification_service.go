package service

import (
	"context"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type notificationInbox interface {
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID string) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// NotificationService exposes a user's in-app inbox.
type NotificationService struct {
	repo notificationInbox
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationInbox) *NotificationService {
	return &NotificationService{repo: repo}
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	ok, err := s.repo.MarkRead(ctx, id, recipientID)
	if err != nil {
		return appErrors.Internal(err, "failed to update notification")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead flags every unread notification of the caller.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to update notifications")
	}
	return n, nil
}
