package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

// Job types handled by the dispatch queue.
const (
	JobTypeNotification = "notification"
	JobTypeEmail        = "email"
)

// NotificationPayload is queued for in-app delivery.
type NotificationPayload struct {
	RecipientID string
	Type        models.NotificationType
	Title       string
	Message     string
	RelatedID   string
}

// EmailPayload is queued for rendering and delivery through the mail provider.
type EmailPayload struct {
	Kind   mailer.Kind
	To     string
	ToName string
	Args   map[string]string
}

type eventDispatcher interface {
	Notify(payload NotificationPayload)
	Email(payload EmailPayload)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

type mailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Dispatcher turns side effects of completed state transitions into queued
// jobs. Enqueue failures are logged and never reach the caller.
type Dispatcher struct {
	queue   jobQueue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewDispatcher constructs a dispatcher. A nil queue drops every event.
func NewDispatcher(queue jobQueue, metrics *MetricsService, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, metrics: metrics, logger: logger}
}

// Notify queues an in-app notification.
func (d *Dispatcher) Notify(payload NotificationPayload) {
	if payload.RecipientID == "" {
		return
	}
	d.enqueue(JobTypeNotification, payload)
}

// Email queues a transactional email.
func (d *Dispatcher) Email(payload EmailPayload) {
	if payload.To == "" {
		return
	}
	d.enqueue(JobTypeEmail, payload)
}

func (d *Dispatcher) enqueue(jobType string, payload interface{}) {
	if d == nil || d.queue == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: payload}
	if err := d.queue.Enqueue(job); err != nil {
		d.metrics.RecordDispatchFailure(jobType)
		d.logger.Warn("failed to enqueue dispatch job", zap.String("type", jobType), zap.Error(err))
	}
}

// RegisterDispatchHandlers binds the notification and email handlers.
func RegisterDispatchHandlers(router *jobs.Router, store notificationStore, mail mailSender) {
	router.Register(JobTypeNotification, func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(NotificationPayload)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		n := &models.Notification{
			RecipientID: payload.RecipientID,
			Type:        payload.Type,
			Title:       payload.Title,
			Message:     payload.Message,
		}
		if payload.RelatedID != "" {
			related := payload.RelatedID
			n.RelatedID = &related
		}
		return store.Create(ctx, n)
	})

	router.Register(JobTypeEmail, func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(EmailPayload)
		if !ok {
			return fmt.Errorf("unexpected email payload %T", job.Payload)
		}
		subject, html, err := mailer.Render(payload.Kind, payload.Args)
		if err != nil {
			return err
		}
		return mail.Send(ctx, mailer.Message{To: payload.To, ToName: payload.ToName, Subject: subject, HTML: html})
	})
}

// DispatchExhaustedHook records jobs that ran out of retries.
func DispatchExhaustedHook(metrics *MetricsService, logger *zap.Logger) func(jobs.Job, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(job jobs.Job, err error) {
		metrics.RecordDispatchFailure(job.Type)
		logger.Warn("dispatch job dropped", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
	}
}
