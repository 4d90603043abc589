package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

const maxProgressAttempts = 3

type progressUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type progressCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type progressStore interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ListActiveByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	AddCompletedLesson(ctx context.Context, enrollmentID, lessonID string) (bool, error)
	PruneCompletedLessons(ctx context.Context, enrollmentID string, keep []string) (int64, error)
	UpdateProgress(ctx context.Context, enrollment *models.Enrollment) error
}

// ProgressService tracks lesson completion and keeps derived progress in line
// with the current course content.
type ProgressService struct {
	users       progressUserReader
	courses     progressCourseReader
	enrollments progressStore
	cache       *CacheService
	dispatcher  eventDispatcher
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewProgressService constructs the service.
func NewProgressService(users progressUserReader, courses progressCourseReader, enrollments progressStore, cache *CacheService, dispatcher eventDispatcher, metrics *MetricsService, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		users:       users,
		courses:     courses,
		enrollments: enrollments,
		cache:       cache,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// RecordLessonCompletion marks lessonID as completed for the user, enrolling
// them first when needed, and returns the recomputed progress.
func (s *ProgressService) RecordLessonCompletion(ctx context.Context, userID, courseID, lessonID string) (*models.LessonCompletionResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUserNotFound, "load user")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	if _, ok := ContentItemIDs(course.Content)[lessonID]; !ok || lessonID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidLesson, "")
	}

	enrollment, err := s.ensureEnrollment(ctx, userID, course)
	if err != nil {
		return nil, err
	}
	if _, err := s.enrollments.AddCompletedLesson(ctx, enrollment.ID, lessonID); err != nil {
		return nil, appErrors.Internal(err, "failed to record completed lesson")
	}

	updated, issued, err := s.recompute(ctx, userID, courseID, course.Content, false)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLessonCompletion(issued)
	s.cache.ForgetEnrollments(ctx, userID)
	if issued {
		s.announceCertificate(user, course, updated)
	}

	return &models.LessonCompletionResult{
		EnrollmentID:  updated.ID,
		CourseID:      courseID,
		Status:        updated.Status,
		Progress:      progressOf(updated),
		CompletedAt:   updated.CompletedAt,
		CertificateID: updated.CertificateID,
	}, nil
}

// PruneStaleProgress drops completed lessons that no longer exist in the
// course and recomputes every enrolled learner's progress. Saved records are
// left alone. Failures are collected per enrollment.
func (s *ProgressService) PruneStaleProgress(ctx context.Context, courseID string) (*models.PruneReport, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	records, err := s.enrollments.ListActiveByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list course enrollments")
	}

	report := &models.PruneReport{CourseID: courseID, Updated: []string{}, Failed: []models.PruneFailure{}}
	touched := make([]string, 0, len(records))
	for _, record := range records {
		updated, issued, err := s.recompute(ctx, record.UserID, courseID, course.Content, true)
		if err != nil {
			s.logger.Warn("failed to prune stale progress",
				zap.String("enrollment_id", record.ID),
				zap.String("user_id", record.UserID),
				zap.Error(err))
			report.Failed = append(report.Failed, models.PruneFailure{EnrollmentID: record.ID, UserID: record.UserID, Reason: err.Error()})
			continue
		}
		report.Updated = append(report.Updated, record.ID)
		touched = append(touched, record.UserID)
		if issued {
			s.metrics.RecordCertificateIssued()
			if user, err := s.users.FindByID(ctx, record.UserID); err == nil {
				s.announceCertificate(user, course, updated)
			}
		}
	}
	s.cache.ForgetEnrollments(ctx, touched...)
	return report, nil
}

// ensureEnrollment returns the learner's active enrollment, creating one when
// the course is published. Learners already active keep progressing after a
// course leaves the catalog.
func (s *ProgressService) ensureEnrollment(ctx context.Context, userID string, course *models.Course) (*models.Enrollment, error) {
	courseID := course.ID
	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	if err == nil && enrollment.Status.IsActive() {
		return enrollment, nil
	}
	if course.Status != models.CourseStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not open for enrollment")
	}
	if err == nil {
		// saved records are promoted by the progress write
		return enrollment, nil
	}

	fresh := &models.Enrollment{
		UserID:           userID,
		CourseID:         courseID,
		Status:           models.EnrollmentStatusInProgress,
		CompletedLessons: []string{},
	}
	if _, err := s.enrollments.Create(ctx, fresh); err != nil {
		return nil, appErrors.Internal(err, "failed to enroll user")
	}
	// a concurrent request may have created the record first
	enrollment, err = s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	return enrollment, nil
}

// recompute re-reads the enrollment and writes its derived fields under an
// optimistic version check, retrying on conflicts. With prune set, completed
// lessons missing from content are deleted first and saved records are
// skipped.
func (s *ProgressService) recompute(ctx context.Context, userID, courseID string, content models.CourseContent, prune bool) (*models.Enrollment, bool, error) {
	// shifts the completion time when a generated certificate id is taken
	var skew time.Duration
	for attempt := 1; attempt <= maxProgressAttempts; attempt++ {
		current, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
		if err != nil {
			return nil, false, lookupError(err, appErrors.ErrNotFound, "load enrollment")
		}
		if prune {
			if current.Status == models.EnrollmentStatusSaved {
				return current, false, nil
			}
			keep := FilterCompletedLessons(current.CompletedLessons, content)
			if len(keep) != len(current.CompletedLessons) {
				if _, err := s.enrollments.PruneCompletedLessons(ctx, current.ID, keep); err != nil {
					return nil, false, appErrors.Internal(err, "failed to prune completed lessons")
				}
				current.CompletedLessons = keep
			}
		}

		before := *current
		issued := applyProgress(current, content, s.now().Add(skew))
		if !progressChanged(before, *current) {
			return current, false, nil
		}

		err = s.enrollments.UpdateProgress(ctx, current)
		if err == nil {
			return current, issued, nil
		}
		if issued && errors.Is(err, repository.ErrDuplicate) {
			skew += time.Millisecond
			s.logger.Debug("certificate id taken, retrying",
				zap.String("enrollment_id", current.ID),
				zap.Int("attempt", attempt))
			continue
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, false, appErrors.Internal(err, "failed to update progress")
		}
		s.logger.Debug("progress update conflicted, retrying",
			zap.String("enrollment_id", current.ID),
			zap.Int("attempt", attempt))
	}
	return nil, false, appErrors.Clone(appErrors.ErrConflict, "progress changed concurrently, retry the request")
}

func progressChanged(before, after models.Enrollment) bool {
	if before.Status != after.Status || before.Percentage != after.Percentage {
		return true
	}
	if (before.CompletedAt == nil) != (after.CompletedAt == nil) {
		return true
	}
	return (before.CertificateID == nil) != (after.CertificateID == nil)
}

func (s *ProgressService) announceCertificate(user *models.User, course *models.Course, enrollment *models.Enrollment) {
	if s.dispatcher == nil || enrollment.CertificateID == nil {
		return
	}
	s.dispatcher.Notify(NotificationPayload{
		RecipientID: user.ID,
		Type:        models.NotificationCertificateIssued,
		Title:       "Certificate issued",
		Message:     "You completed " + course.Title,
		RelatedID:   course.ID,
	})
	s.dispatcher.Email(EmailPayload{
		Kind:   mailer.KindCertificateIssued,
		To:     user.Email,
		ToName: user.FullName,
		Args: map[string]string{
			"Name":        user.FullName,
			"Course":      course.Title,
			"Certificate": *enrollment.CertificateID,
		},
	})
}
