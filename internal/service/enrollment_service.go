package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

type enrollmentStore interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	UpdateProgress(ctx context.Context, enrollment *models.Enrollment) error
	AddTimeSpent(ctx context.Context, id string, seconds int) error
	Delete(ctx context.Context, id string) error
	ListOrganizationIDs(ctx context.Context, userID string) ([]string, error)
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

type organizationReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Organization, error)
}

// EnrollmentService manages a learner's course list.
type EnrollmentService struct {
	users         progressUserReader
	courses       enrollmentCourseReader
	enrollments   enrollmentStore
	organizations organizationReader
	cache         *CacheService
	dispatcher    eventDispatcher
	logger        *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(users progressUserReader, courses enrollmentCourseReader, enrollments enrollmentStore, organizations organizationReader, cache *CacheService, dispatcher eventDispatcher, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		users:         users,
		courses:       courses,
		enrollments:   enrollments,
		organizations: organizations,
		cache:         cache,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// EffectiveEnrollments returns the user's course list with organization
// grants folded in.
func (s *EnrollmentService) EffectiveEnrollments(ctx context.Context, userID string) ([]models.EnrollmentView, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, lookupError(err, appErrors.ErrUserNotFound, "load user")
	}

	var cached []models.EnrollmentView
	if hit, _ := s.cache.Get(ctx, enrollmentsCacheKey(userID), &cached); hit {
		return cached, nil
	}

	records, err := s.enrollments.List(ctx, models.EnrollmentFilter{UserID: userID})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list enrollments")
	}
	orgIDs, err := s.enrollments.ListOrganizationIDs(ctx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list organizations")
	}
	orgs, err := s.organizations.FindByIDs(ctx, orgIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load organizations")
	}

	courseIDs := make([]string, 0, len(records))
	for _, record := range records {
		courseIDs = append(courseIDs, record.CourseID)
	}
	for _, org := range orgs {
		courseIDs = append(courseIDs, org.CourseIDs...)
	}
	titles := map[string]string{}
	if courses, err := s.courses.FindByIDs(ctx, courseIDs); err != nil {
		s.logger.Warn("failed to load course titles", zap.Error(err))
	} else {
		for _, course := range courses {
			titles[course.ID] = course.Title
		}
	}

	views := ReconcileEnrollments(records, orgs, titles)
	_ = s.cache.Set(ctx, enrollmentsCacheKey(userID), views, 0)
	return views, nil
}

// Enroll starts a published course for the user. A saved record is promoted.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUserNotFound, "load user")
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	if course.Status != models.CourseStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not open for enrollment")
	}

	existing, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	var enrollment *models.Enrollment
	switch {
	case err == nil && existing.Status.IsActive():
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	case err == nil:
		existing.Status = models.EnrollmentStatusInProgress
		if err := s.enrollments.UpdateProgress(ctx, existing); err != nil {
			return nil, appErrors.Internal(err, "failed to enroll user")
		}
		enrollment = existing
	case errors.Is(err, sql.ErrNoRows):
		fresh := &models.Enrollment{
			UserID:           userID,
			CourseID:         courseID,
			Status:           models.EnrollmentStatusInProgress,
			CompletedLessons: []string{},
		}
		created, err := s.enrollments.Create(ctx, fresh)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to enroll user")
		}
		if !created {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}
		enrollment = fresh
	default:
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}

	s.cache.ForgetEnrollments(ctx, userID)
	if s.dispatcher != nil {
		s.dispatcher.Notify(NotificationPayload{
			RecipientID: userID,
			Type:        models.NotificationPurchase,
			Title:       "Enrollment confirmed",
			Message:     "You are now enrolled in " + course.Title,
			RelatedID:   course.ID,
		})
		s.dispatcher.Email(EmailPayload{
			Kind:   mailer.KindPurchase,
			To:     user.Email,
			ToName: user.FullName,
			Args:   map[string]string{"Name": user.FullName, "Course": course.Title},
		})
	}
	return enrollment, nil
}

// ToggleSaved bookmarks a course the user is not enrolled in, or removes the
// bookmark. It returns the resulting saved state.
func (s *EnrollmentService) ToggleSaved(ctx context.Context, userID, courseID string) (bool, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		return false, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	existing, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	switch {
	case err == nil && existing.Status.IsActive():
		return false, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "enrolled courses cannot be saved")
	case err == nil:
		if err := s.enrollments.Delete(ctx, existing.ID); err != nil {
			return false, appErrors.Internal(err, "failed to remove saved course")
		}
		s.cache.ForgetEnrollments(ctx, userID)
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		saved := &models.Enrollment{UserID: userID, CourseID: courseID, Status: models.EnrollmentStatusSaved, CompletedLessons: []string{}}
		if _, err := s.enrollments.Create(ctx, saved); err != nil {
			return false, appErrors.Internal(err, "failed to save course")
		}
		s.cache.ForgetEnrollments(ctx, userID)
		return true, nil
	default:
		return false, appErrors.Internal(err, "failed to load enrollment")
	}
}

// RemoveSaved deletes a saved record. Active enrollments are not touched.
func (s *EnrollmentService) RemoveSaved(ctx context.Context, userID, courseID string) error {
	existing, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return lookupError(err, appErrors.ErrNotFound, "load enrollment")
	}
	if existing.Status != models.EnrollmentStatusSaved {
		return appErrors.Clone(appErrors.ErrNotFound, "saved course not found")
	}
	if err := s.enrollments.Delete(ctx, existing.ID); err != nil {
		return appErrors.Internal(err, "failed to remove saved course")
	}
	s.cache.ForgetEnrollments(ctx, userID)
	return nil
}

// TrackTime adds learning time in seconds to an active enrollment.
func (s *EnrollmentService) TrackTime(ctx context.Context, userID, courseID string, seconds int) error {
	if seconds <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "time spent must be positive")
	}
	existing, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return lookupError(err, appErrors.ErrNotFound, "load enrollment")
	}
	if !existing.Status.IsActive() {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if err := s.enrollments.AddTimeSpent(ctx, existing.ID, seconds); err != nil {
		return appErrors.Internal(err, "failed to track time")
	}
	s.cache.ForgetEnrollments(ctx, userID)
	return nil
}
