package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

// CourseAction names a publication workflow step.
type CourseAction string

const (
	CourseActionSubmit    CourseAction = "submit"
	CourseActionApprove   CourseAction = "approve"
	CourseActionReject    CourseAction = "reject"
	CourseActionUnpublish CourseAction = "unpublish"
	CourseActionArchive   CourseAction = "archive"
)

const maxContentAttempts = 3

var courseTransitions = map[CourseAction]struct {
	from models.CourseStatus
	to   models.CourseStatus
}{
	CourseActionSubmit:    {models.CourseStatusDraft, models.CourseStatusReview},
	CourseActionApprove:   {models.CourseStatusReview, models.CourseStatusPublished},
	CourseActionReject:    {models.CourseStatusReview, models.CourseStatusDraft},
	CourseActionUnpublish: {models.CourseStatusPublished, models.CourseStatusDraft},
	CourseActionArchive:   {models.CourseStatusPublished, models.CourseStatusArchived},
}

// NextCourseStatus returns the status reached by applying action to current.
func NextCourseStatus(current models.CourseStatus, action CourseAction) (models.CourseStatus, error) {
	step, ok := courseTransitions[action]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown course action")
	}
	if step.from != current {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, "cannot "+string(action)+" a course in "+string(current)+" status")
	}
	return step.to, nil
}

type courseStore interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	UpdateContent(ctx context.Context, id string, version int, content models.CourseContent, duration int) error
	HasReview(ctx context.Context, courseID, userID string) (bool, error)
	CreateReview(ctx context.Context, review *models.CourseReview) (float64, error)
	ListReviews(ctx context.Context, courseID string) ([]models.CourseReview, error)
}

type categoryLister interface {
	List(ctx context.Context) ([]models.Category, error)
}

type courseUserDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type courseEnrollmentReader interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	UpdateRating(ctx context.Context, id string, rating int, comment string) error
}

type progressPruner interface {
	PruneStaleProgress(ctx context.Context, courseID string) (*models.PruneReport, error)
}

// CreateCourseRequest is the payload for a new draft course.
type CreateCourseRequest struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"max=5000"`
	Categories  []string              `json:"categories"`
	Content     *models.CourseContent `json:"content"`
}

// UpdateCourseRequest updates course metadata.
type UpdateCourseRequest struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Categories  []string `json:"categories"`
}

// ReviewCourseRequest is a learner's rating.
type ReviewCourseRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// ContentUpdateResult reports the merged curriculum and the progress pass.
type ContentUpdateResult struct {
	Course *models.Course      `json:"course"`
	Prune  *models.PruneReport `json:"prune"`
}

// CourseService manages the catalog and the publication workflow.
type CourseService struct {
	repo        courseStore
	categories  categoryLister
	users       courseUserDirectory
	enrollments courseEnrollmentReader
	progress    progressPruner
	cache       *CacheService
	dispatcher  eventDispatcher
	validator   *validator.Validate
	logger      *zap.Logger
	frontendURL string
}

// NewCourseService constructs the service.
func NewCourseService(repo courseStore, categories categoryLister, users courseUserDirectory, enrollments courseEnrollmentReader, progress progressPruner, cache *CacheService, dispatcher eventDispatcher, validate *validator.Validate, logger *zap.Logger, frontendURL string) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{
		repo:        repo,
		categories:  categories,
		users:       users,
		enrollments: enrollments,
		progress:    progress,
		cache:       cache,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// List returns catalog entries and pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list courses")
	}
	return courses, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a course, served from cache when possible.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	var cached models.Course
	if hit, _ := s.cache.Get(ctx, courseCacheKey(id), &cached); hit {
		return &cached, nil
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	_ = s.cache.Set(ctx, courseCacheKey(id), course, 0)
	return course, nil
}

// Create stores a new draft course owned by the caller.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, meta models.RequestMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	categories, err := s.validateCategories(ctx, req.Categories)
	if err != nil {
		return nil, err
	}

	course := &models.Course{
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Status:       models.CourseStatusDraft,
		InstructorID: meta.ActorID,
		Categories:   categories,
	}
	if req.Content != nil {
		if err := ValidateContentDraft(*req.Content); err != nil {
			return nil, err
		}
		course.Content = MergeCourseContent(models.CourseContent{}, *req.Content, nil)
		course.Duration = contentDuration(course.Content)
	}

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to create course")
	}
	return course, nil
}

// Update changes the course metadata. Only the instructor or an admin may edit.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest, meta models.RequestMeta) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.loadOwned(ctx, id, meta)
	if err != nil {
		return nil, err
	}
	categories, err := s.validateCategories(ctx, req.Categories)
	if err != nil {
		return nil, err
	}

	titleChanged := course.Title != strings.TrimSpace(req.Title)
	course.Title = strings.TrimSpace(req.Title)
	course.Description = req.Description
	course.Categories = categories
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to update course")
	}

	s.cache.Forget(ctx, courseCacheKey(id))
	if titleChanged {
		_ = s.cache.Invalidate(ctx, enrollmentsCachePattern)
	}
	return course, nil
}

// UpdateContent merges an edited curriculum into the course, keeping ids of
// unchanged items, then recomputes learner progress against it.
func (s *CourseService) UpdateContent(ctx context.Context, id string, draft models.CourseContent, meta models.RequestMeta) (*ContentUpdateResult, error) {
	if err := ValidateContentDraft(draft); err != nil {
		return nil, err
	}
	course, merged, err := s.saveMergedContent(ctx, id, draft, meta)
	if err != nil {
		return nil, err
	}
	s.cache.Forget(ctx, courseCacheKey(id))

	report, err := s.progress.PruneStaleProgress(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.users.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionCourseContent, "courses", id, nil,
		map[string]interface{}{"items": CountContentItems(merged), "pruned": len(report.Updated), "failed": len(report.Failed)})); err != nil {
		s.logger.Warn("failed to record course content audit log", zap.Error(err))
	}
	return &ContentUpdateResult{Course: course, Prune: report}, nil
}

// saveMergedContent merges against the latest stored content and writes it
// under the content version, re-reading on conflicts so ids handed out by a
// concurrent edit are matched instead of replaced.
func (s *CourseService) saveMergedContent(ctx context.Context, id string, draft models.CourseContent, meta models.RequestMeta) (*models.Course, models.CourseContent, error) {
	for attempt := 1; attempt <= maxContentAttempts; attempt++ {
		course, err := s.loadOwned(ctx, id, meta)
		if err != nil {
			return nil, models.CourseContent{}, err
		}
		merged := MergeCourseContent(course.Content, draft, nil)
		duration := contentDuration(merged)
		err = s.repo.UpdateContent(ctx, id, course.ContentVersion, merged, duration)
		if err == nil {
			course.Content = merged
			course.Duration = duration
			course.ContentVersion++
			return course, merged, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, models.CourseContent{}, appErrors.Internal(err, "failed to update course content")
		}
		s.logger.Debug("course content update conflicted, retrying",
			zap.String("course_id", id),
			zap.Int("attempt", attempt))
	}
	return nil, models.CourseContent{}, appErrors.Clone(appErrors.ErrConflict, "course content changed concurrently, retry the request")
}

// Transition applies a workflow action. Submit, unpublish and archive belong
// to the instructor; approve and reject require an admin. Reject needs a note.
func (s *CourseService) Transition(ctx context.Context, id string, action CourseAction, note string, meta models.RequestMeta) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}

	switch action {
	case CourseActionApprove, CourseActionReject:
		if !meta.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can review courses")
		}
	default:
		if !meta.IsAdmin() && course.InstructorID != meta.ActorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another instructor")
		}
	}

	next, err := NextCourseStatus(course.Status, action)
	if err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if action == CourseActionReject && note == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection note is required")
	}

	previous := course.Status
	course.Status = next
	switch action {
	case CourseActionReject:
		course.ReviewNote = &note
	case CourseActionApprove, CourseActionSubmit:
		course.ReviewNote = nil
	}
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to update course status")
	}
	s.cache.Forget(ctx, courseCacheKey(id))

	if err := s.users.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionCourseStatus, "courses", id,
		map[string]interface{}{"status": previous},
		map[string]interface{}{"status": next, "action": action})); err != nil {
		s.logger.Warn("failed to record course status audit log", zap.Error(err))
	}

	s.announceTransition(ctx, course, action, note)
	return course, nil
}

func (s *CourseService) announceTransition(ctx context.Context, course *models.Course, action CourseAction, note string) {
	if s.dispatcher == nil {
		return
	}
	switch action {
	case CourseActionSubmit:
		role := models.RoleAdmin
		admins, _, err := s.users.List(ctx, models.UserFilter{Role: &role, PageSize: 100})
		if err != nil {
			s.logger.Warn("failed to list reviewers", zap.Error(err))
			return
		}
		for _, admin := range admins {
			s.dispatcher.Notify(NotificationPayload{
				RecipientID: admin.ID,
				Type:        models.NotificationCourseSubmitted,
				Title:       "Course awaiting review",
				Message:     course.Title + " was submitted for review",
				RelatedID:   course.ID,
			})
		}
	case CourseActionApprove, CourseActionReject:
		instructor, err := s.users.FindByID(ctx, course.InstructorID)
		if err != nil {
			s.logger.Warn("failed to load instructor", zap.String("course_id", course.ID), zap.Error(err))
			return
		}
		kind, notification, title := mailer.KindCourseApproved, models.NotificationCourseApproved, "Course approved"
		if action == CourseActionReject {
			kind, notification, title = mailer.KindCourseRejected, models.NotificationCourseRejected, "Course rejected"
		}
		message := course.Title
		if note != "" {
			message += ": " + note
		}
		s.dispatcher.Notify(NotificationPayload{
			RecipientID: instructor.ID,
			Type:        notification,
			Title:       title,
			Message:     message,
			RelatedID:   course.ID,
		})
		s.dispatcher.Email(EmailPayload{
			Kind:   kind,
			To:     instructor.Email,
			ToName: instructor.FullName,
			Args: map[string]string{
				"Name":   instructor.FullName,
				"Course": course.Title,
				"Note":   note,
				"Link":   s.frontendURL + "/courses/" + course.ID,
			},
		})
	}
}

// AddReview rates a course on behalf of an enrolled learner. Each learner may
// review a course once; the course rating becomes the review average.
func (s *CourseService) AddReview(ctx context.Context, courseID string, req ReviewCourseRequest, meta models.RequestMeta) (*models.CourseReview, float64, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		return nil, 0, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, meta.ActorID, courseID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, appErrors.Internal(err, "failed to load enrollment")
	}
	if err != nil || !enrollment.Status.IsActive() {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "only enrolled learners can review a course")
	}
	exists, err := s.repo.HasReview(ctx, courseID, meta.ActorID)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to check existing review")
	}
	if exists {
		return nil, 0, appErrors.Clone(appErrors.ErrConflict, "course already reviewed")
	}

	review := &models.CourseReview{CourseID: courseID, UserID: meta.ActorID, Rating: req.Rating, Comment: strings.TrimSpace(req.Comment)}
	rating, err := s.repo.CreateReview(ctx, review)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, 0, appErrors.Clone(appErrors.ErrConflict, "course already reviewed")
		}
		return nil, 0, appErrors.Internal(err, "failed to store review")
	}
	if err := s.enrollments.UpdateRating(ctx, enrollment.ID, req.Rating, review.Comment); err != nil {
		s.logger.Warn("failed to copy rating onto enrollment", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}
	s.cache.Forget(ctx, courseCacheKey(courseID))
	s.cache.ForgetEnrollments(ctx, meta.ActorID)
	return review, rating, nil
}

// ListReviews returns the reviews of a course.
func (s *CourseService) ListReviews(ctx context.Context, courseID string) ([]models.CourseReview, error) {
	if _, err := s.repo.FindByID(ctx, courseID); err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	reviews, err := s.repo.ListReviews(ctx, courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list reviews")
	}
	return reviews, nil
}

func (s *CourseService) loadOwned(ctx context.Context, id string, meta models.RequestMeta) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrCourseNotFound, "load course")
	}
	if !meta.IsAdmin() && course.InstructorID != meta.ActorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another instructor")
	}
	return course, nil
}

func (s *CourseService) validateCategories(ctx context.Context, requested []string) (models.StringList, error) {
	if len(requested) == 0 {
		return models.StringList{}, nil
	}
	all, err := s.categories.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load categories")
	}
	known := make(map[string]struct{}, len(all))
	for _, category := range all {
		known[category.ID] = struct{}{}
	}
	ids, err := ValidateCourseCategories(requested, known)
	if err != nil {
		return nil, err
	}
	return models.StringList(ids), nil
}
