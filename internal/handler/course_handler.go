package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, req service.CreateCourseRequest, meta models.RequestMeta) (*models.Course, error)
	Update(ctx context.Context, id string, req service.UpdateCourseRequest, meta models.RequestMeta) (*models.Course, error)
	UpdateContent(ctx context.Context, id string, draft models.CourseContent, meta models.RequestMeta) (*service.ContentUpdateResult, error)
	Transition(ctx context.Context, id string, action service.CourseAction, note string, meta models.RequestMeta) (*models.Course, error)
	AddReview(ctx context.Context, courseID string, req service.ReviewCourseRequest, meta models.RequestMeta) (*models.CourseReview, float64, error)
	ListReviews(ctx context.Context, courseID string) ([]models.CourseReview, error)
}

// TransitionRequest carries the optional reviewer note.
type TransitionRequest struct {
	Note string `json:"note"`
}

// CourseHandler exposes the catalog and the publication workflow.
type CourseHandler struct {
	service courseService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(svc courseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// canSeeUnpublished reports whether the caller may see courses outside the
// public catalog. Trainers see their own, admins see everything.
func canSeeUnpublished(claims *models.JWTClaims, course *models.Course) bool {
	if claims == nil {
		return false
	}
	return claims.Role == models.RoleAdmin || course.InstructorID == claims.UserID
}

// List godoc
// @Summary List courses
// @Description Anonymous callers and learners only see published courses
// @Tags Courses
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter (staff only)"
// @Param instructor_id query string false "Instructor filter"
// @Param category query string false "Category ID filter"
// @Param search query string false "Title search"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.Page, filter.PageSize = pageParams(c)
	filter.InstructorID = c.Query("instructor_id")
	filter.Category = c.Query("category")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	published := models.CourseStatusPublished
	filter.Status = &published
	if claims, ok := middleware.Claims(c); ok && claims.Role != models.RoleUser {
		filter.Status = nil
		if status := c.Query("status"); status != "" {
			s := models.CourseStatus(status)
			filter.Status = &s
		}
		// non-admin staff browse their own courses outside the public catalog
		if claims.Role != models.RoleAdmin && (filter.Status == nil || *filter.Status != published) {
			filter.InstructorID = claims.UserID
		}
	}

	courses, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if course.Status != models.CourseStatusPublished && !canSeeUnpublished(claims, course) {
		response.Error(c, appErrors.ErrCourseNotFound)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create course
// @Description Creates a draft course owned by the caller
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.CreateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}
	course, err := h.service.Create(c.Request.Context(), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course metadata
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Course"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.UpdateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}
	course, err := h.service.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// UpdateContent godoc
// @Summary Replace course curriculum
// @Description Merges the edited sections, keeping ids of unchanged items, then prunes stale learner progress
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body models.CourseContent true "Sections"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/content [put]
func (h *CourseHandler) UpdateContent(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var draft models.CourseContent
	if !bindJSON(c, &draft, "invalid content payload") {
		return
	}
	result, err := h.service.UpdateContent(c.Request.Context(), c.Param("id"), draft, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	failed := 0
	if result.Prune != nil {
		failed = len(result.Prune.Failed)
	}
	response.Batch(c, result, failed)
}

// Transition godoc
// @Summary Move a course through the publication workflow
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param action path string true "submit, approve, reject, unpublish or archive"
// @Param payload body TransitionRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/transitions/{action} [post]
func (h *CourseHandler) Transition(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid transition payload") {
		return
	}
	course, err := h.service.Transition(c.Request.Context(), c.Param("id"), service.CourseAction(c.Param("action")), req.Note, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// AddReview godoc
// @Summary Review a course
// @Description Enrolled learners may rate a course once
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.ReviewCourseRequest true "Review"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/reviews [post]
func (h *CourseHandler) AddReview(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.ReviewCourseRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}
	review, rating, err := h.service.AddReview(c.Request.Context(), c.Param("id"), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"review": review, "course_rating": rating}, nil)
}

// ListReviews godoc
// @Summary List course reviews
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/reviews [get]
func (h *CourseHandler) ListReviews(c *gin.Context) {
	reviews, err := h.service.ListReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, nil)
}
