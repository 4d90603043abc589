package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/response"
)

type enrollmentService interface {
	EffectiveEnrollments(ctx context.Context, userID string) ([]models.EnrollmentView, error)
	Enroll(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ToggleSaved(ctx context.Context, userID, courseID string) (bool, error)
	RemoveSaved(ctx context.Context, userID, courseID string) error
	TrackTime(ctx context.Context, userID, courseID string, seconds int) error
}

type progressService interface {
	RecordLessonCompletion(ctx context.Context, userID, courseID, lessonID string) (*models.LessonCompletionResult, error)
	PruneStaleProgress(ctx context.Context, courseID string) (*models.PruneReport, error)
}

// TrackTimeRequest adds learning time to an enrollment.
type TrackTimeRequest struct {
	Seconds int `json:"seconds" binding:"min=0"`
	Minutes int `json:"minutes" binding:"min=0"`
}

// EnrollmentHandler exposes learner enrollment and progress endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	progress    progressService
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(enrollments enrollmentService, progress progressService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, progress: progress}
}

// Mine godoc
// @Summary List my courses
// @Description Effective enrollments of the caller, organization grants included
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	h.list(c, claims.UserID)
}

// ForUser godoc
// @Summary List a user's courses
// @Tags Enrollments
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/enrollments [get]
func (h *EnrollmentHandler) ForUser(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *EnrollmentHandler) list(c *gin.Context, userID string) {
	views, err := h.enrollments.EffectiveEnrollments(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Enroll godoc
// @Summary Enroll in a course
// @Description Enroll in (purchase) a published course; a saved entry is promoted
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/enroll [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// ToggleSaved godoc
// @Summary Toggle saved course
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/save [post]
func (h *EnrollmentHandler) ToggleSaved(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	saved, err := h.enrollments.ToggleSaved(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"course_id": c.Param("id"), "saved": saved}, nil)
}

// RemoveSaved godoc
// @Summary Remove saved course
// @Tags Enrollments
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Router /courses/{id}/save [delete]
func (h *EnrollmentHandler) RemoveSaved(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.enrollments.RemoveSaved(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// TrackTime godoc
// @Summary Track learning time
// @Tags Enrollments
// @Accept json
// @Param id path string true "Course ID"
// @Param payload body TrackTimeRequest true "Elapsed time"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/time [post]
func (h *EnrollmentHandler) TrackTime(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req TrackTimeRequest
	if !bindJSON(c, &req, "invalid time payload") {
		return
	}
	seconds := req.Seconds + req.Minutes*60
	if err := h.enrollments.TrackTime(c.Request.Context(), claims.UserID, c.Param("id"), seconds); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CompleteLesson godoc
// @Summary Complete a lesson
// @Description Records a completed lesson, recomputes progress and issues the certificate at 100%
// @Tags Progress
// @Produce json
// @Param id path string true "Course ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/lessons/{lessonId}/complete [post]
func (h *EnrollmentHandler) CompleteLesson(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	result, err := h.progress.RecordLessonCompletion(c.Request.Context(), claims.UserID, c.Param("id"), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// PruneProgress godoc
// @Summary Recompute learner progress for a course
// @Description Drops completed lessons that no longer exist and recomputes every enrollment
// @Tags Progress
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/progress/prune [post]
func (h *EnrollmentHandler) PruneProgress(c *gin.Context) {
	report, err := h.progress.PruneStaleProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, report, len(report.Failed))
}
