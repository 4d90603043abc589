package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeEnrollmentSrv struct {
	views       []models.EnrollmentView
	saved       bool
	err         error
	lastUser    string
	lastCourse  string
	lastSeconds int
}

func (f *fakeEnrollmentSrv) EffectiveEnrollments(_ context.Context, userID string) ([]models.EnrollmentView, error) {
	f.lastUser = userID
	return f.views, f.err
}

func (f *fakeEnrollmentSrv) Enroll(_ context.Context, userID, courseID string) (*models.Enrollment, error) {
	f.lastUser, f.lastCourse = userID, courseID
	if f.err != nil {
		return nil, f.err
	}
	return &models.Enrollment{ID: "enr-1", UserID: userID, CourseID: courseID, Status: models.EnrollmentStatusInProgress}, nil
}

func (f *fakeEnrollmentSrv) ToggleSaved(_ context.Context, userID, courseID string) (bool, error) {
	f.lastUser, f.lastCourse = userID, courseID
	return f.saved, f.err
}

func (f *fakeEnrollmentSrv) RemoveSaved(_ context.Context, userID, courseID string) error {
	f.lastUser, f.lastCourse = userID, courseID
	return f.err
}

func (f *fakeEnrollmentSrv) TrackTime(_ context.Context, userID, courseID string, seconds int) error {
	f.lastUser, f.lastCourse, f.lastSeconds = userID, courseID, seconds
	return f.err
}

type fakeProgressSrv struct {
	lastLesson string
	report     *models.PruneReport
	err        error
}

func (f *fakeProgressSrv) RecordLessonCompletion(_ context.Context, _, courseID, lessonID string) (*models.LessonCompletionResult, error) {
	f.lastLesson = lessonID
	if f.err != nil {
		return nil, f.err
	}
	return &models.LessonCompletionResult{CourseID: courseID, Status: models.EnrollmentStatusInProgress, Progress: models.Progress{Percentage: 50}}, nil
}

func (f *fakeProgressSrv) PruneStaleProgress(context.Context, string) (*models.PruneReport, error) {
	return f.report, f.err
}

func TestEnrollmentHandlerMineUsesCaller(t *testing.T) {
	srv := &fakeEnrollmentSrv{views: []models.EnrollmentView{{CourseID: "course-1", Synthesized: true}}}
	r := newEngine()
	r.GET("/me/enrollments", asUser("learner-1", models.RoleUser), NewEnrollmentHandler(srv, &fakeProgressSrv{}).Mine)

	rec := perform(r, http.MethodGet, "/me/enrollments", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "learner-1", srv.lastUser)
	var views []models.EnrollmentView
	decodeData(t, rec, &views)
	require.Len(t, views, 1)
	assert.True(t, views[0].Synthesized)
}

func TestEnrollmentHandlerEnroll(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	h := NewEnrollmentHandler(srv, &fakeProgressSrv{})
	r := newEngine()
	r.POST("/courses/:id/enroll", asUser("learner-1", models.RoleUser), h.Enroll)

	rec := perform(r, http.MethodPost, "/courses/course-1/enroll", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "course-1", srv.lastCourse)

	srv.err = appErrors.ErrAlreadyEnrolled
	rec = perform(r, http.MethodPost, "/courses/course-1/enroll", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	anon := newEngine()
	anon.POST("/courses/:id/enroll", h.Enroll)
	rec = perform(anon, http.MethodPost, "/courses/course-1/enroll", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnrollmentHandlerToggleSaved(t *testing.T) {
	srv := &fakeEnrollmentSrv{saved: true}
	r := newEngine()
	r.POST("/courses/:id/save", asUser("learner-1", models.RoleUser), NewEnrollmentHandler(srv, &fakeProgressSrv{}).ToggleSaved)

	rec := perform(r, http.MethodPost, "/courses/course-9/save", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CourseID string `json:"course_id"`
		Saved    bool   `json:"saved"`
	}
	decodeData(t, rec, &body)
	assert.Equal(t, "course-9", body.CourseID)
	assert.True(t, body.Saved)
}

func TestEnrollmentHandlerTrackTime(t *testing.T) {
	srv := &fakeEnrollmentSrv{}
	r := newEngine()
	r.POST("/courses/:id/time", asUser("learner-1", models.RoleUser), NewEnrollmentHandler(srv, &fakeProgressSrv{}).TrackTime)

	rec := perform(r, http.MethodPost, "/courses/course-1/time", map[string]int{"seconds": 30, "minutes": 2})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 150, srv.lastSeconds)

	srv.lastSeconds = 0
	rec = perform(r, http.MethodPost, "/courses/course-1/time", map[string]int{"seconds": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.lastSeconds)
}

func TestEnrollmentHandlerCompleteLesson(t *testing.T) {
	progress := &fakeProgressSrv{}
	r := newEngine()
	r.POST("/courses/:id/lessons/:lessonId/complete", asUser("learner-1", models.RoleUser), NewEnrollmentHandler(&fakeEnrollmentSrv{}, progress).CompleteLesson)

	rec := perform(r, http.MethodPost, "/courses/course-1/lessons/L2/complete", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "L2", progress.lastLesson)
	var result models.LessonCompletionResult
	decodeData(t, rec, &result)
	assert.Equal(t, 50, result.Progress.Percentage)

	progress.err = appErrors.ErrInvalidLesson
	rec = perform(r, http.MethodPost, "/courses/course-1/lessons/nope/complete", nil)
	assert.Equal(t, appErrors.ErrInvalidLesson.Status, rec.Code)
}

func TestEnrollmentHandlerPruneProgressPartial(t *testing.T) {
	progress := &fakeProgressSrv{report: &models.PruneReport{
		CourseID: "course-1",
		Updated:  []string{"e-1"},
		Failed:   []models.PruneFailure{{EnrollmentID: "e-2", Reason: "conflict"}},
	}}
	r := newEngine()
	r.POST("/courses/:id/progress/prune", NewEnrollmentHandler(&fakeEnrollmentSrv{}, progress).PruneProgress)

	rec := perform(r, http.MethodPost, "/courses/course-1/progress/prune", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["partial"])
}
