package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeOrganizationSrv struct {
	report    *models.SyncReport
	file      *service.ExportFile
	err       error
	lastReq   service.OrganizationRequest
	lastMeta  models.RequestMeta
	lastFmt   string
	lastQuery models.OrganizationFilter
}

func (f *fakeOrganizationSrv) List(_ context.Context, filter models.OrganizationFilter) ([]models.Organization, *models.Pagination, error) {
	f.lastQuery = filter
	return []models.Organization{}, models.NewPagination(filter.Page, filter.PageSize, 0), f.err
}

func (f *fakeOrganizationSrv) Get(_ context.Context, id string) (*models.Organization, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Organization{ID: id}, nil
}

func (f *fakeOrganizationSrv) Create(_ context.Context, req service.OrganizationRequest, meta models.RequestMeta) (*service.OrganizationResult, error) {
	f.lastReq, f.lastMeta = req, meta
	if f.err != nil {
		return nil, f.err
	}
	return &service.OrganizationResult{Organization: &models.Organization{ID: "org-1", Name: req.Name}, Sync: f.report}, nil
}

func (f *fakeOrganizationSrv) Update(_ context.Context, id string, req service.OrganizationRequest, meta models.RequestMeta) (*service.OrganizationResult, error) {
	f.lastReq, f.lastMeta = req, meta
	if f.err != nil {
		return nil, f.err
	}
	return &service.OrganizationResult{Organization: &models.Organization{ID: id, Name: req.Name}, Sync: f.report}, nil
}

func (f *fakeOrganizationSrv) Resync(context.Context, string, models.RequestMeta) (*models.SyncReport, error) {
	return f.report, f.err
}

func (f *fakeOrganizationSrv) Delete(context.Context, string, models.RequestMeta) (*models.SyncReport, error) {
	return f.report, f.err
}

func (f *fakeOrganizationSrv) ExportProgress(_ context.Context, _ string, format string) (*service.ExportFile, error) {
	f.lastFmt = format
	return f.file, f.err
}

func TestOrganizationHandlerCreateFlagsPartialSync(t *testing.T) {
	srv := &fakeOrganizationSrv{report: &models.SyncReport{
		OrganizationID: "org-1",
		Succeeded:      []string{"a@example.com"},
		Failed:         []models.SyncFailure{{Email: "b@example.com", Reason: "write failed"}},
	}}
	r := newEngine()
	r.POST("/organizations", asUser("admin-1", models.RoleAdmin), NewOrganizationHandler(srv).Create)

	rec := perform(r, http.MethodPost, "/organizations", map[string]interface{}{
		"name":       "Acme",
		"users":      []map[string]string{{"email": "a@example.com"}, {"email": "b@example.com"}},
		"course_ids": []string{"course-1"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Acme", srv.lastReq.Name)
	assert.Len(t, srv.lastReq.Users, 2)
	assert.Equal(t, "admin-1", srv.lastMeta.ActorID)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["partial"])
	assert.Equal(t, float64(1), env.Meta["failed"])
}

func TestOrganizationHandlerResyncClean(t *testing.T) {
	srv := &fakeOrganizationSrv{report: &models.SyncReport{OrganizationID: "org-1", Unchanged: true}}
	r := newEngine()
	r.POST("/organizations/:id/resync", asUser("admin-1", models.RoleAdmin), NewOrganizationHandler(srv).Resync)

	rec := perform(r, http.MethodPost, "/organizations/org-1/resync", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, false, env.Meta["partial"])
}

func TestOrganizationHandlerDeleteConflict(t *testing.T) {
	srv := &fakeOrganizationSrv{err: appErrors.Clone(appErrors.ErrConflict, "members could not be detached")}
	r := newEngine()
	r.DELETE("/organizations/:id", asUser("admin-1", models.RoleAdmin), NewOrganizationHandler(srv).Delete)

	rec := perform(r, http.MethodDelete, "/organizations/org-1", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrganizationHandlerExportProgress(t *testing.T) {
	srv := &fakeOrganizationSrv{file: &service.ExportFile{
		Filename:    "acme-progress.csv",
		ContentType: "text/csv",
		Data:        []byte("email,course,percentage\n"),
	}}
	r := newEngine()
	r.GET("/organizations/:id/progress/export", NewOrganizationHandler(srv).ExportProgress)

	rec := perform(r, http.MethodGet, "/organizations/org-1/progress/export", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", srv.lastFmt)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "acme-progress.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "email,course"))

	srv.err = appErrors.Clone(appErrors.ErrValidation, "unsupported format")
	rec = perform(r, http.MethodGet, "/organizations/org-1/progress/export?format=xlsx", nil)
	assert.Equal(t, "xlsx", srv.lastFmt)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeCertificateSrv struct {
	link *service.CertificateLink
	body string
	err  error
}

func (f *fakeCertificateSrv) IssueLink(_ context.Context, _, courseID string) (*service.CertificateLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.link, nil
}

func (f *fakeCertificateSrv) Open(_ context.Context, token string) (*service.CertificateFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.CertificateFile{Filename: "certificate.pdf", Reader: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestCertificateHandlerLink(t *testing.T) {
	srv := &fakeCertificateSrv{link: &service.CertificateLink{CertificateID: "CERT-1", URL: "https://api.example.com/x", ExpiresAt: time.Now().Add(time.Hour)}}
	r := newEngine()
	r.GET("/courses/:id/certificate", asUser("learner-1", models.RoleUser), NewCertificateHandler(srv).Link)

	rec := perform(r, http.MethodGet, "/courses/course-1/certificate", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var link service.CertificateLink
	decodeData(t, rec, &link)
	assert.Equal(t, "CERT-1", link.CertificateID)
}

func TestCertificateHandlerDownload(t *testing.T) {
	srv := &fakeCertificateSrv{body: "%PDF-1.3 fake"}
	r := newEngine()
	r.GET("/certificates/download", NewCertificateHandler(srv).Download)

	rec := perform(r, http.MethodGet, "/certificates/download", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = perform(r, http.MethodGet, "/certificates/download?token=abc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3 fake", rec.Body.String())

	srv.err = appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	rec = perform(r, http.MethodGet, "/certificates/download?token=abc", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type fakeCounters struct {
	err error
}

func (f fakeCounters) CountByStatus(context.Context) (map[models.CourseStatus]int, error) {
	return map[models.CourseStatus]int{models.CourseStatusPublished: 3}, f.err
}

func (f fakeCounters) CountActive(context.Context) (int, error) {
	return 7, f.err
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(nil, fakeCounters{}, fakeCounters{}, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	r := newEngine()
	r.GET("/ready", healthy.Ready)
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ready", nil).Code)

	degraded := NewMetricsHandler(nil, fakeCounters{}, fakeCounters{}, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	r = newEngine()
	r.GET("/ready", degraded.Ready)
	rec := perform(r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsHandlerSnapshot(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), fakeCounters{}, fakeCounters{}, nil)
	r := newEngine()
	r.GET("/admin/metrics", h.Snapshot)

	rec := perform(r, http.MethodGet, "/admin/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CoursesByStatus   map[string]int `json:"courses_by_status"`
		ActiveEnrollments int            `json:"active_enrollments"`
	}
	decodeData(t, rec, &body)
	assert.Equal(t, 3, body.CoursesByStatus["published"])
	assert.Equal(t, 7, body.ActiveEnrollments)
}
