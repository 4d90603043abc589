package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type organizationService interface {
	List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Organization, error)
	Create(ctx context.Context, req service.OrganizationRequest, meta models.RequestMeta) (*service.OrganizationResult, error)
	Update(ctx context.Context, id string, req service.OrganizationRequest, meta models.RequestMeta) (*service.OrganizationResult, error)
	Resync(ctx context.Context, id string, meta models.RequestMeta) (*models.SyncReport, error)
	Delete(ctx context.Context, id string, meta models.RequestMeta) (*models.SyncReport, error)
	ExportProgress(ctx context.Context, id, format string) (*service.ExportFile, error)
}

// OrganizationHandler exposes organization administration.
type OrganizationHandler struct {
	service organizationService
}

// NewOrganizationHandler constructs the handler.
func NewOrganizationHandler(svc organizationService) *OrganizationHandler {
	return &OrganizationHandler{service: svc}
}

func syncFailures(report *models.SyncReport) int {
	if report == nil {
		return 0
	}
	return len(report.Failed)
}

// List godoc
// @Summary List organizations
// @Tags Organizations
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param search query string false "Name search"
// @Success 200 {object} response.Envelope
// @Router /organizations [get]
func (h *OrganizationHandler) List(c *gin.Context) {
	filter := models.OrganizationFilter{Search: c.Query("search")}
	filter.Page, filter.PageSize = pageParams(c)

	orgs, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, orgs, pagination)
}

// Get godoc
// @Summary Get organization
// @Tags Organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /organizations/{id} [get]
func (h *OrganizationHandler) Get(c *gin.Context) {
	org, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, org, nil)
}

// Create godoc
// @Summary Create organization
// @Description Creates the organization and grants its courses to every member
// @Tags Organizations
// @Accept json
// @Produce json
// @Param payload body service.OrganizationRequest true "Organization"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /organizations [post]
func (h *OrganizationHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.OrganizationRequest
	if !bindJSON(c, &req, "invalid organization payload") {
		return
	}
	result, err := h.service.Create(c.Request.Context(), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil, map[string]interface{}{
		"partial": syncFailures(result.Sync) > 0,
		"failed":  syncFailures(result.Sync),
	})
}

// Update godoc
// @Summary Update organization
// @Description Applies roster and course changes to members; failures are reported per member
// @Tags Organizations
// @Accept json
// @Produce json
// @Param id path string true "Organization ID"
// @Param payload body service.OrganizationRequest true "Organization"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /organizations/{id} [put]
func (h *OrganizationHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.OrganizationRequest
	if !bindJSON(c, &req, "invalid organization payload") {
		return
	}
	result, err := h.service.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, result, syncFailures(result.Sync))
}

// Resync godoc
// @Summary Re-apply organization membership
// @Description Idempotently re-applies the stored roster and courses to every member
// @Tags Organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {object} response.Envelope
// @Router /organizations/{id}/resync [post]
func (h *OrganizationHandler) Resync(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	report, err := h.service.Resync(c.Request.Context(), c.Param("id"), requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Batch(c, report, syncFailures(report))
}

// Delete godoc
// @Summary Delete organization
// @Description Detaches every member, then removes the organization
// @Tags Organizations
// @Produce json
// @Param id path string true "Organization ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /organizations/{id} [delete]
func (h *OrganizationHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	report, err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ExportProgress godoc
// @Summary Export member progress
// @Description Member by course progress report as CSV or PDF
// @Tags Organizations
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Organization ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /organizations/{id}/progress/export [get]
func (h *OrganizationHandler) ExportProgress(c *gin.Context) {
	file, err := h.service.ExportProgress(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
