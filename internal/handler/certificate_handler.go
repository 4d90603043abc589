package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type certificateService interface {
	IssueLink(ctx context.Context, userID, courseID string) (*service.CertificateLink, error)
	Open(ctx context.Context, token string) (*service.CertificateFile, error)
}

// CertificateHandler hands out and serves completion certificates.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs the handler.
func NewCertificateHandler(svc certificateService) *CertificateHandler {
	return &CertificateHandler{service: svc}
}

// Link godoc
// @Summary Get certificate download link
// @Description Returns a signed, expiring link to the caller's certificate for a completed course
// @Tags Certificates
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id}/certificate [get]
func (h *CertificateHandler) Link(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	link, err := h.service.IssueLink(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download certificate
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file.Reader)
}
