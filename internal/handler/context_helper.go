package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// requireClaims writes 401 and returns false when the request is anonymous.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

func requestMeta(c *gin.Context, claims *models.JWTClaims) models.RequestMeta {
	meta := models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims != nil {
		meta.ActorID = claims.UserID
		meta.ActorRole = claims.Role
	}
	return meta
}

func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}
