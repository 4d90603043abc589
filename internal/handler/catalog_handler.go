package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

// CategoryHandler manages course categories.
type CategoryHandler struct {
	service *service.CategoryService
}

// NewCategoryHandler constructs the handler.
func NewCategoryHandler(svc *service.CategoryService) *CategoryHandler {
	return &CategoryHandler{service: svc}
}

// List godoc
// @Summary List categories
// @Tags Categories
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /categories [get]
func (h *CategoryHandler) List(c *gin.Context) {
	categories, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, categories, nil)
}

// Create godoc
// @Summary Create category
// @Tags Categories
// @Accept json
// @Produce json
// @Param payload body service.CategoryRequest true "Category"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /categories [post]
func (h *CategoryHandler) Create(c *gin.Context) {
	var req service.CategoryRequest
	if !bindJSON(c, &req, "invalid category payload") {
		return
	}
	category, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, category)
}

// Rename godoc
// @Summary Rename category
// @Tags Categories
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param payload body service.CategoryRequest true "Category"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /categories/{id} [put]
func (h *CategoryHandler) Rename(c *gin.Context) {
	var req service.CategoryRequest
	if !bindJSON(c, &req, "invalid category payload") {
		return
	}
	category, err := h.service.Rename(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, category, nil)
}

// Delete godoc
// @Summary Delete category
// @Tags Categories
// @Param id path string true "Category ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /categories/{id} [delete]
func (h *CategoryHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
