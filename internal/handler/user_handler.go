package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

// UserHandler handles user administration endpoints.
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users
// @Description List users with pagination and filtering
// @Tags Users
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param role query string false "Role filter (user, trainer, admin, mentor)"
// @Param status query string false "Status filter"
// @Param search query string false "Search term"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	var filter models.UserFilter
	filter.Page, filter.PageSize = pageParams(c)

	if role := c.Query("role"); role != "" {
		r := models.UserRole(role)
		filter.Role = &r
	}
	if status := c.Query("status"); status != "" {
		s := models.UserStatus(status)
		filter.Status = &s
	}
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user
// @Description Get user detail
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, user, nil)
}

// Create godoc
// @Summary Create user
// @Description Create a new user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.CreateUserRequest true "Create user payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req service.CreateUserRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	user, err := h.service.Create(c.Request.Context(), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// BulkCreate godoc
// @Summary Bulk create users
// @Description Create many users at once; every row is reported individually
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body service.BulkCreateUsersRequest true "Users"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/bulk [post]
func (h *UserHandler) BulkCreate(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req service.BulkCreateUsersRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	result, err := h.service.BulkCreate(c.Request.Context(), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Batch(c, result, len(result.Failed))
}

// Update godoc
// @Summary Update user
// @Description Update name, role and status
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.UpdateUserRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	var req service.UpdateUserRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}

	user, err := h.service.Update(c.Request.Context(), c.Param("id"), req, requestMeta(c, claims))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, user, nil)
}

// Delete godoc
// @Summary Deactivate user
// @Description Soft delete user by marking inactive
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), requestMeta(c, claims)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Purge godoc
// @Summary Permanently delete user
// @Description Removes the user with enrollments, memberships and sessions
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/purge [delete]
func (h *UserHandler) Purge(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}

	if err := h.service.Purge(c.Request.Context(), c.Param("id"), requestMeta(c, claims)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
