package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

// maxBulkUsers caps a single bulk import.
const maxBulkUsers = 500

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email    string            `json:"email" validate:"required,email"`
	FullName string            `json:"full_name" validate:"required,max=120"`
	Role     models.UserRole   `json:"role" validate:"required,oneof=user trainer admin mentor"`
	Status   models.UserStatus `json:"status" validate:"omitempty,oneof=active inactive suspended pending"`
	Password string            `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string             `json:"full_name" validate:"required,max=120"`
	Role     models.UserRole    `json:"role" validate:"required,oneof=user trainer admin mentor"`
	Status   *models.UserStatus `json:"status" validate:"omitempty,oneof=active inactive suspended pending"`
}

// BulkCreateUsersRequest imports several users at once.
type BulkCreateUsersRequest struct {
	Users []CreateUserRequest `json:"users" validate:"required,min=1"`
}

// BulkRowError describes one rejected row of a bulk import.
type BulkRowError struct {
	Row    int    `json:"row"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BulkCreateResult reports the outcome of every row of a bulk import.
type BulkCreateResult struct {
	Created []models.User  `json:"created"`
	Failed  []BulkRowError `json:"failed"`
}

// UserService handles user management workflows.
type UserService struct {
	repo        userRepository
	memberships membershipLinker
	dispatcher  eventDispatcher
	validator   *validator.Validate
	logger      *zap.Logger
	frontendURL string
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, memberships membershipLinker, dispatcher eventDispatcher, validate *validator.Validate, logger *zap.Logger, frontendURL string) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:        repo,
		memberships: memberships,
		dispatcher:  dispatcher,
		validator:   validate,
		logger:      logger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUserNotFound, "load user")
	}
	return user, nil
}

// Create adds a new user.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionUserCreate, "users", user.ID, nil,
		map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})); err != nil {
		s.logger.Warn("failed to record user create audit log", zap.Error(err))
	}

	return user, nil
}

// BulkCreate imports users row by row. A bad row is reported and does not
// stop the rest.
func (s *UserService) BulkCreate(ctx context.Context, req BulkCreateUsersRequest, meta models.RequestMeta) (*BulkCreateResult, error) {
	if len(req.Users) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one user is required")
	}
	if len(req.Users) > maxBulkUsers {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many users in one import")
	}

	result := &BulkCreateResult{Created: []models.User{}, Failed: []BulkRowError{}}
	seen := map[string]int{}
	for i, row := range req.Users {
		email := strings.ToLower(strings.TrimSpace(row.Email))
		if first, dup := seen[email]; dup && email != "" {
			result.Failed = append(result.Failed, BulkRowError{Row: i, Email: row.Email, Reason: "duplicate of row " + strconv.Itoa(first)})
			continue
		}
		seen[email] = i

		if err := s.validator.Struct(row); err != nil {
			result.Failed = append(result.Failed, BulkRowError{Row: i, Email: row.Email, Reason: err.Error()})
			continue
		}
		user, err := s.create(ctx, row)
		if err != nil {
			result.Failed = append(result.Failed, BulkRowError{Row: i, Email: row.Email, Reason: appErrors.FromError(err).Message})
			continue
		}
		result.Created = append(result.Created, *user)
	}

	if err := s.repo.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionUserCreate, "users", "", nil,
		map[string]interface{}{"bulk": true, "created": len(result.Created), "failed": len(result.Failed)})); err != nil {
		s.logger.Warn("failed to record bulk user create audit log", zap.Error(err))
	}
	return result, nil
}

func (s *UserService) create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	status := req.Status
	if status == "" {
		status = models.UserStatusActive
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Status:       status,
		PasswordHash: string(passwordHash),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if s.memberships != nil {
		if err := s.memberships.LinkPendingMemberships(ctx, user); err != nil {
			s.logger.Warn("failed to link pending memberships", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Email(EmailPayload{
			Kind:   mailer.KindWelcome,
			To:     user.Email,
			ToName: user.FullName,
			Args:   map[string]string{"Name": user.FullName, "Link": s.frontendURL + "/login"},
		})
	}
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrUserNotFound, "load user")
	}

	old := map[string]interface{}{"role": user.Role, "status": user.Status}

	user.FullName = strings.TrimSpace(req.FullName)
	user.Role = req.Role
	if req.Status != nil {
		user.Status = *req.Status
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if !user.Active() {
		if err := s.repo.RevokeUserRefreshTokens(ctx, user.ID); err != nil {
			s.logger.Warn("failed to revoke refresh tokens of deactivated user", zap.Error(err))
		}
	}

	if err := s.repo.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionUserUpdate, "users", user.ID, old,
		map[string]interface{}{"role": user.Role, "status": user.Status})); err != nil {
		s.logger.Warn("failed to record user update audit log", zap.Error(err))
	}

	return user, nil
}

// Delete performs a soft delete (inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, appErrors.ErrUserNotFound, "load user")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	if err := s.repo.RevokeUserRefreshTokens(ctx, id); err != nil {
		s.logger.Warn("failed to revoke refresh tokens of deleted user", zap.Error(err))
	}

	if err := s.repo.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionUserDelete, "users", user.ID,
		map[string]interface{}{"status": user.Status},
		map[string]interface{}{"status": models.UserStatusInactive})); err != nil {
		s.logger.Warn("failed to record user delete audit log", zap.Error(err))
	}

	return nil
}

// Purge removes the user and everything that cascades from it. Callers may not
// purge themselves.
func (s *UserService) Purge(ctx context.Context, id string, meta models.RequestMeta) error {
	if id == meta.ActorID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot purge your own account")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return lookupError(err, appErrors.ErrUserNotFound, "load user")
	}
	if err := s.repo.HardDelete(ctx, id); err != nil {
		return lookupError(err, appErrors.ErrUserNotFound, "purge user")
	}

	if err := s.repo.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionUserPurge, "users", id,
		map[string]interface{}{"email": user.Email, "role": user.Role}, nil)); err != nil {
		s.logger.Warn("failed to record user purge audit log", zap.Error(err))
	}
	return nil
}
