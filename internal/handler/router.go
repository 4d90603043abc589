package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
)

// Handlers groups every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Courses       *CourseHandler
	Enrollments   *EnrollmentHandler
	Organizations *OrganizationHandler
	Categories    *CategoryHandler
	Notifications *NotificationHandler
	Certificates  *CertificateHandler
	Metrics       *MetricsHandler
}

// LoginLimit bounds login attempts per client IP. A nil Limiter disables it.
type LoginLimit struct {
	Limiter *middleware.RateLimiter
	Limit   int
	Window  time.Duration
}

// RegisterRoutes mounts the API under prefix. Ops endpoints stay at the root.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, tokens middleware.TokenValidator, login LoginLimit) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	authRequired := middleware.JWT(tokens)
	optionalAuth := middleware.OptionalJWT(tokens)
	admin := middleware.RequireRoles(models.RoleAdmin)
	authors := middleware.RequireRoles(models.RoleTrainer, models.RoleMentor, models.RoleAdmin)

	api := r.Group(prefix)

	auth := api.Group("/auth")
	loginChain := []gin.HandlerFunc{}
	if login.Limiter != nil {
		loginChain = append(loginChain, login.Limiter.Limit("login", login.Limit, login.Window))
	}
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", append(loginChain, h.Auth.Login)...)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", authRequired, h.Auth.Logout)
	auth.POST("/change-password", authRequired, h.Auth.ChangePassword)
	auth.GET("/me", authRequired, h.Auth.Me)

	me := api.Group("/me", authRequired)
	me.GET("/enrollments", h.Enrollments.Mine)

	users := api.Group("/users", authRequired)
	users.GET("", admin, h.Users.List)
	users.POST("", admin, h.Users.Create)
	users.POST("/bulk", admin, h.Users.BulkCreate)
	users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.Self), h.Users.Get)
	users.GET("/:id/enrollments", middleware.RBAC(string(models.RoleAdmin), middleware.Self), h.Enrollments.ForUser)
	users.PUT("/:id", admin, h.Users.Update)
	users.DELETE("/:id", admin, h.Users.Delete)
	users.DELETE("/:id/purge", admin, h.Users.Purge)

	courses := api.Group("/courses")
	courses.GET("", optionalAuth, h.Courses.List)
	courses.GET("/:id", optionalAuth, h.Courses.Get)
	courses.GET("/:id/reviews", h.Courses.ListReviews)
	courses.POST("", authRequired, authors, h.Courses.Create)
	courses.PUT("/:id", authRequired, authors, h.Courses.Update)
	courses.PUT("/:id/content", authRequired, authors, h.Courses.UpdateContent)
	courses.POST("/:id/transitions/:action", authRequired, authors, h.Courses.Transition)
	courses.POST("/:id/progress/prune", authRequired, authors, h.Enrollments.PruneProgress)
	courses.POST("/:id/enroll", authRequired, h.Enrollments.Enroll)
	courses.POST("/:id/save", authRequired, h.Enrollments.ToggleSaved)
	courses.DELETE("/:id/save", authRequired, h.Enrollments.RemoveSaved)
	courses.POST("/:id/time", authRequired, h.Enrollments.TrackTime)
	courses.POST("/:id/lessons/:lessonId/complete", authRequired, h.Enrollments.CompleteLesson)
	courses.POST("/:id/reviews", authRequired, h.Courses.AddReview)
	courses.GET("/:id/certificate", authRequired, h.Certificates.Link)

	api.GET("/certificates/download", h.Certificates.Download)

	categories := api.Group("/categories")
	categories.GET("", h.Categories.List)
	categories.POST("", authRequired, admin, h.Categories.Create)
	categories.PUT("/:id", authRequired, admin, h.Categories.Rename)
	categories.DELETE("/:id", authRequired, admin, h.Categories.Delete)

	orgs := api.Group("/organizations", authRequired, admin)
	orgs.GET("", h.Organizations.List)
	orgs.POST("", h.Organizations.Create)
	orgs.GET("/:id", h.Organizations.Get)
	orgs.PUT("/:id", h.Organizations.Update)
	orgs.DELETE("/:id", h.Organizations.Delete)
	orgs.POST("/:id/resync", h.Organizations.Resync)
	orgs.GET("/:id/progress/export", h.Organizations.ExportProgress)

	notifications := api.Group("/notifications", authRequired)
	notifications.GET("", h.Notifications.List)
	notifications.POST("/read-all", h.Notifications.MarkAllRead)
	notifications.POST("/:id/read", h.Notifications.MarkRead)

	api.GET("/admin/metrics", authRequired, admin, h.Metrics.Snapshot)
}
