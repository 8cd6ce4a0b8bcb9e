package routes

import (
	"net/http"
	"strings"

	"orgregistry/internal/api/handlers"
	"orgregistry/internal/api/middleware"
	"orgregistry/internal/catalog"
	"orgregistry/internal/config"
	"orgregistry/internal/logging"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Services holds the wired service layer shared by handlers and commands.
type Services struct {
	Audit       *services.AuditService
	Auth        *services.AuthService
	Gate        *services.Gate
	Permissions *services.PermissionService
	Users       *services.UserService
}

func NewServices(db *gorm.DB, cfg *config.Config) *Services {
	audit := services.NewAuditService(db)
	auth := services.NewAuthService(db, cfg, audit)
	return &Services{
		Audit:       audit,
		Auth:        auth,
		Gate:        services.NewGate(db),
		Permissions: services.NewPermissionService(db, audit),
		Users:       services.NewUserService(db, auth, audit),
	}
}

func SetupRoutes(r *gin.Engine, svc *Services, cfg *config.Config) {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth, svc.Users, cfg)
	userHandler := handlers.NewUserHandler(svc.Users)
	groupHandler := handlers.NewGroupHandler(svc.Permissions, cfg)
	logsHandler := handlers.NewLogsHandler(svc.Audit)
	directoryHandler := handlers.NewDirectoryHandler(svc.Users, svc.Permissions)

	require := func(permission string) gin.HandlerFunc {
		return middleware.RequirePermission(svc.Gate, permission, cfg)
	}

	// Client IPs feed rate limiting and the audit trail; forwarded headers are
	// only honored from configured proxies.
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logging.Error().Err(err).Msg("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	// Middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Organization registry API is running",
		})
	})

	api := r.Group("/api")
	api.Use(middleware.Identity(svc.Auth, cfg))
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", middleware.LoginRateLimit(cfg.Security.RateLimit), authHandler.Login)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", authHandler.GetMe)
			auth.GET("/sessions", authHandler.GetSessions)
		}

		// User management routes
		users := api.Group("/users", require(catalog.PermManageUsers))
		{
			users.GET("", userHandler.GetUsers)
			users.GET("/:id", userHandler.GetUser)
			users.POST("", userHandler.CreateUser)
			users.PUT("/:id", userHandler.UpdateUser)
			users.POST("/:id/password", userHandler.UpdatePassword)
			users.DELETE("/:id", userHandler.DeleteUser)
		}

		// Group, permission and catalog routes
		groups := api.Group("/groups", require(catalog.PermManageUsers))
		{
			groups.GET("", groupHandler.GetGroups)
			groups.GET("/:id", groupHandler.GetGroup)
			groups.POST("", groupHandler.CreateGroup)
			groups.PUT("/:id", groupHandler.UpdateGroup)
			groups.DELETE("/:id", groupHandler.DeleteGroup)
		}
		permissions := api.Group("/permissions", require(catalog.PermManageUsers))
		{
			permissions.GET("", groupHandler.GetPermissions)
			permissions.POST("", groupHandler.CreatePermission)
			permissions.DELETE("/:id", groupHandler.DeletePermission)
		}
		api.POST("/catalog/reconcile", require(catalog.PermManageUsers), groupHandler.ReconcileCatalog)

		// Activity log
		api.GET("/logs/activity", require(catalog.PermViewLogs), logsHandler.GetActivity)
	}

	// Machine-to-machine routes
	v1 := r.Group("/api/v1", middleware.APIKey(cfg.Security.APIKey))
	{
		v1.GET("/users-groups", directoryHandler.GetUsersGroups)
	}
	r.GET("/metrics", middleware.APIKey(cfg.Security.APIKey), gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
