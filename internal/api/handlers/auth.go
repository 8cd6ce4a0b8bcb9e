package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"orgregistry/internal/api/middleware"
	"orgregistry/internal/config"
	"orgregistry/internal/logging"
	"orgregistry/internal/models"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

const invalidCredentialsNotice = "Invalid username or password."

type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	cfg         *config.Config
}

func NewAuthHandler(authService *services.AuthService, userService *services.UserService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
		cfg:         cfg,
	}
}

// LoginRequest binds from a form post or a JSON body.
type LoginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
	Next     string `form:"next" json:"next"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
	Redirect  string       `json:"redirect"`
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	jsonClient := middleware.WantsJSON(c) || c.ContentType() == gin.MIMEJSON

	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	target := services.SafeRedirect(req.Next, c.Request.Host, h.cfg.Server.LandingPath)

	res, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		if jsonClient {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		middleware.SetNotice(c, h.cfg, invalidCredentialsNotice)
		c.Redirect(http.StatusFound, h.loginLocation(target))
		return
	}
	if err != nil {
		respondError(c, err, "Failed to log in")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Session.CookieName, res.Token, int(h.cfg.SessionTTL().Seconds()), "/", "", h.cfg.Session.SecureCookie, true)

	if jsonClient {
		c.JSON(http.StatusOK, LoginResponse{
			Token:     res.Token,
			ExpiresAt: res.ExpiresAt,
			User:      res.User,
			Redirect:  target,
		})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Logout ends the session. Client-side session state is cleared even when
// revoking the server-side record fails.
func (h *AuthHandler) Logout(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	token := middleware.SessionToken(c, h.cfg.Session.CookieName)

	if err := h.authService.Logout(c.Request.Context(), id, token); err != nil {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("user", id.Username()).Msg("failed to revoke session")
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Session.CookieName, "", -1, "/", "", h.cfg.Session.SecureCookie, true)

	if middleware.WantsJSON(c) {
		c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
		return
	}
	c.Redirect(http.StatusFound, h.cfg.Server.LandingPath)
}

// GetMe returns the current identity and its effective permissions
func (h *AuthHandler) GetMe(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	resp := gin.H{
		"authenticated": !id.IsGuest(),
		"notice":        middleware.TakeNotice(c, h.cfg),
	}
	if !id.IsGuest() {
		resp["user"] = id.User
		if g := id.User.Group; g != nil {
			resp["superuser"] = g.IsSuperuser
			resp["permissions"] = g.PermissionNames()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetSessions returns active sessions for the current user
func (h *AuthHandler) GetSessions(c *gin.Context) {
	id := middleware.CurrentIdentity(c)
	if id.IsGuest() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	sessions, err := h.userService.GetSessions(c.Request.Context(), id.User.ID)
	if err != nil {
		respondError(c, err, "Failed to get sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *AuthHandler) loginLocation(next string) string {
	if next == h.cfg.Server.LandingPath {
		return h.cfg.Server.LoginPath
	}
	return h.cfg.Server.LoginPath + "?next=" + url.QueryEscape(next)
}
