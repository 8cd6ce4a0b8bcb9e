package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"orgregistry/internal/config"
	"orgregistry/internal/logging"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	identityKey = "identity"

	// NoticeCookie carries a one-shot user-visible message across a redirect.
	NoticeCookie = "orgreg_notice"

	forbiddenNotice = "You do not have permission to access that page."
)

// Identity resolves the caller from the session cookie or an
// "Authorization: Bearer" header. It never aborts: callers without a valid
// session continue as the guest. The identity, the client address and a
// fresh call scope are installed on the request context.
func Identity(authService *services.AuthService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := services.WithCallScope(c.Request.Context())
		ctx = services.WithClientIP(ctx, c.ClientIP())

		id := authService.Resolve(ctx, SessionToken(c, cfg.Session.CookieName))

		c.Request = c.Request.WithContext(services.WithIdentity(ctx, id))
		c.Set(identityKey, id)
		c.Next()
	}
}

// SessionToken extracts the session token, preferring a Bearer header over
// the session cookie.
func SessionToken(c *gin.Context, cookieName string) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	token, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token
}

// CurrentIdentity returns the identity installed by Identity, or the guest.
func CurrentIdentity(c *gin.Context) services.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(services.Identity); ok {
			return id
		}
	}
	return services.Guest()
}

type DenialKind int

const (
	Unauthenticated DenialKind = iota + 1
	Forbidden
)

func (k DenialKind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Denial describes how a refused request is answered.
type Denial struct {
	Kind     DenialKind
	Location string
	Notice   string
}

// Decide turns an authorization answer into a denial, or nil when allowed.
// Guests are sent to the login page with the requested URI in "next".
// Authenticated users go back to a same-origin Referer, or to the landing
// page when there is none or it points at the refused page itself.
func Decide(allowed bool, id services.Identity, r *http.Request, server config.ServerConfig) *Denial {
	if allowed {
		return nil
	}

	if id.IsGuest() {
		return &Denial{
			Kind:     Unauthenticated,
			Location: server.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI()),
		}
	}

	location := services.SafeRedirect(r.Referer(), r.Host, server.LandingPath)
	if location == r.URL.RequestURI() {
		location = server.LandingPath
	}
	return &Denial{
		Kind:     Forbidden,
		Location: location,
		Notice:   forbiddenNotice,
	}
}

// RequirePermission guards the handlers after it with a capability check.
// It does not audit; handlers that mutate state record their own entries.
func RequirePermission(gate *services.Gate, permission string, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := CurrentIdentity(c)
		allowed := gate.Authorize(c.Request.Context(), id, permission)

		denial := Decide(allowed, id, c.Request, cfg.Server)
		if denial == nil {
			c.Next()
			return
		}

		logging.Ctx(c.Request.Context()).Info().
			Str("user", id.Username()).
			Str("permission", permission).
			Str("denial", denial.Kind.String()).
			Str("path", c.Request.URL.Path).
			Msg("access denied")

		if WantsJSON(c) {
			status := http.StatusForbidden
			message := "Forbidden: insufficient permissions"
			if denial.Kind == Unauthenticated {
				status = http.StatusUnauthorized
				message = "Authentication required"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":      message,
				"permission": permission,
				"location":   denial.Location,
			})
			return
		}

		if denial.Notice != "" {
			SetNotice(c, cfg, denial.Notice)
		}
		c.Redirect(http.StatusFound, denial.Location)
		c.Abort()
	}
}

// WantsJSON reports whether the client asked for a JSON answer rather than
// a browser redirect.
func WantsJSON(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// SetNotice stores a flash message for the next page view.
func SetNotice(c *gin.Context, cfg *config.Config, notice string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(NoticeCookie, notice, 60, "/", "", cfg.Session.SecureCookie, true)
}

// TakeNotice returns and clears the pending flash message, if any.
func TakeNotice(c *gin.Context, cfg *config.Config) string {
	notice, err := c.Cookie(NoticeCookie)
	if err != nil || notice == "" {
		return ""
	}
	c.SetCookie(NoticeCookie, "", -1, "/", "", cfg.Session.SecureCookie, true)
	return notice
}
