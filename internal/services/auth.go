package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orgregistry/internal/config"
	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthService resolves who is acting and manages sessions.
type AuthService struct {
	db    *gorm.DB
	cfg   *config.Config
	audit *AuditService
}

func NewAuthService(db *gorm.DB, cfg *config.Config, audit *AuditService) *AuthService {
	return &AuthService{db: db, cfg: cfg, audit: audit}
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// HashPassword hashes a password using bcrypt
func (s *AuthService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.Security.BcryptCost)
	return string(bytes), err
}

// VerifyPassword verifies a password against a hash
func (s *AuthService) VerifyPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// Authenticate verifies credentials and returns the user
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// Login checks the credentials and opens a long-lived session. Success and
// failure are both audited; a failed attempt records the attempted username
// without a user reference.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, username, password)
	if errors.Is(err, ErrInvalidCredentials) {
		loginAttemptsTotal.WithLabelValues("failure").Inc()
		s.audit.Record(ctx, Entry{
			Action:    "Failed login attempt for " + username,
			Username:  username,
			Anonymous: true,
		})
		return nil, err
	}
	if err != nil {
		loginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	token, expiresAt, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	if err := s.CreateSession(ctx, user.ID, token, expiresAt); err != nil {
		return nil, err
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	s.audit.Record(ctx, Entry{
		Action:     "User logged in",
		EntityType: EntityUser,
		EntityID:   IDString(user.ID),
		Actor:      user,
	})

	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Logout audits the outgoing identity, if any, and revokes the session.
// The caller clears client-side session state regardless of the result.
func (s *AuthService) Logout(ctx context.Context, id Identity, token string) error {
	if !id.IsGuest() {
		s.audit.Record(ctx, Entry{
			Action:     "User logged out",
			EntityType: EntityUser,
			EntityID:   IDString(id.User.ID),
			Actor:      id.User,
		})
	}
	if token == "" {
		return nil
	}
	return s.DeleteSession(ctx, token)
}

// Resolve maps a session token to an identity. Anything short of a valid,
// unexpired, unrevoked token naming an existing user resolves to the guest.
func (s *AuthService) Resolve(ctx context.Context, token string) Identity {
	if token == "" {
		return Guest()
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Session.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Session.Issuer),
	)
	if err != nil {
		return Guest()
	}

	session, err := s.GetSession(ctx, token)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Ctx(ctx).Error().Err(err).Msg("session lookup failed")
		}
		return Guest()
	}
	if claims.Subject != strconv.FormatUint(uint64(session.UserID), 10) {
		return Guest()
	}

	var user models.User
	err = s.db.WithContext(ctx).Preload("Group.Permissions").First(&user, session.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Ctx(ctx).Warn().Uint("user_id", session.UserID).Msg("session references a deleted user")
		if err := s.DeleteSession(ctx, token); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to delete stale session")
		}
		return Guest()
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("user lookup failed")
		return Guest()
	}

	return Authenticated(&user)
}

func (s *AuthService) issueToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL())

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatUint(uint64(user.ID), 10),
		Issuer:    s.cfg.Session.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Session.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// CreateSession creates a new session record
func (s *AuthService) CreateSession(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	session := &models.Session{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession retrieves an unexpired session by token
func (s *AuthService) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession deletes a session
func (s *AuthService) DeleteSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error
}

// DeleteExpiredSessions removes expired sessions
func (s *AuthService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// SafeRedirect returns target when it stays on host, otherwise fallback.
// Relative paths are accepted; scheme-relative ("//evil") and backslash
// tricks are not.
func SafeRedirect(target, host, fallback string) string {
	if target == "" || strings.ContainsAny(target, "\\\r\n") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil {
		return fallback
	}
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(target, "//") {
			return fallback
		}
		return target
	}
	if (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Host, host) {
		return u.RequestURI()
	}
	return fallback
}
