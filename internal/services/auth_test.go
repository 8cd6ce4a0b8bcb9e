package services

import (
	"context"
	"testing"
	"time"

	"orgregistry/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	alice := env.createUser(t, "alice", "correct-horse", "Administrator")

	ctx := WithClientIP(context.Background(), "10.0.0.7")
	res, err := env.auth.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, alice.ID, res.User.ID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), res.ExpiresAt, time.Minute)

	var sessions int64
	require.NoError(t, env.db.Model(&models.Session{}).Where("user_id = ?", alice.ID).Count(&sessions).Error)
	assert.EqualValues(t, 1, sessions)

	rows := env.activities(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "User logged in", rows[0].Action)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, alice.ID, *rows[0].UserID)
	assert.Equal(t, "alice", rows[0].Username)
	assert.Equal(t, "10.0.0.7", rows[0].IPAddress)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown user", "mallory", "whatever"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seed(t)
			env.createUser(t, "alice", "correct-horse", "Administrator")

			res, err := env.auth.Login(context.Background(), tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Nil(t, res)

			rows := env.activities(t)
			require.Len(t, rows, 1)
			assert.Equal(t, "Failed login attempt for "+tt.username, rows[0].Action)
			assert.Nil(t, rows[0].UserID)
			assert.Equal(t, tt.username, rows[0].Username)
			assert.Equal(t, unknownAddress, rows[0].IPAddress)

			var sessions int64
			require.NoError(t, env.db.Model(&models.Session{}).Count(&sessions).Error)
			assert.Zero(t, sessions)
		})
	}
}

func TestLogin_FailureWhileSignedIn(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.createUser(t, "alice", "correct-horse", "Administrator")
	bob := env.createUser(t, "bob", "bob-password", "Guest")

	_, err := env.auth.Login(env.as(t, bob), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	rows := env.activities(t)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].UserID)
	assert.Equal(t, "alice", rows[0].Username)
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	alice := env.createUser(t, "alice", "correct-horse", "Administrator")
	ctx := context.Background()

	res, err := env.auth.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	id := env.auth.Resolve(ctx, res.Token)
	require.False(t, id.IsGuest())
	assert.Equal(t, alice.ID, id.User.ID)
	require.NotNil(t, id.User.Group)
	assert.True(t, id.User.Group.IsSuperuser)
	assert.NotEmpty(t, id.User.Group.Permissions)

	assert.True(t, env.auth.Resolve(ctx, "").IsGuest())
	assert.True(t, env.auth.Resolve(ctx, "not-a-token").IsGuest())
}

func TestResolve_ForeignSignature(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	alice := env.createUser(t, "alice", "correct-horse", "Administrator")

	claims := jwt.RegisteredClaims{
		Subject:   IDString(alice.ID),
		Issuer:    env.cfg.Session.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)
	require.NoError(t, env.auth.CreateSession(context.Background(), alice.ID, forged, time.Now().Add(time.Hour)))

	assert.True(t, env.auth.Resolve(context.Background(), forged).IsGuest())
}

func TestResolve_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.createUser(t, "alice", "correct-horse", "Administrator")
	ctx := context.Background()

	res, err := env.auth.Login(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Session{}).Where("token = ?", res.Token).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	assert.True(t, env.auth.Resolve(ctx, res.Token).IsGuest())

	removed, err := env.auth.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestResolve_DeletedUserDegradesToGuest(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	bob := env.createUser(t, "bob", "hunter22", "Guest")
	ctx := context.Background()

	res, err := env.auth.Login(ctx, "bob", "hunter22")
	require.NoError(t, err)

	// Bypass the user service so the session row survives.
	require.NoError(t, env.db.Delete(&models.User{}, bob.ID).Error)

	assert.True(t, env.auth.Resolve(ctx, res.Token).IsGuest())

	var sessions int64
	require.NoError(t, env.db.Model(&models.Session{}).Where("token = ?", res.Token).Count(&sessions).Error)
	assert.Zero(t, sessions, "stale session should be removed")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	alice := env.createUser(t, "alice", "correct-horse", "Administrator")

	res, err := env.auth.Login(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	id := env.auth.Resolve(context.Background(), res.Token)
	ctx := WithIdentity(context.Background(), id)
	require.NoError(t, env.auth.Logout(ctx, id, res.Token))

	assert.True(t, env.auth.Resolve(context.Background(), res.Token).IsGuest())

	rows := env.activities(t)
	require.Len(t, rows, 2)
	assert.Equal(t, "User logged in", rows[0].Action)
	assert.Equal(t, "User logged out", rows[1].Action)
	for _, r := range rows {
		require.NotNil(t, r.UserID)
		assert.Equal(t, alice.ID, *r.UserID)
		assert.Equal(t, "alice", r.Username)
	}
}

func TestLogout_Guest(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.auth.Logout(context.Background(), Guest(), ""))
	assert.Empty(t, env.activities(t))
}

func TestSafeRedirect(t *testing.T) {
	const host = "registry.example.org"
	const fallback = "/"

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"empty", "", fallback},
		{"relative path", "/organizations?page=2", "/organizations?page=2"},
		{"no leading slash", "organizations", fallback},
		{"scheme relative", "//evil.example.com/x", fallback},
		{"backslash trick", "/\\evil.example.com", fallback},
		{"header injection", "/ok\r\nSet-Cookie: x=y", fallback},
		{"same host absolute", "https://registry.example.org/logs?q=1", "/logs?q=1"},
		{"same host other case", "http://REGISTRY.example.org/map", "/map"},
		{"foreign host", "https://evil.example.com/", fallback},
		{"javascript scheme", "javascript:alert(1)", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeRedirect(tt.target, host, fallback))
		})
	}
}
