package services

import (
	"context"
	"path/filepath"
	"testing"

	"orgregistry/internal/catalog"
	"orgregistry/internal/config"
	"orgregistry/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	cfg   *config.Config
	audit *AuditService
	auth  *AuthService
	gate  *Gate
	perms *PermissionService
	users *UserService
}

// newTestEnv opens a fresh sqlite database in a temporary directory.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Type: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "orgregistry_test.db"),
			},
		},
		Session: config.SessionConfig{
			Secret:    "test-secret-key-for-testing-only",
			ExpiresIn: "24h",
			Issuer:    "orgregistry-test",
		},
		Security: config.SecurityConfig{
			BcryptCost: bcrypt.MinCost,
		},
	}
	cfg.ApplyDefaults()

	db, err := models.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	audit := NewAuditService(db)
	auth := NewAuthService(db, cfg, audit)
	return &testEnv{
		db:    db,
		cfg:   cfg,
		audit: audit,
		auth:  auth,
		gate:  NewGate(db),
		perms: NewPermissionService(db, audit),
		users: NewUserService(db, auth, audit),
	}
}

// seed reconciles the built-in catalog and clears the resulting audit rows.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	_, err := e.perms.Reconcile(context.Background(), catalog.Default())
	require.NoError(t, err)
	e.resetActivities(t)
}

func (e *testEnv) resetActivities(t *testing.T) {
	t.Helper()
	require.NoError(t, e.db.Where("1 = 1").Delete(&models.UserActivity{}).Error)
}

func (e *testEnv) activities(t *testing.T) []models.UserActivity {
	t.Helper()
	var rows []models.UserActivity
	require.NoError(t, e.db.Order("id").Find(&rows).Error)
	return rows
}

func (e *testEnv) group(t *testing.T, name string) *models.Group {
	t.Helper()
	var g models.Group
	require.NoError(t, e.db.Preload("Permissions").Where("name = ?", name).First(&g).Error)
	return &g
}

// createUser creates a user in the named group ("" for none) and clears the
// creation audit row.
func (e *testEnv) createUser(t *testing.T, username, password, groupName string) *models.User {
	t.Helper()
	profile := UserProfile{Username: username}
	if groupName != "" {
		profile.GroupID = &e.group(t, groupName).ID
	}
	u, err := e.users.CreateUser(context.Background(), profile, password)
	require.NoError(t, err)
	e.resetActivities(t)
	return u
}

// identity loads u the way the resolver does.
func (e *testEnv) identity(t *testing.T, u *models.User) Identity {
	t.Helper()
	var loaded models.User
	require.NoError(t, e.db.Preload("Group.Permissions").First(&loaded, u.ID).Error)
	return Authenticated(&loaded)
}

func (e *testEnv) as(t *testing.T, u *models.User) context.Context {
	t.Helper()
	return WithIdentity(context.Background(), e.identity(t, u))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
