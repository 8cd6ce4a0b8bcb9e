package services

import (
	"context"
	"errors"

	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"gorm.io/gorm"
)

// Gate answers whether an identity holds a capability.
//
// Authenticated users are checked against the permissions of their group,
// which the identity resolver preloads. Members of a superuser group pass
// every check, including checks for names that have no permission row.
// The guest is checked against the guest group; its permission set is read
// once per call scope (see WithCallScope) and never cached beyond it, so a
// change to the guest group is visible to the next call.
type Gate struct {
	db *gorm.DB
}

func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// Authorize reports whether id may perform permission. Unknown permission
// names are a plain "no".
func (g *Gate) Authorize(ctx context.Context, id Identity, permission string) bool {
	kind, allowed := g.decide(ctx, id, permission)

	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authzDecisionsTotal.WithLabelValues(kind, decision).Inc()
	return allowed
}

func (g *Gate) decide(ctx context.Context, id Identity, permission string) (string, bool) {
	if id.IsGuest() {
		_, ok := g.guestPermissions(ctx)[permission]
		return "guest", ok
	}

	group := id.User.Group
	if group == nil {
		return "user", false
	}
	if group.IsSuperuser {
		return "superuser", true
	}
	return "user", group.HasPermission(permission)
}

func (g *Gate) guestPermissions(ctx context.Context) map[string]struct{} {
	scope := callScopeFrom(ctx)
	if scope == nil {
		return g.loadGuestPermissions(ctx)
	}
	scope.guestOnce.Do(func() {
		scope.guestPerms = g.loadGuestPermissions(ctx)
	})
	return scope.guestPerms
}

// loadGuestPermissions reads the guest group's permission names. A missing
// guest group, or a storage error, yields the empty set.
func (g *Gate) loadGuestPermissions(ctx context.Context) map[string]struct{} {
	perms := make(map[string]struct{})

	var group models.Group
	err := g.db.WithContext(ctx).
		Preload("Permissions").
		Where("is_guest = ?", true).
		Order("id").
		First(&group).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to load guest permissions")
		}
		return perms
	}

	for _, p := range group.Permissions {
		perms[p.Name] = struct{}{}
	}
	return perms
}
