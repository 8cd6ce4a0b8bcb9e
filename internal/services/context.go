package services

import (
	"context"
	"sync"

	"orgregistry/internal/models"
)

// Identity is the resolved actor of one call: an authenticated user, or the
// anonymous guest when User is nil.
type Identity struct {
	User *models.User
}

// Guest returns the anonymous identity.
func Guest() Identity {
	return Identity{}
}

// Authenticated returns the identity of u.
func Authenticated(u *models.User) Identity {
	return Identity{User: u}
}

func (i Identity) IsGuest() bool {
	return i.User == nil
}

// Username returns the user's name, or "" for the guest.
func (i Identity) Username() string {
	if i.User == nil {
		return ""
	}
	return i.User.Username
}

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx. ok is false when
// no identity was resolved for this call at all (CLI, background work).
func IdentityFromContext(ctx context.Context) (id Identity, ok bool) {
	id, ok = ctx.Value(identityKey{}).(Identity)
	return id, ok
}

type clientIPKey struct{}

// WithClientIP records the caller's source address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the source address, or "" when unknown.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// callScope holds values that live exactly as long as one inbound call.
type callScope struct {
	guestOnce  sync.Once
	guestPerms map[string]struct{}
}

type callScopeKey struct{}

// WithCallScope starts a new call scope. Values cached in it are discarded
// with ctx; nothing in it outlives the call.
func WithCallScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, callScopeKey{}, &callScope{})
}

func callScopeFrom(ctx context.Context) *callScope {
	s, _ := ctx.Value(callScopeKey{}).(*callScope)
	return s
}
