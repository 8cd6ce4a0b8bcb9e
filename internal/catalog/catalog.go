// Package catalog defines the policy catalog: the declarative role to
// permission table that persisted groups and permissions are reconciled
// against. The catalog itself is never stored; only its effects are.
package catalog

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid policy catalog")

// Well-known role keys of the built-in catalog.
const (
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

// Well-known permission names.
const (
	PermViewLogs            = "view_logs"
	PermManageUsers         = "manage_users"
	PermViewOrganizations   = "view_organizations"
	PermManageOrganizations = "manage_organizations"
	PermViewMap             = "view_map"
	PermViewFiles           = "view_files"
)

// Grant is one permission entry of a role. Granted=false keeps the permission
// in the catalog (so it is not pruned) without attaching it to the role.
type Grant struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=255"`
	Granted     bool
}

type Role struct {
	Key         string `validate:"required,max=80"`
	DisplayName string `validate:"required,max=80"`
	Deletable   bool
	Superuser   bool
	Guest       bool
	Permissions []Grant `validate:"dive"`
}

// GrantedNames returns the names of permissions granted to the role.
func (r Role) GrantedNames() []string {
	var names []string
	for _, g := range r.Permissions {
		if g.Granted {
			names = append(names, g.Name)
		}
	}
	return names
}

// Catalog is an ordered list of role definitions.
type Catalog struct {
	Roles []Role `validate:"dive"`
}

// Role returns the role with the given key.
func (c *Catalog) Role(key string) (Role, bool) {
	for _, r := range c.Roles {
		if r.Key == key {
			return r, true
		}
	}
	return Role{}, false
}

// PermissionNames returns the union of permission names referenced by any
// role, in first-seen order.
func (c *Catalog) PermissionNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range c.Roles {
		for _, g := range r.Permissions {
			if !seen[g.Name] {
				seen[g.Name] = true
				names = append(names, g.Name)
			}
		}
	}
	return names
}

// Descriptions maps permission names to the first non-empty description any
// role gives them. Names without a description are absent.
func (c *Catalog) Descriptions() map[string]string {
	out := make(map[string]string)
	for _, r := range c.Roles {
		for _, g := range r.Permissions {
			if _, ok := out[g.Name]; !ok && g.Description != "" {
				out[g.Name] = g.Description
			}
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-role uniqueness.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	keys := make(map[string]bool)
	names := make(map[string]bool)
	guests := 0
	for _, r := range c.Roles {
		if keys[r.Key] {
			return fmt.Errorf("%w: duplicate role key %q", ErrInvalid, r.Key)
		}
		keys[r.Key] = true
		if names[r.DisplayName] {
			return fmt.Errorf("%w: duplicate display name %q", ErrInvalid, r.DisplayName)
		}
		names[r.DisplayName] = true
		if r.Guest {
			guests++
		}
		if r.Guest && r.Superuser {
			return fmt.Errorf("%w: role %q cannot be both guest and superuser", ErrInvalid, r.Key)
		}

		perms := make(map[string]bool)
		for _, g := range r.Permissions {
			if perms[g.Name] {
				return fmt.Errorf("%w: role %q lists permission %q twice", ErrInvalid, r.Key, g.Name)
			}
			perms[g.Name] = true
		}
	}
	if guests > 1 {
		return fmt.Errorf("%w: at most one guest role is allowed, found %d", ErrInvalid, guests)
	}
	return nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{Roles: []Role{
		{
			Key:         RoleAdmin,
			DisplayName: "Administrator",
			Deletable:   false,
			Superuser:   true,
			Permissions: []Grant{
				{Name: PermViewLogs, Description: "View the activity log", Granted: true},
				{Name: PermManageUsers, Description: "Manage users, groups and permissions", Granted: true},
				{Name: PermViewOrganizations, Description: "View organizations", Granted: true},
				{Name: PermManageOrganizations, Description: "Create, edit and delete organizations", Granted: true},
				{Name: PermViewMap, Description: "View the organization map", Granted: true},
				{Name: PermViewFiles, Description: "Browse uploaded files", Granted: true},
			},
		},
		{
			Key:         RoleGuest,
			DisplayName: "Guest",
			Deletable:   false,
			Guest:       true,
			Permissions: []Grant{
				{Name: PermViewMap, Granted: true},
				{Name: PermViewOrganizations, Granted: true},
			},
		},
	}}
}
