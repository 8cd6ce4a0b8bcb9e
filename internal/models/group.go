package models

import "time"

// Group is a role: a named bundle of permissions assignable to users.
type Group struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	Name      string `json:"name" gorm:"type:varchar(80);uniqueIndex;not null"`
	Deletable bool   `json:"deletable" gorm:"not null"`
	// IsSuperuser groups pass every permission check.
	IsSuperuser bool `json:"is_superuser" gorm:"not null;default:false"`
	// IsGuest marks the group whose permissions apply to anonymous callers.
	IsGuest     bool         `json:"is_guest" gorm:"not null;default:false"`
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:group_permissions;"`
	Users       []User       `json:"-" gorm:"foreignKey:GroupID"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionNames returns the names of the attached permissions.
func (g *Group) PermissionNames() []string {
	names := make([]string, 0, len(g.Permissions))
	for _, p := range g.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// HasPermission reports whether a permission with the given name is attached.
func (g *Group) HasPermission(name string) bool {
	for _, p := range g.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `json:"description" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupPermission is a row of the group_permissions association table.
type GroupPermission struct {
	GroupID      uint `gorm:"primaryKey"`
	PermissionID uint `gorm:"primaryKey"`
}

func (GroupPermission) TableName() string {
	return "group_permissions"
}
