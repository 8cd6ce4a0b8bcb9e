package models

import (
	"time"
)

type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(80);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	GroupID      *uint     `json:"group_id" gorm:"index"`
	Group        *Group    `json:"group,omitempty" gorm:"foreignKey:GroupID"`
	FullName     string    `json:"full_name" gorm:"type:varchar(120)"`
	Department   string    `json:"department" gorm:"type:varchar(120)"`
	Position     string    `json:"position" gorm:"type:varchar(120)"`
	Contacts     string    `json:"contacts" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GroupName returns the name of the user's group, or "" when unassigned.
func (u *User) GroupName() string {
	if u.Group == nil {
		return ""
	}
	return u.Group.Name
}

// Session is the server-side record of an issued session token. Deleting the
// row revokes the token even though its signature is still valid.
type Session struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Token     string    `json:"-" gorm:"type:varchar(500);uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}
