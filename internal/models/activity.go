package models

import "time"

// UserActivity is one audit trail entry. Rows are append-only. Username is a
// snapshot taken at write time so the entry stays readable after the user is
// deleted, at which point UserID is set to NULL.
type UserActivity struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     *uint     `json:"user_id" gorm:"index"`
	Username   string    `json:"username" gorm:"type:varchar(80);not null;index"`
	Action     string    `json:"action" gorm:"type:varchar(500);not null"`
	EntityType *string   `json:"entity_type,omitempty" gorm:"type:varchar(100);index"`
	EntityID   *string   `json:"entity_id,omitempty" gorm:"type:varchar(100)"`
	IPAddress  string    `json:"ip_address" gorm:"type:varchar(45)"`
	Details    *string   `json:"details,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}
