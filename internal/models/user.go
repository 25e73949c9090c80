package models

import "time"

// User is a platform account holder.
type User struct {
	BaseModel

	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	Name string `json:"name"`

	IsActive bool `gorm:"default:false" json:"is_active"`

	Emails []UserEmail `gorm:"foreignKey:UserID" json:"emails,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`
}
