package models

import "time"

// EmailRole distinguishes the primary login address from additional ones.
type EmailRole string

const (
	EmailRolePrimary EmailRole = "primary"
	EmailRoleGeneral EmailRole = "general"
)

// ActivationState tracks whether an address has been confirmed.
type ActivationState string

const (
	ActivationStatePending ActivationState = "pending"
	ActivationStateActive  ActivationState = "active"
)

// UserEmail is an address attached to a user account. The activation token
// columns hold the current verification grant: each new grant overwrites the
// previous one, so only the latest issued fragment verifies.
type UserEmail struct {
	BaseModel

	UserID string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Email  string    `gorm:"not null;index" json:"email"`
	Role   EmailRole `gorm:"not null;default:general" json:"role"`

	ActivationState ActivationState `gorm:"not null;default:pending" json:"activation_state"`

	ActivationToken          *string    `gorm:"index" json:"-"`
	ActivationTokenExpiresAt *time.Time `json:"-"`
	ActivationTokenGrantedAt *time.Time `json:"-"`
}

// HasGrant reports whether a verification grant is currently outstanding.
func (e *UserEmail) HasGrant() bool {
	return e.ActivationToken != nil && *e.ActivationToken != ""
}
