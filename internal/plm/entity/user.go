package entity

import "time"

// Abilities checked by the permission gate
const (
	AbilityView     = "view"
	AbilityWrite    = "write"
	AbilityUpload   = "upload"
	AbilityCheckout = "checkout"
	AbilityRelease  = "release"
	AbilityAdmin    = "admin"
)

// Role groups ability flags.
type Role struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	Name        string    `json:"name" gorm:"size:64;not null;uniqueIndex"`
	CanView     bool      `json:"can_view" gorm:"not null"`
	CanWrite    bool      `json:"can_write" gorm:"not null;default:false"`
	CanUpload   bool      `json:"can_upload" gorm:"not null;default:false"`
	CanCheckout bool      `json:"can_checkout" gorm:"not null;default:false"`
	CanRelease  bool      `json:"can_release" gorm:"not null;default:false"`
	CanAdmin    bool      `json:"can_admin" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Role) TableName() string {
	return "roles"
}

// Has reports whether the role grants ability. Admin grants everything.
func (r *Role) Has(ability string) bool {
	if r == nil {
		return false
	}
	if r.CanAdmin {
		return true
	}
	switch ability {
	case AbilityView:
		return r.CanView
	case AbilityWrite:
		return r.CanWrite
	case AbilityUpload:
		return r.CanUpload
	case AbilityCheckout:
		return r.CanCheckout
	case AbilityRelease:
		return r.CanRelease
	}
	return false
}

// User is an actor. Username is stored lower-cased and unique.
type User struct {
	ID         string     `json:"id" gorm:"primaryKey;size:32"`
	Username   string     `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Email      string     `json:"email" gorm:"size:128"`
	RoleID     *string    `json:"role_id" gorm:"size:32;index"`
	IsActive   bool       `json:"is_active" gorm:"not null"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive *time.Time `json:"last_active"`

	Role *Role `json:"role,omitempty" gorm:"foreignKey:RoleID;constraint:OnDelete:SET NULL"`
}

func (User) TableName() string {
	return "users"
}
