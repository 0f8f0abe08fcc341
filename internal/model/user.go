// internal/model/user.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

type UserStatus string

const (
	StatusActive      UserStatus = "active"
	StatusDeactivated UserStatus = "deactivated"
)

// User belongs to exactly one organization. OrgID is write-once.
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	OrgID        uuid.UUID  `gorm:"type:uuid;not null;index;<-:create" json:"org_id"`
	Email        string     `gorm:"type:text;uniqueIndex;not null" json:"email"`
	Name         string     `gorm:"type:text" json:"name"`
	Role         Role       `gorm:"type:text;not null;default:'member'" json:"role"`
	Status       UserStatus `gorm:"type:text;not null;default:'active'" json:"status"`
	PasswordHash string     `gorm:"type:text;not null" json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (u *User) Active() bool {
	return u.Status == StatusActive
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
