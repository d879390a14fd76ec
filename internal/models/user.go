package models

import "time"

type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "Admin"
	}
	return "User"
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPaid Plan = "paid"
)

// User is read by the core for identity, role and plan.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:150" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	IsActive  bool      `gorm:"default:false" json:"is_active"`
	Role      Role      `gorm:"not null;default:0" json:"role"`
	Plan      Plan      `gorm:"size:32;not null;default:free" json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsFreeUser is true for non-admin users on the free plan; they are subject to quotas.
func (u *User) IsFreeUser() bool {
	return u.Role == RoleUser && u.Plan == PlanFree
}
