package model

import (
	"time"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
	RoleRetailer = "retailer"
	RoleCustomer = "customer"
)

// AdminSubRole marks employees with full administrative trust.
const AdminSubRole = "admin"

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEmployee, RoleRetailer, RoleCustomer:
		return true
	}
	return false
}

// User is an account in the reseller network. EmployeeCode is the identifier
// an employee re-enters to authorize guarded operations.
type User struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash    string    `gorm:"type:varchar(128);not null" json:"-"`
	Role            string    `gorm:"type:varchar(16);not null" json:"role"`
	EmployeeSubRole string    `gorm:"type:varchar(32)" json:"employee_sub_role,omitempty"`
	EmployeeCode    *string   `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	Active          bool      `gorm:"not null" json:"active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Principal is the authenticated caller for the duration of one request.
type Principal struct {
	ID              int64  `json:"id"`
	Role            string `json:"role"`
	EmployeeSubRole string `json:"employee_sub_role,omitempty"`
	Username        string `json:"username"`
	SessionID       string `json:"session_id"`
	// ExemptFromVerification is decided once at login; nothing downstream
	// re-derives trust from the username or sub-role.
	ExemptFromVerification bool `json:"exempt_from_verification"`
}

// NewPrincipal derives the request principal for a freshly authenticated user.
func NewPrincipal(u *User, sessionID string) Principal {
	return Principal{
		ID:                     u.ID,
		Role:                   u.Role,
		EmployeeSubRole:        u.EmployeeSubRole,
		Username:               u.Username,
		SessionID:              sessionID,
		ExemptFromVerification: u.Role == RoleEmployee && (u.Username == "admin" || u.EmployeeSubRole == AdminSubRole),
	}
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanActFor reports whether the principal may operate on another user's wallet.
func (p Principal) CanActFor(userID int64) bool {
	return p.ID == userID || p.Role == RoleAdmin || p.Role == RoleEmployee
}
