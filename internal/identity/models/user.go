package models

import (
	"strings"
	"time"

	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
)

// Role is the authorization role a user holds within their company.
// Protected operations declare their own explicit allowed-role sets; nothing
// infers capability from an ordering of these values.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role string from a trust boundary.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEmployee, RoleManager, RoleAdmin:
		return Role(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown role %q", s)
	}
}

// User is an account within exactly one company.
//
// Invariants:
//   - CompanyID is set at creation and never changes
//   - Role changes only through an admin action
//   - Email is unique within the store, compared case-insensitively
type User struct {
	ID           id.UserID    `json:"id"`
	CompanyID    id.CompanyID `json:"company_id"`
	Role         Role         `json:"role"`
	Email        string       `json:"email"`
	Name         string       `json:"name"`
	PasswordHash string       `json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewUser constructs a user, validating invariants.
func NewUser(userID id.UserID, companyID id.CompanyID, role Role, email, name, passwordHash string, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "a valid email is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "name cannot be empty")
	}
	if companyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user must belong to a company")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid role")
	}
	return &User{
		ID:           userID,
		CompanyID:    companyID,
		Role:         role,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyRoleChange sets a new role. Callers enforce that only an admin of the
// same company may invoke this.
func (u *User) ApplyRoleChange(role Role, now time.Time) {
	u.Role = role
	u.UpdatedAt = now
}

// Identity is the resolved caller: the tuple everything downstream scopes by.
type Identity struct {
	UserID    id.UserID
	CompanyID id.CompanyID
	Role      Role
}
