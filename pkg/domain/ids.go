// Package domain holds typed identifiers shared across modules.
//
// Each ID is a distinct uuid-backed type so the compiler rejects cross-type
// assignment: a UserID can never be passed where a CompanyID is expected.
// Parse functions are the trust boundary: they reject empty strings, invalid
// formats, and the nil UUID.
package domain

import (
	"github.com/google/uuid"

	dErrors "expensio/pkg/domain-errors"
)

type (
	// UserID identifies a user account.
	UserID uuid.UUID
	// CompanyID identifies a tenant company.
	CompanyID uuid.UUID
	// ExpenseID identifies a submitted expense.
	ExpenseID uuid.UUID
)

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id CompanyID) String() string { return uuid.UUID(id).String() }
func (id ExpenseID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CompanyID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ExpenseID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// The IDs marshal as their canonical string form in JSON and text contexts.

func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id CompanyID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ExpenseID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *CompanyID) UnmarshalText(b []byte) error {
	parsed, err := ParseCompanyID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ExpenseID) UnmarshalText(b []byte) error {
	parsed, err := ParseExpenseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewUserID returns a fresh random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewCompanyID returns a fresh random CompanyID.
func NewCompanyID() CompanyID { return CompanyID(uuid.New()) }

// NewExpenseID returns a fresh random ExpenseID.
func NewExpenseID() ExpenseID { return ExpenseID(uuid.New()) }

// ParseUserID parses and validates a user ID string.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseCompanyID parses and validates a company ID string.
func ParseCompanyID(s string) (CompanyID, error) {
	u, err := parseUUID(s, "company id")
	return CompanyID(u), err
}

// ParseExpenseID parses and validates an expense ID string.
func ParseExpenseID(s string) (ExpenseID, error) {
	u, err := parseUUID(s, "expense id")
	return ExpenseID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be the nil UUID")
	}
	return u, nil
}
