package models

import (
	"strings"
	"time"

	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
)

// Company is the tenant aggregate root. Every user and expense carries a
// CompanyID that must reference an existing company; the scoping guard fails
// closed without one.
type Company struct {
	ID              id.CompanyID `json:"id"`
	Name            string       `json:"name"`
	DefaultCurrency string       `json:"default_currency"`
	Country         string       `json:"country"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewCompany constructs a company, validating invariants.
func NewCompany(companyID id.CompanyID, name, defaultCurrency, country string, now time.Time) (*Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "company name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "company name must be 128 characters or less")
	}
	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if len(defaultCurrency) != 3 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "default currency must be a 3-letter code")
	}
	return &Company{
		ID:              companyID,
		Name:            name,
		DefaultCurrency: defaultCurrency,
		Country:         strings.TrimSpace(country),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
