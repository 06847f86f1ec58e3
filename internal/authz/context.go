package authz

import (
	"context"

	"expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/requestcontext"
)

// Caller extracts the authenticated identity the auth middleware stored and
// parses it into typed form. Absent or malformed identities are
// unauthenticated, never forbidden: there is no caller to apply policy to.
func Caller(ctx context.Context) (models.Identity, error) {
	raw, ok := requestcontext.Identity(ctx)
	if !ok {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "authentication required")
	}

	userID, err := id.ParseUserID(raw.UserID)
	if err != nil {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "malformed caller identity")
	}
	companyID, err := id.ParseCompanyID(raw.CompanyID)
	if err != nil {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "malformed caller identity")
	}
	role, err := models.ParseRole(raw.Role)
	if err != nil {
		return models.Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "malformed caller identity")
	}

	return models.Identity{UserID: userID, CompanyID: companyID, Role: role}, nil
}
