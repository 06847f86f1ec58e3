// Package authz holds the role predicate and the company-scoping guard.
//
// Authorization is table-driven: every protected operation declares its own
// explicit allowed-role set, registered in this package so the full map is
// auditable in one place. Nothing infers capability from a role ordering.
package authz

import (
	"expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
)

// Operation names a protected endpoint-level action.
type Operation string

const (
	OpExpenseSubmit   Operation = "expense.submit"
	OpExpenseEdit     Operation = "expense.edit"
	OpExpenseDelete   Operation = "expense.delete"
	OpExpenseRead     Operation = "expense.read"
	OpExpenseList     Operation = "expense.list"
	OpExpenseApprove  Operation = "expense.approve"
	OpExpenseReject   Operation = "expense.reject"
	OpExpenseEscalate Operation = "expense.escalate"
	OpExpenseHistory  Operation = "expense.history"
	OpCompanyRead     Operation = "company.read"
	OpWorkflowRead    Operation = "company.workflow.read"
	OpWorkflowWrite   Operation = "company.workflow.write"
	OpUserCreate      Operation = "user.create"
	OpUserChangeRole  Operation = "user.change_role"
	OpAuditList       Operation = "audit.list"
)

// allowedRoles is the single source of truth for which roles may invoke which
// operation. Reviewed as a table, not reconstructed from a hierarchy.
var allowedRoles = map[Operation][]models.Role{
	OpExpenseSubmit:   {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpExpenseEdit:     {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpExpenseDelete:   {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpExpenseRead:     {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpExpenseList:     {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpExpenseApprove:  {models.RoleManager, models.RoleAdmin},
	OpExpenseReject:   {models.RoleManager, models.RoleAdmin},
	OpExpenseEscalate: {models.RoleManager, models.RoleAdmin},
	OpExpenseHistory:  {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpCompanyRead:     {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpWorkflowRead:    {models.RoleEmployee, models.RoleManager, models.RoleAdmin},
	OpWorkflowWrite:   {models.RoleAdmin},
	OpUserCreate:      {models.RoleAdmin},
	OpUserChangeRole:  {models.RoleAdmin},
	OpAuditList:       {models.RoleAdmin},
}

// Allowed reports whether role is in the explicit allowed set.
func Allowed(role models.Role, allowed ...models.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// Require checks the operation's declared role set, failing closed for
// operations that never registered one.
func Require(ident models.Identity, op Operation) error {
	set, ok := allowedRoles[op]
	if !ok {
		return dErrors.Newf(dErrors.CodeForbidden, "operation %s has no authorization policy", op)
	}
	if !Allowed(ident.Role, set...) {
		return dErrors.Newf(dErrors.CodeForbidden, "role %s may not perform %s", ident.Role, op)
	}
	return nil
}

// ResourceRef is the scoping view of a resource: which company it belongs to
// and, when owned, which user owns it.
type ResourceRef struct {
	CompanyID id.CompanyID
	OwnerID   id.UserID
	// Owned distinguishes "resource has an owner" from a zero OwnerID.
	Owned bool
}

// ScopeCheck enforces tenant isolation before any resource-level operation.
// Rules, applied in order:
//
//  1. A resource without a company reference fails closed.
//  2. Cross-company access is forbidden regardless of role; an admin of a
//     different tenant is still an outsider.
//  3. A resource owned by someone else is reachable only for managers and
//     admins of the same company.
func ScopeCheck(ident models.Identity, ref ResourceRef) error {
	if ref.CompanyID.IsNil() {
		return dErrors.New(dErrors.CodeForbidden, "resource has no company reference")
	}
	if ref.CompanyID != ident.CompanyID {
		return dErrors.New(dErrors.CodeForbidden, "resource belongs to another company")
	}
	if ref.Owned && ref.OwnerID != ident.UserID {
		if !Allowed(ident.Role, models.RoleManager, models.RoleAdmin) {
			return dErrors.New(dErrors.CodeForbidden, "resource belongs to another user")
		}
	}
	return nil
}
