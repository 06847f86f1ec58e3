package models

import (
	"strings"
	"time"

	identitymodels "expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
)

// Status is the lifecycle state of an expense.
type Status string

const (
	// StatusSubmitted: created, still editable by the owner.
	StatusSubmitted Status = "submitted"
	// StatusPendingApproval: handed to the workflow; edit and delete are
	// forbidden from here on.
	StatusPendingApproval Status = "pending_approval"
	// StatusApproved: terminal.
	StatusApproved Status = "approved"
	// StatusRejected: terminal.
	StatusRejected Status = "rejected"
	// StatusEscalated marks a decision record, and an expense whose most
	// recent movement was a jump; such an expense re-enters pending_approval
	// at the escalation target tier.
	StatusEscalated Status = "escalated"
)

// Decision is the outcome recorded at one tier.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionEscalated Decision = "escalated"
)

// DecisionRecord is one entry in an expense's approval history. The sequence
// is append-only once the expense leaves submitted.
type DecisionRecord struct {
	TierIndex    int                 `json:"tier_index"`
	RequiredRole identitymodels.Role `json:"required_role"`
	ApproverID   id.UserID           `json:"approver_id"`
	Decision     Decision            `json:"decision"`
	Comment      string              `json:"comment,omitempty"`
	DecidedAt    time.Time           `json:"decided_at"`
}

// Expense is an employee-submitted expense. CompanyID is denormalized from
// the owner so the scoping guard never needs a join.
type Expense struct {
	ID          id.ExpenseID     `json:"id"`
	OwnerID     id.UserID        `json:"owner_id"`
	CompanyID   id.CompanyID     `json:"company_id"`
	Amount      int64            `json:"amount"` // minor units
	Currency    string           `json:"currency"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
	Date        time.Time        `json:"date"`
	ReceiptRef  string           `json:"receipt_ref,omitempty"`
	Status      Status           `json:"status"`
	CurrentTier int              `json:"current_tier"`
	Decisions   []DecisionRecord `json:"decisions"`
	// Version guards read-modify-write cycles: saves carry the version they
	// read, and the store rejects stale writers.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExpense constructs a submitted expense, validating invariants. Currency
// support and date tolerance are checked at the service, which owns the
// supported-currency table and the configured tolerance.
func NewExpense(expenseID id.ExpenseID, ownerID id.UserID, companyID id.CompanyID, amount int64, currency, category, description string, date time.Time, receiptRef string, now time.Time) (*Expense, error) {
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amount must be positive")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "currency must be a 3-letter code")
	}
	if companyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expense must belong to a company")
	}
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expense must have an owner")
	}
	return &Expense{
		ID:          expenseID,
		OwnerID:     ownerID,
		CompanyID:   companyID,
		Amount:      amount,
		Currency:    currency,
		Category:    strings.TrimSpace(category),
		Description: strings.TrimSpace(description),
		Date:        date,
		ReceiptRef:  receiptRef,
		Status:      StatusSubmitted,
		CurrentTier: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Editable reports whether the owner may still edit or delete the expense.
func (e *Expense) Editable() bool {
	return e.Status == StatusSubmitted
}

// Terminal reports whether no further transitions are accepted.
func (e *Expense) Terminal() bool {
	return e.Status == StatusApproved || e.Status == StatusRejected
}

// CanEdit validates the edit/delete precondition.
func (e *Expense) CanEdit() error {
	if !e.Editable() {
		return dErrors.Newf(dErrors.CodeInvalidState, "expense is %s and no longer editable", e.Status)
	}
	return nil
}

// EnterWorkflow hands a submitted expense to the approval chain.
// totalTiers == 0 auto-approves: a company with no configured chain accepts
// every expense at submission, with an empty decision log.
func (e *Expense) EnterWorkflow(totalTiers int, now time.Time) error {
	if e.Status != StatusSubmitted {
		return dErrors.Newf(dErrors.CodeInvalidState, "expense is %s, not submitted", e.Status)
	}
	if totalTiers == 0 {
		e.Status = StatusApproved
	} else {
		e.Status = StatusPendingApproval
		e.CurrentTier = 0
	}
	e.UpdatedAt = now
	return nil
}

// CanTransition validates the shared precondition of all workflow moves.
func (e *Expense) CanTransition() error {
	if e.Status != StatusPendingApproval {
		return dErrors.Newf(dErrors.CodeInvalidState, "expense is %s, not pending approval", e.Status)
	}
	return nil
}

// ApplyApproval records an approved decision at the current tier and either
// advances one tier or, on the last tier, finishes at approved. Exactly one
// of the two happens, and the decision log grows by exactly one entry.
func (e *Expense) ApplyApproval(record DecisionRecord, totalTiers int, now time.Time) {
	e.Decisions = append(e.Decisions, record)
	if e.CurrentTier >= totalTiers-1 {
		e.Status = StatusApproved
	} else {
		e.CurrentTier++
	}
	e.UpdatedAt = now
}

// ApplyRejection records a rejected decision and moves to the terminal
// rejected state regardless of tier.
func (e *Expense) ApplyRejection(record DecisionRecord, now time.Time) {
	e.Decisions = append(e.Decisions, record)
	e.Status = StatusRejected
	e.UpdatedAt = now
}

// ApplyEscalation records an escalated decision and jumps CurrentTier to the
// designated target. This is a distinct edge from ordinary advancement: the
// target comes from configuration and is never computed as tier+1 here.
func (e *Expense) ApplyEscalation(record DecisionRecord, targetTier int, now time.Time) {
	e.Decisions = append(e.Decisions, record)
	e.CurrentTier = targetTier
	e.Status = StatusPendingApproval
	e.UpdatedAt = now
}
