package models

import (
	"time"

	identitymodels "expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
)

// Tier is one stage in a company's approval chain.
type Tier struct {
	// Role that must approve at this tier.
	Role identitymodels.Role `json:"role"`
	// EscalateTo is the index of the designated higher-authority tier an
	// escalation jumps to. Escalation is a jump, not a step: the target is
	// configuration, never computed as current+1. Nil means "jump to the
	// final tier".
	EscalateTo *int `json:"escalate_to,omitempty"`
}

// WorkflowDefinition is the per-company approval chain configuration. The
// workflow engine only reads it; mutation happens through admin settings.
//
// A definition with zero tiers is legal and means expenses auto-approve at
// submission with an empty decision log.
type WorkflowDefinition struct {
	CompanyID id.CompanyID `json:"company_id"`
	// MinAmount, in minor units, is the threshold at which the chain engages.
	// Expenses below it auto-approve at submission. The zero value applies
	// the chain to every expense.
	MinAmount int64     `json:"min_amount"`
	Tiers     []Tier    `json:"tiers"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants of a definition before it is stored.
func (d *WorkflowDefinition) Validate() error {
	for i, tier := range d.Tiers {
		if _, err := identitymodels.ParseRole(string(tier.Role)); err != nil {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "tier %d: invalid role", i)
		}
		if tier.EscalateTo != nil {
			target := *tier.EscalateTo
			if target < 0 || target >= len(d.Tiers) {
				return dErrors.Newf(dErrors.CodeInvariantViolation, "tier %d: escalation target %d out of range", i, target)
			}
			if target <= i {
				return dErrors.Newf(dErrors.CodeInvariantViolation, "tier %d: escalation target must be a later tier", i)
			}
		}
	}
	if d.MinAmount < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "min amount cannot be negative")
	}
	return nil
}

// EscalationTarget resolves the tier an escalation from tierIndex jumps to.
func (d *WorkflowDefinition) EscalationTarget(tierIndex int) int {
	if tierIndex < 0 || tierIndex >= len(d.Tiers) {
		return len(d.Tiers) - 1
	}
	if t := d.Tiers[tierIndex].EscalateTo; t != nil {
		return *t
	}
	return len(d.Tiers) - 1
}
