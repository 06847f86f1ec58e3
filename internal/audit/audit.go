// Package audit records an append-only trail of workflow decisions and admin
// actions, scoped per company for admin review.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Actions recorded in the audit trail.
const (
	ActionUserCreated        = "user.created"
	ActionUserRoleChanged    = "user.role_changed"
	ActionCompanyCreated     = "company.created"
	ActionWorkflowConfigured = "company.workflow_configured"
	ActionExpenseSubmitted   = "expense.submitted"
	ActionExpenseEdited      = "expense.edited"
	ActionExpenseDeleted     = "expense.deleted"
	ActionDecisionRecorded   = "expense.decision_recorded"
)

// Event is emitted from domain logic to capture key actions. It stays
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	CompanyID string            `json:"company_id"`
	ActorID   string            `json:"actor_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Details flattens a slog-style alternating key/value list into a string map
// for storage.
func Details(attributes []any) map[string]string {
	if len(attributes) < 2 {
		return nil
	}
	out := make(map[string]string, len(attributes)/2)
	for i := 0; i+1 < len(attributes); i += 2 {
		key, ok := attributes[i].(string)
		if !ok {
			continue
		}
		out[key] = fmt.Sprintf("%v", attributes[i+1])
	}
	return out
}

// Store is the persistence boundary for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCompany(ctx context.Context, companyID string) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, companyID string) ([]Event, error) {
	return p.store.ListByCompany(ctx, companyID)
}
