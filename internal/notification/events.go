// Package notification fans expense status changes out to interested sinks.
//
// Publishing is fire-and-forget by contract: a committed workflow transition
// is the source of truth, and no sink failure may surface as a request
// failure. The dispatcher decouples publishers from sinks with a buffered
// channel; a full buffer drops the event and counts the drop rather than
// blocking a transition.
package notification

import (
	"time"

	"expensio/internal/expense/models"
	id "expensio/pkg/domain"
)

// ExpenseStatusChanged is emitted after a committed expense state transition.
type ExpenseStatusChanged struct {
	ExpenseID id.ExpenseID  `json:"expense_id"`
	CompanyID id.CompanyID  `json:"company_id"`
	OwnerID   id.UserID     `json:"owner_id"`
	Previous  models.Status `json:"previous"`
	Current   models.Status `json:"current"`
	// ActorID is the user whose action caused the transition.
	ActorID id.UserID `json:"actor_id"`
	At      time.Time `json:"at"`
}

// Sink consumes status-change events. Implementations must tolerate at-most-
// once delivery and never assume ordering across expenses.
type Sink interface {
	OnExpenseStatusChanged(event ExpenseStatusChanged) error
	Name() string
}
