// Package workflow drives an expense through its company's configured
// approval chain, one tier at a time, recording every decision.
//
// Ordinary advancement and escalation are different edges in the state graph:
// approval moves to the next tier (or finishes), escalation jumps to the
// tier's configured higher-authority target. Both the engine and the model
// keep the two apart.
//
// Transitions are atomic per expense. The store's Execute method holds a lock
// (mutex or SELECT ... FOR UPDATE) across validation and mutation, so of two
// simultaneous attempts on the same expense exactly one succeeds; the other
// re-validates against the winner's state and fails with invalid_state, or
// surfaces a version conflict. Nothing is persisted when a precondition
// fails, and nothing is retried automatically.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"expensio/internal/audit"
	"expensio/internal/authz"
	companymodels "expensio/internal/company/models"
	"expensio/internal/expense/models"
	identitymodels "expensio/internal/identity/models"
	"expensio/internal/notification"
	workflowmetrics "expensio/internal/workflow/metrics"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/sentinel"
	"expensio/pkg/requestcontext"
)

// ExpenseStore is the subset of expense persistence the engine needs.
type ExpenseStore interface {
	FindByID(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, error)
	Execute(ctx context.Context, expenseID id.ExpenseID, validate func(*models.Expense) error, mutate func(*models.Expense)) (*models.Expense, error)
}

// WorkflowReader loads the company's approval chain. The engine never writes
// definitions; they change only through admin settings.
type WorkflowReader interface {
	FindWorkflow(ctx context.Context, companyID id.CompanyID) (*companymodels.WorkflowDefinition, error)
}

// Notifier receives committed status changes. Fire-and-forget: a sink
// failure never rolls back or fails the transition.
type Notifier interface {
	Publish(event notification.ExpenseStatusChanged)
}

// AuditPublisher records every decision in the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Engine is the approval workflow state machine.
type Engine struct {
	expenses  ExpenseStore
	workflows WorkflowReader

	logger         *slog.Logger
	notifier       Notifier
	auditPublisher AuditPublisher
	metrics        *workflowmetrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Engine) { e.auditPublisher = publisher }
}

func WithMetrics(m *workflowmetrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(expenses ExpenseStore, workflows WorkflowReader, opts ...Option) *Engine {
	e := &Engine{
		expenses:  expenses,
		workflows: workflows,
		logger:    slog.Default(),
		tracer:    otel.Tracer("expensio/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApproveStep records an approval at the expense's current tier. On the last
// tier the expense becomes approved (terminal); otherwise it advances exactly
// one tier and stays pending.
func (e *Engine) ApproveStep(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error) {
	return e.transition(ctx, "ApproveStep", approver, expenseID,
		func(expense *models.Expense, def *companymodels.WorkflowDefinition) error {
			return e.authorizeTier(approver, expense, def)
		},
		func(expense *models.Expense, def *companymodels.WorkflowDefinition, now time.Time) {
			record := models.DecisionRecord{
				TierIndex:    expense.CurrentTier,
				RequiredRole: def.Tiers[expense.CurrentTier].Role,
				ApproverID:   approver.UserID,
				Decision:     models.DecisionApproved,
				Comment:      comment,
				DecidedAt:    now,
			}
			expense.ApplyApproval(record, len(def.Tiers), now)
		},
	)
}

// RejectStep records a rejection at the current tier and finishes the
// expense at rejected, regardless of how many tiers remain.
func (e *Engine) RejectStep(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error) {
	return e.transition(ctx, "RejectStep", approver, expenseID,
		func(expense *models.Expense, def *companymodels.WorkflowDefinition) error {
			return e.authorizeTier(approver, expense, def)
		},
		func(expense *models.Expense, def *companymodels.WorkflowDefinition, now time.Time) {
			record := models.DecisionRecord{
				TierIndex:    expense.CurrentTier,
				RequiredRole: def.Tiers[expense.CurrentTier].Role,
				ApproverID:   approver.UserID,
				Decision:     models.DecisionRejected,
				Comment:      comment,
				DecidedAt:    now,
			}
			expense.ApplyRejection(record, now)
		},
	)
}

// Escalate jumps the expense to the current tier's designated escalation
// target. Only managers and admins may escalate, and the jump target comes
// from the company's configuration, never from tier arithmetic.
func (e *Engine) Escalate(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error) {
	return e.transition(ctx, "Escalate", approver, expenseID,
		func(expense *models.Expense, def *companymodels.WorkflowDefinition) error {
			if !authz.Allowed(approver.Role, identitymodels.RoleManager, identitymodels.RoleAdmin) {
				return dErrors.New(dErrors.CodeForbidden, "only managers and admins may escalate")
			}
			if err := e.authorizeTier(approver, expense, def); err != nil {
				return err
			}
			// The final tier has no higher authority to hand off to; its
			// occupants approve or reject.
			if expense.CurrentTier >= len(def.Tiers)-1 {
				return dErrors.New(dErrors.CodeInvalidState, "no higher tier to escalate to")
			}
			return nil
		},
		func(expense *models.Expense, def *companymodels.WorkflowDefinition, now time.Time) {
			record := models.DecisionRecord{
				TierIndex:    expense.CurrentTier,
				RequiredRole: def.Tiers[expense.CurrentTier].Role,
				ApproverID:   approver.UserID,
				Decision:     models.DecisionEscalated,
				Comment:      comment,
				DecidedAt:    now,
			}
			expense.ApplyEscalation(record, def.EscalationTarget(expense.CurrentTier), now)
		},
	)
}

// GetHistory returns the full ordered decision sequence. Read-only; only the
// scoping guard applies.
func (e *Engine) GetHistory(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) ([]models.DecisionRecord, error) {
	expense, err := e.expenses.FindByID(ctx, expenseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "expense not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load expense")
	}
	if err := e.scope(ident, expense); err != nil {
		return nil, err
	}
	return expense.Decisions, nil
}

// authorizeTier checks the shared transition preconditions: same company,
// expense pending, approver's role matches the tier's required role.
//
// Nothing here stops the same individual from deciding two consecutive tiers
// when both tiers name a role they hold, nor a submitter who holds an
// approving role from deciding their own expense. Both are recorded in the
// decision log with the approver's identity.
func (e *Engine) authorizeTier(approver identitymodels.Identity, expense *models.Expense, def *companymodels.WorkflowDefinition) error {
	if expense.CompanyID != approver.CompanyID {
		// Outsiders learn nothing, not even that the expense exists.
		return dErrors.New(dErrors.CodeNotFound, "expense not found")
	}
	if err := expense.CanTransition(); err != nil {
		return err
	}
	if expense.CurrentTier >= len(def.Tiers) {
		// The chain was reconfigured shorter while this expense was mid-flight.
		// Surface it as a conflict so the caller knows to re-read, not retry.
		return dErrors.New(dErrors.CodeConflict, "approval chain no longer covers this expense's tier")
	}
	required := def.Tiers[expense.CurrentTier].Role
	if approver.Role != required {
		return dErrors.Newf(dErrors.CodeForbidden, "tier %d requires role %s", expense.CurrentTier, required)
	}
	return nil
}

// transition runs one atomic workflow move: load the definition, then
// validate and mutate the expense inside the store's per-expense lock.
func (e *Engine) transition(
	ctx context.Context,
	name string,
	approver identitymodels.Identity,
	expenseID id.ExpenseID,
	validate func(*models.Expense, *companymodels.WorkflowDefinition) error,
	mutate func(*models.Expense, *companymodels.WorkflowDefinition, time.Time),
) (*models.Expense, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow."+name, trace.WithAttributes(
		attribute.String("expense.id", expenseID.String()),
		attribute.String("approver.role", string(approver.Role)),
	))
	defer span.End()
	if e.metrics != nil {
		defer e.metrics.ObserveTransition(start)
	}

	// The definition is read outside the expense lock: the engine never
	// writes it, and admin edits mid-flight apply to the next transition.
	def, err := e.workflows.FindWorkflow(ctx, approver.CompanyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load workflow definition")
	}

	now := requestcontext.Now(ctx)
	var previous models.Status
	var decision models.DecisionRecord

	expense, err := e.expenses.Execute(ctx, expenseID,
		func(exp *models.Expense) error {
			previous = exp.Status
			return validate(exp, def)
		},
		func(exp *models.Expense) {
			mutate(exp, def, now)
			decision = exp.Decisions[len(exp.Decisions)-1]
		},
	)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "expense not found")
		case errors.Is(err, sentinel.ErrConflict):
			if e.metrics != nil {
				e.metrics.Conflicts.Inc()
			}
			return nil, dErrors.New(dErrors.CodeConflict, "expense was modified concurrently")
		default:
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(string(decision.Decision)).Inc()
	}
	e.emitDecision(ctx, expense, decision)
	e.notifyChange(expense, previous, approver.UserID, now)
	return expense, nil
}

func (e *Engine) scope(ident identitymodels.Identity, expense *models.Expense) error {
	err := authz.ScopeCheck(ident, authz.ResourceRef{
		CompanyID: expense.CompanyID,
		OwnerID:   expense.OwnerID,
		Owned:     true,
	})
	if err != nil {
		if expense.CompanyID != ident.CompanyID {
			return dErrors.New(dErrors.CodeNotFound, "expense not found")
		}
		return err
	}
	return nil
}

func (e *Engine) notifyChange(expense *models.Expense, previous models.Status, actor id.UserID, at time.Time) {
	if e.notifier == nil || expense.Status == previous {
		return
	}
	e.notifier.Publish(notification.ExpenseStatusChanged{
		ExpenseID: expense.ID,
		CompanyID: expense.CompanyID,
		OwnerID:   expense.OwnerID,
		Previous:  previous,
		Current:   expense.Status,
		ActorID:   actor,
		At:        at,
	})
}

func (e *Engine) emitDecision(ctx context.Context, expense *models.Expense, decision models.DecisionRecord) {
	attributes := []any{
		"expense_id", expense.ID.String(),
		"company_id", expense.CompanyID.String(),
		"tier", decision.TierIndex,
		"decision", string(decision.Decision),
		"approver_id", decision.ApproverID.String(),
		"status", string(expense.Status),
	}
	args := append(attributes, "event", audit.ActionDecisionRecorded, "log_type", "audit")
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	e.logger.InfoContext(ctx, audit.ActionDecisionRecorded, args...)

	if e.auditPublisher == nil {
		return
	}
	_ = e.auditPublisher.Emit(ctx, audit.Event{
		Action:    audit.ActionDecisionRecorded,
		CompanyID: expense.CompanyID.String(),
		ActorID:   decision.ApproverID.String(),
		Subject:   expense.ID.String(),
		Details:   audit.Details(attributes),
	})
}
