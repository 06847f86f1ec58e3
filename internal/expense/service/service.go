package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"expensio/internal/audit"
	"expensio/internal/authz"
	companymodels "expensio/internal/company/models"
	expensemetrics "expensio/internal/expense/metrics"
	"expensio/internal/expense/models"
	identitymodels "expensio/internal/identity/models"
	"expensio/internal/notification"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/sentinel"
	"expensio/pkg/requestcontext"
)

// Store is the persistence boundary for expenses.
type Store interface {
	Create(ctx context.Context, expense *models.Expense) error
	FindByID(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, error)
	Save(ctx context.Context, expense *models.Expense, expectedVersion int64) error
	Execute(ctx context.Context, expenseID id.ExpenseID, validate func(*models.Expense) error, mutate func(*models.Expense)) (*models.Expense, error)
	Delete(ctx context.Context, expenseID id.ExpenseID) error
	ListByCompany(ctx context.Context, companyID id.CompanyID) ([]models.Expense, error)
	ListByOwner(ctx context.Context, ownerID id.UserID) ([]models.Expense, error)
}

// WorkflowReader loads the company's approval chain at submission.
type WorkflowReader interface {
	FindWorkflow(ctx context.Context, companyID id.CompanyID) (*companymodels.WorkflowDefinition, error)
}

// CurrencyChecker validates currency codes at submission.
type CurrencyChecker interface {
	Supported(code string) bool
}

// Notifier receives committed status changes. Fire-and-forget.
type Notifier interface {
	Publish(event notification.ExpenseStatusChanged)
}

// AuditPublisher records expense lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// SubmitInput is the validated payload for a new expense.
type SubmitInput struct {
	Amount      int64
	Currency    string
	Category    string
	Description string
	Date        time.Time
	ReceiptRef  string
}

// EditInput carries owner-editable fields.
type EditInput struct {
	Amount      int64
	Currency    string
	Category    string
	Description string
	Date        time.Time
	ReceiptRef  string
}

// Service drives the expense lifecycle outside the approval chain: submit,
// edit, delete, read, list. Approval transitions live in the workflow engine.
type Service struct {
	expenses  Store
	workflows WorkflowReader
	currency  CurrencyChecker

	// dateTolerance bounds how far in the future an expense date may lie.
	dateTolerance time.Duration

	logger         *slog.Logger
	notifier       Notifier
	auditPublisher AuditPublisher
	metrics        *expensemetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *expensemetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(expenses Store, workflows WorkflowReader, currency CurrencyChecker, dateTolerance time.Duration, opts ...Option) *Service {
	s := &Service{
		expenses:      expenses,
		workflows:     workflows,
		currency:      currency,
		dateTolerance: dateTolerance,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates an expense for the caller and hands it to the approval
// chain. A company with zero configured tiers auto-approves at submission,
// as does an expense below the chain's minimum amount; both are deliberate,
// documented behavior with an empty decision log.
func (s *Service) Submit(ctx context.Context, ident identitymodels.Identity, input SubmitInput) (*models.Expense, error) {
	now := requestcontext.Now(ctx)

	if input.Amount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if !s.currency.Supported(input.Currency) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", input.Currency)
	}
	if input.Date.After(now.Add(s.dateTolerance)) {
		return nil, dErrors.New(dErrors.CodeValidation, "expense date is too far in the future")
	}

	expense, err := models.NewExpense(id.NewExpenseID(), ident.UserID, ident.CompanyID,
		input.Amount, input.Currency, input.Category, input.Description, input.Date,
		input.ReceiptRef, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	def, err := s.workflows.FindWorkflow(ctx, ident.CompanyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load workflow definition")
	}

	// The chain only applies at or above its configured threshold. Below it
	// the expense auto-approves exactly like a zero-tier chain.
	tiers := len(def.Tiers)
	if expense.Amount < def.MinAmount {
		tiers = 0
	}

	previous := expense.Status
	if err := expense.EnterWorkflow(tiers, now); err != nil {
		return nil, err
	}

	if err := s.expenses.Create(ctx, expense); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create expense")
	}

	s.emitAudit(ctx, audit.ActionExpenseSubmitted, expense,
		"amount", expense.Amount, "currency", expense.Currency)
	if s.metrics != nil {
		s.metrics.Submitted.Inc()
		if expense.Status == models.StatusApproved {
			s.metrics.AutoApproved.Inc()
		}
	}
	s.notifyChange(expense, previous, ident.UserID, now)
	return expense, nil
}

// Get loads an expense visible to the caller. Cross-tenant lookups read as
// absent so existence never leaks.
func (s *Service) Get(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) (*models.Expense, error) {
	expense, err := s.load(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.scope(ident, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

// List returns the caller's visible expenses: their own for employees, the
// whole company for managers and admins.
func (s *Service) List(ctx context.Context, ident identitymodels.Identity) ([]models.Expense, error) {
	if authz.Allowed(ident.Role, identitymodels.RoleManager, identitymodels.RoleAdmin) {
		expenses, err := s.expenses.ListByCompany(ctx, ident.CompanyID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expenses")
		}
		return expenses, nil
	}
	expenses, err := s.expenses.ListByOwner(ctx, ident.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expenses")
	}
	return expenses, nil
}

// Edit updates owner-editable fields while the expense is still submitted.
// Only the owner edits; a manager reaching someone else's expense goes
// through the approval operations instead.
func (s *Service) Edit(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID, input EditInput) (*models.Expense, error) {
	now := requestcontext.Now(ctx)

	if input.Amount <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if !s.currency.Supported(input.Currency) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", input.Currency)
	}
	if input.Date.After(now.Add(s.dateTolerance)) {
		return nil, dErrors.New(dErrors.CodeValidation, "expense date is too far in the future")
	}

	expense, err := s.expenses.Execute(ctx, expenseID,
		func(e *models.Expense) error {
			if err := authz.ScopeCheck(ident, authz.ResourceRef{CompanyID: e.CompanyID, OwnerID: e.OwnerID, Owned: true}); err != nil {
				return s.maskForbidden(ident, e, err)
			}
			if e.OwnerID != ident.UserID {
				return dErrors.New(dErrors.CodeForbidden, "only the owner may edit an expense")
			}
			return e.CanEdit()
		},
		func(e *models.Expense) {
			e.Amount = input.Amount
			e.Currency = input.Currency
			e.Category = input.Category
			e.Description = input.Description
			e.Date = input.Date
			e.ReceiptRef = input.ReceiptRef
			e.UpdatedAt = now
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "expense not found")
		}
		return nil, err
	}

	s.emitAudit(ctx, audit.ActionExpenseEdited, expense)
	return expense, nil
}

// Delete removes an expense that is still editable.
func (s *Service) Delete(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) error {
	expense, err := s.load(ctx, expenseID)
	if err != nil {
		return err
	}
	if err := s.scope(ident, expense); err != nil {
		return err
	}
	if expense.OwnerID != ident.UserID {
		return dErrors.New(dErrors.CodeForbidden, "only the owner may delete an expense")
	}
	if err := expense.CanEdit(); err != nil {
		return err
	}

	if err := s.expenses.Delete(ctx, expenseID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "expense not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete expense")
	}

	s.emitAudit(ctx, audit.ActionExpenseDeleted, expense)
	if s.metrics != nil {
		s.metrics.Deleted.Inc()
	}
	return nil
}

func (s *Service) load(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, error) {
	expense, err := s.expenses.FindByID(ctx, expenseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "expense not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load expense")
	}
	return expense, nil
}

// scope applies the guard, collapsing cross-tenant hits into not_found.
func (s *Service) scope(ident identitymodels.Identity, expense *models.Expense) error {
	err := authz.ScopeCheck(ident, authz.ResourceRef{
		CompanyID: expense.CompanyID,
		OwnerID:   expense.OwnerID,
		Owned:     true,
	})
	if err != nil {
		return s.maskForbidden(ident, expense, err)
	}
	return nil
}

// maskForbidden converts cross-company forbidden into not_found: a caller
// outside the tenant must not learn the expense exists. Same-company
// forbidden (an employee reading a peer's expense) stays forbidden.
func (s *Service) maskForbidden(ident identitymodels.Identity, expense *models.Expense, err error) error {
	if expense.CompanyID != ident.CompanyID {
		return dErrors.New(dErrors.CodeNotFound, "expense not found")
	}
	return err
}

func (s *Service) notifyChange(expense *models.Expense, previous models.Status, actor id.UserID, at time.Time) {
	if s.notifier == nil || expense.Status == previous {
		return
	}
	s.notifier.Publish(notification.ExpenseStatusChanged{
		ExpenseID: expense.ID,
		CompanyID: expense.CompanyID,
		OwnerID:   expense.OwnerID,
		Previous:  previous,
		Current:   expense.Status,
		ActorID:   actor,
		At:        at,
	})
}

func (s *Service) emitAudit(ctx context.Context, action string, expense *models.Expense, attributes ...any) {
	args := append(attributes,
		"event", action, "log_type", "audit",
		"expense_id", expense.ID.String(), "company_id", expense.CompanyID.String(),
	)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, action, args...)

	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:    action,
		CompanyID: expense.CompanyID.String(),
		Subject:   expense.ID.String(),
		Details:   audit.Details(attributes),
	})
}
