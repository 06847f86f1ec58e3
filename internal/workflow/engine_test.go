package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	companymodels "expensio/internal/company/models"
	companystore "expensio/internal/company/store"
	"expensio/internal/expense/models"
	expensestore "expensio/internal/expense/store"
	identitymodels "expensio/internal/identity/models"
	"expensio/internal/notification"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/requestcontext"
)

// recordingNotifier captures published events so tests can assert on them.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.ExpenseStatusChanged
}

func (n *recordingNotifier) Publish(event notification.ExpenseStatusChanged) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []notification.ExpenseStatusChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.ExpenseStatusChanged(nil), n.events...)
}

type EngineSuite struct {
	suite.Suite
	ctx       context.Context
	expenses  *expensestore.InMemory
	companies *companystore.InMemory
	notifier  *recordingNotifier
	engine    *Engine

	companyID      id.CompanyID
	otherCompanyID id.CompanyID
	employee       identitymodels.Identity
	manager        identitymodels.Identity
	admin          identitymodels.Identity
	outsider       identitymodels.Identity
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.expenses = expensestore.NewInMemory()
	s.companies = companystore.NewInMemory()
	s.notifier = &recordingNotifier{}
	s.engine = New(s.expenses, s.companies, WithNotifier(s.notifier))

	s.companyID = id.NewCompanyID()
	s.otherCompanyID = id.NewCompanyID()
	now := time.Now()
	s.Require().NoError(s.companies.CreateIfNameAvailable(s.ctx, &companymodels.Company{
		ID: s.companyID, Name: "Acme", DefaultCurrency: "USD", Country: "US",
		CreatedAt: now, UpdatedAt: now,
	}))
	s.Require().NoError(s.companies.CreateIfNameAvailable(s.ctx, &companymodels.Company{
		ID: s.otherCompanyID, Name: "Globex", DefaultCurrency: "EUR", Country: "DE",
		CreatedAt: now, UpdatedAt: now,
	}))

	s.employee = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: s.companyID, Role: identitymodels.RoleEmployee}
	s.manager = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: s.companyID, Role: identitymodels.RoleManager}
	s.admin = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: s.companyID, Role: identitymodels.RoleAdmin}
	s.outsider = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: s.otherCompanyID, Role: identitymodels.RoleAdmin}
}

func (s *EngineSuite) configureChain(tiers ...companymodels.Tier) {
	s.Require().NoError(s.companies.SaveWorkflow(s.ctx, &companymodels.WorkflowDefinition{
		CompanyID: s.companyID,
		Tiers:     tiers,
		UpdatedAt: time.Now(),
	}))
}

// newPendingExpense creates an expense already handed to the approval chain.
func (s *EngineSuite) newPendingExpense(tiers int) *models.Expense {
	now := time.Now()
	expense, err := models.NewExpense(id.NewExpenseID(), s.employee.UserID, s.companyID,
		4200, "USD", "travel", "client visit", now.Add(-24*time.Hour), "", now)
	s.Require().NoError(err)
	s.Require().NoError(expense.EnterWorkflow(tiers, now))
	s.Require().NoError(s.expenses.Create(s.ctx, expense))
	return expense
}

func intPtr(i int) *int { return &i }

func (s *EngineSuite) TestTwoTierApprovalChain() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	s.Run("manager approval advances one tier and stays pending", func() {
		updated, err := s.engine.ApproveStep(s.ctx, s.manager, expense.ID, "looks fine")
		s.Require().NoError(err)
		s.Equal(models.StatusPendingApproval, updated.Status)
		s.Equal(1, updated.CurrentTier)
		s.Require().Len(updated.Decisions, 1)
		s.Equal(models.DecisionApproved, updated.Decisions[0].Decision)
		s.Equal(0, updated.Decisions[0].TierIndex)
		s.Equal(identitymodels.RoleManager, updated.Decisions[0].RequiredRole)
		s.Equal(s.manager.UserID, updated.Decisions[0].ApproverID)
	})

	s.Run("final admin approval finishes at approved", func() {
		updated, err := s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "")
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, updated.Status)
		s.Require().Len(updated.Decisions, 2)
		s.Equal(1, updated.Decisions[1].TierIndex)
		s.Equal(s.admin.UserID, updated.Decisions[1].ApproverID)
	})

	s.Run("further transitions fail with invalid state", func() {
		_, err := s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *EngineSuite) TestWrongRoleIsForbiddenAndPersistsNothing() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	_, err := s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	stored, err := s.expenses.FindByID(s.ctx, expense.ID)
	s.Require().NoError(err)
	s.Empty(stored.Decisions)
	s.Equal(0, stored.CurrentTier)
	s.Equal(models.StatusPendingApproval, stored.Status)
}

func (s *EngineSuite) TestEmployeeCannotDecide() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})
	expense := s.newPendingExpense(1)

	_, err := s.engine.ApproveStep(s.ctx, s.employee, expense.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.engine.Escalate(s.ctx, s.employee, expense.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *EngineSuite) TestRejectionIsTerminal() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	updated, err := s.engine.RejectStep(s.ctx, s.manager, expense.ID, "missing receipt")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, updated.Status)
	s.Require().Len(updated.Decisions, 1)
	s.Equal(models.DecisionRejected, updated.Decisions[0].Decision)
	s.Equal("missing receipt", updated.Decisions[0].Comment)

	s.Run("approval after rejection fails with invalid state", func() {
		_, err := s.engine.ApproveStep(s.ctx, s.manager, expense.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		stored, err := s.expenses.FindByID(s.ctx, expense.ID)
		s.Require().NoError(err)
		s.Len(stored.Decisions, 1)
	})
}

func (s *EngineSuite) TestEscalationJumpsToConfiguredTarget() {
	// Tier 0 escalates straight to tier 2, skipping tier 1. The target is a
	// configured jump, not current+1.
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager, EscalateTo: intPtr(2)},
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(3)

	updated, err := s.engine.Escalate(s.ctx, s.manager, expense.ID, "above my limit")
	s.Require().NoError(err)
	s.Equal(2, updated.CurrentTier)
	s.Equal(models.StatusPendingApproval, updated.Status)
	s.Require().Len(updated.Decisions, 1)
	s.Equal(models.DecisionEscalated, updated.Decisions[0].Decision)
	s.Equal(0, updated.Decisions[0].TierIndex)

	s.Run("admin decides at the jump target", func() {
		final, err := s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "")
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, final.Status)
		s.Len(final.Decisions, 2)
	})
}

func (s *EngineSuite) TestEscalationDefaultsToFinalTier() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(3)

	updated, err := s.engine.Escalate(s.ctx, s.manager, expense.ID, "")
	s.Require().NoError(err)
	s.Equal(2, updated.CurrentTier)
	s.Equal(models.StatusPendingApproval, updated.Status)
}

func (s *EngineSuite) TestEscalationFromFinalTierIsRejected() {
	// A single-tier chain has nowhere higher to go. Without the guard the
	// default target resolves to the tier itself and escalation loops in
	// place, appending a decision per call.
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})
	expense := s.newPendingExpense(1)

	for i := 0; i < 3; i++ {
		_, err := s.engine.Escalate(s.ctx, s.manager, expense.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	}

	stored, err := s.expenses.FindByID(s.ctx, expense.ID)
	s.Require().NoError(err)
	s.Equal(0, stored.CurrentTier)
	s.Equal(models.StatusPendingApproval, stored.Status)
	s.Empty(stored.Decisions, "rejected escalations must not append decisions")

	s.Run("the final tier of a longer chain is equally terminal", func() {
		s.configureChain(
			companymodels.Tier{Role: identitymodels.RoleManager},
			companymodels.Tier{Role: identitymodels.RoleAdmin},
		)
		expense := s.newPendingExpense(2)

		_, err := s.engine.Escalate(s.ctx, s.manager, expense.ID, "")
		s.Require().NoError(err)

		_, err = s.engine.Escalate(s.ctx, s.admin, expense.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *EngineSuite) TestShrunkChainSurfacesConflict() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	_, err := s.engine.ApproveStep(s.ctx, s.manager, expense.ID, "")
	s.Require().NoError(err)

	// Admin settings trim the chain to one tier while the expense sits at
	// tier 1. The next decision must read as a conflict, not a server fault.
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})

	_, err = s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := s.expenses.FindByID(s.ctx, expense.ID)
	s.Require().NoError(err)
	s.Equal(1, stored.CurrentTier)
	s.Len(stored.Decisions, 1)
}

func (s *EngineSuite) TestCrossTenantApproverSeesNotFound() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})
	expense := s.newPendingExpense(1)

	_, err := s.engine.ApproveStep(s.ctx, s.outsider, expense.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "outsiders must not learn the expense exists")

	stored, err := s.expenses.FindByID(s.ctx, expense.ID)
	s.Require().NoError(err)
	s.Empty(stored.Decisions)
}

func (s *EngineSuite) TestUnknownExpense() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})

	_, err := s.engine.ApproveStep(s.ctx, s.manager, id.NewExpenseID(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestConcurrentApprovalsExactlyOneWins() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})
	expense := s.newPendingExpense(1)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.ApproveStep(s.ctx, s.manager, expense.ID, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejected int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeInvalidState), dErrors.HasCode(err, dErrors.CodeConflict):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, successes, "exactly one approval should win")
	s.Equal(attempts-1, rejected)

	stored, err := s.expenses.FindByID(s.ctx, expense.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, stored.Status)
	s.Len(stored.Decisions, 1, "the losing attempts must not append decisions")
}

func (s *EngineSuite) TestGetHistory() {
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	_, err := s.engine.ApproveStep(s.ctx, s.manager, expense.ID, "first")
	s.Require().NoError(err)
	_, err = s.engine.ApproveStep(s.ctx, s.admin, expense.ID, "second")
	s.Require().NoError(err)

	s.Run("owner reads the ordered decision sequence", func() {
		history, err := s.engine.GetHistory(s.ctx, s.employee, expense.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal("first", history[0].Comment)
		s.Equal("second", history[1].Comment)
		s.Equal(0, history[0].TierIndex)
		s.Equal(1, history[1].TierIndex)
	})

	s.Run("outsider reads not found", func() {
		_, err := s.engine.GetHistory(s.ctx, s.outsider, expense.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *EngineSuite) TestNotificationsCarryTheCommittedTransition() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})
	expense := s.newPendingExpense(1)

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, at)

	_, err := s.engine.ApproveStep(ctx, s.manager, expense.ID, "")
	s.Require().NoError(err)

	events := s.notifier.Events()
	s.Require().Len(events, 1)
	s.Equal(expense.ID, events[0].ExpenseID)
	s.Equal(models.StatusPendingApproval, events[0].Previous)
	s.Equal(models.StatusApproved, events[0].Current)
	s.Equal(s.manager.UserID, events[0].ActorID)
	s.Equal(at, events[0].At)
}
