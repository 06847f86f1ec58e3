package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	companymodels "expensio/internal/company/models"
	companystore "expensio/internal/company/store"
	expensemodels "expensio/internal/expense/models"
	expensestore "expensio/internal/expense/store"
	identitymodels "expensio/internal/identity/models"
	"expensio/internal/workflow"
	id "expensio/pkg/domain"
	"expensio/pkg/testutil"
)

type WorkflowHandlerSuite struct {
	suite.Suite
	ctx       context.Context
	router    chi.Router
	expenses  *expensestore.InMemory
	companies *companystore.InMemory

	company  *companymodels.Company
	employee identitymodels.Identity
	manager  identitymodels.Identity
	admin    identitymodels.Identity
}

func TestWorkflowHandlerSuite(t *testing.T) {
	suite.Run(t, new(WorkflowHandlerSuite))
}

func (s *WorkflowHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	s.expenses = expensestore.NewInMemory()
	s.companies = companystore.NewInMemory()

	company, err := companymodels.NewCompany(id.NewCompanyID(), "Acme", "USD", "US", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.companies.CreateIfNameAvailable(s.ctx, company))
	s.company = company

	s.employee = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: company.ID, Role: identitymodels.RoleEmployee}
	s.manager = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: company.ID, Role: identitymodels.RoleManager}
	s.admin = identitymodels.Identity{UserID: id.NewUserID(), CompanyID: company.ID, Role: identitymodels.RoleAdmin}

	engine := workflow.New(s.expenses, s.companies)
	s.router = chi.NewRouter()
	New(engine, slog.Default()).Register(s.router)
}

func (s *WorkflowHandlerSuite) configureChain(tiers ...companymodels.Tier) {
	s.Require().NoError(s.companies.SaveWorkflow(s.ctx, &companymodels.WorkflowDefinition{
		CompanyID: s.company.ID,
		Tiers:     tiers,
	}))
}

func (s *WorkflowHandlerSuite) newPendingExpense(tiers int) *expensemodels.Expense {
	expense, err := expensemodels.NewExpense(
		id.NewExpenseID(), s.employee.UserID, s.company.ID,
		4200, "USD", "travel", "client visit", time.Now(), "receipt-1", time.Now(),
	)
	s.Require().NoError(err)
	s.Require().NoError(expense.EnterWorkflow(tiers, time.Now()))
	s.Require().NoError(s.expenses.Create(s.ctx, expense))
	return expense
}

func (s *WorkflowHandlerSuite) do(req *http.Request, as identitymodels.Identity) *httptest.ResponseRecorder {
	req = testutil.WithCaller(req, as.UserID.String(), as.CompanyID.String(), string(as.Role))
	return testutil.DoRequest(s.router, req)
}

func (s *WorkflowHandlerSuite) TestApprove() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})

	s.Run("empty body approves without a comment", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/approve")
		rr := s.do(req, s.manager)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		updated := testutil.UnmarshalResponse[expensemodels.Expense](s.T(), rr)
		s.Equal(expensemodels.StatusApproved, updated.Status)
	})

	s.Run("employee may not approve", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/approve")
		rr := s.do(req, s.employee)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("unauthenticated request is rejected", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/approve")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthenticated")
	})

	s.Run("malformed expense ID is rejected", func() {
		req := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/not-a-uuid/approve")
		rr := s.do(req, s.manager)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}

func (s *WorkflowHandlerSuite) TestReject() {
	s.configureChain(companymodels.Tier{Role: identitymodels.RoleManager})

	s.Run("a reject must carry a comment", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/reject")
		rr := s.do(req, s.manager)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})

	s.Run("rejects with a reason", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/reject",
			map[string]string{"comment": "missing receipt"})
		rr := s.do(req, s.manager)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		updated := testutil.UnmarshalResponse[expensemodels.Expense](s.T(), rr)
		s.Equal(expensemodels.StatusRejected, updated.Status)
	})

	s.Run("a second decision is an invalid state", func() {
		expense := s.newPendingExpense(1)
		reject := testutil.NewJSONRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/reject",
			map[string]string{"comment": "missing receipt"})
		testutil.AssertStatus(s.T(), s.do(reject, s.manager), http.StatusOK)

		approve := testutil.NewRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/approve")
		rr := s.do(approve, s.manager)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_state")
	})

	s.Run("unknown fields are rejected", func() {
		expense := s.newPendingExpense(1)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/reject",
			map[string]string{"comment": "x", "verdict": "no"})
		rr := s.do(req, s.manager)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *WorkflowHandlerSuite) TestEscalateAndHistory() {
	target := 1
	s.configureChain(
		companymodels.Tier{Role: identitymodels.RoleManager, EscalateTo: &target},
		companymodels.Tier{Role: identitymodels.RoleAdmin},
	)
	expense := s.newPendingExpense(2)

	escalate := testutil.NewJSONRequest(s.T(), http.MethodPost, "/expenses/"+expense.ID.String()+"/escalate",
		map[string]string{"comment": "above my limit"})
	rr := s.do(escalate, s.manager)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	updated := testutil.UnmarshalResponse[expensemodels.Expense](s.T(), rr)
	s.Equal(1, updated.CurrentTier)
	s.Equal(expensemodels.StatusPendingApproval, updated.Status)

	history := testutil.NewRequest(s.T(), http.MethodGet, "/expenses/"+expense.ID.String()+"/history")
	rr = s.do(history, s.admin)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	type historyBody struct {
		Decisions []expensemodels.DecisionRecord `json:"decisions"`
	}
	body := testutil.UnmarshalResponse[historyBody](s.T(), rr)
	s.Require().Len(body.Decisions, 1)
	s.Equal(expensemodels.DecisionEscalated, body.Decisions[0].Decision)
	s.Equal("above my limit", body.Decisions[0].Comment)
}
