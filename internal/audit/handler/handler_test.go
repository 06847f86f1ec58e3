package handler

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"expensio/internal/audit"
	id "expensio/pkg/domain"
	"expensio/pkg/testutil"
)

type AuditHandlerSuite struct {
	suite.Suite
	ctx       context.Context
	router    chi.Router
	publisher *audit.Publisher
	companyID id.CompanyID
}

func TestAuditHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuditHandlerSuite))
}

func (s *AuditHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	s.publisher = audit.NewPublisher(audit.NewInMemoryStore())
	s.companyID = id.NewCompanyID()

	s.router = chi.NewRouter()
	New(s.publisher, slog.Default()).Register(s.router)
}

func (s *AuditHandlerSuite) TestList() {
	s.Require().NoError(s.publisher.Emit(s.ctx, audit.Event{
		Action:    audit.ActionExpenseSubmitted,
		CompanyID: s.companyID.String(),
		Subject:   id.NewExpenseID().String(),
	}))
	s.Require().NoError(s.publisher.Emit(s.ctx, audit.Event{
		Action:    audit.ActionExpenseSubmitted,
		CompanyID: id.NewCompanyID().String(),
	}))

	s.Run("admin sees their own company's trail", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		req = testutil.WithCaller(req, id.NewUserID().String(), s.companyID.String(), "admin")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Require().Len(resp.Events, 1)
		s.Equal(audit.ActionExpenseSubmitted, resp.Events[0].Action)
	})

	s.Run("non-admins are forbidden", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		req = testutil.WithCaller(req, id.NewUserID().String(), s.companyID.String(), "manager")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("anonymous callers are rejected", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthenticated")
	})
}
