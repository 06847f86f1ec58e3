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
	"expensio/internal/identity/models"
	"expensio/internal/identity/service"
	identitystore "expensio/internal/identity/store"
	"expensio/internal/jwttoken"
	id "expensio/pkg/domain"
	"expensio/pkg/testutil"
)

type IdentityHandlerSuite struct {
	suite.Suite
	ctx     context.Context
	router  chi.Router
	service *service.Service
	company *companymodels.Company
	admin   *models.User
}

func TestIdentityHandlerSuite(t *testing.T) {
	suite.Run(t, new(IdentityHandlerSuite))
}

func (s *IdentityHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	users := identitystore.NewInMemory()
	companies := companystore.NewInMemory()

	company, err := companymodels.NewCompany(id.NewCompanyID(), "Acme", "USD", "US", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(companies.CreateIfNameAvailable(s.ctx, company))
	s.company = company

	tokens := jwttoken.NewService("test-signing-key", "expensio-test", "expensio")
	s.service = service.New(users, companies, tokens, 15*time.Minute)

	admin, err := s.service.CreateUser(s.ctx, company.ID, models.RoleAdmin, "admin@acme.test", "Admin", "s3cret-pass")
	s.Require().NoError(err)
	s.admin = admin

	s.router = chi.NewRouter()
	h := New(s.service, slog.Default(), 15*time.Minute)
	h.RegisterPublic(s.router)
	h.Register(s.router)
}

func (s *IdentityHandlerSuite) asAdmin(req *http.Request) *http.Request {
	return testutil.WithCaller(req, s.admin.ID.String(), s.company.ID.String(), "admin")
}

func (s *IdentityHandlerSuite) TestLogin() {
	s.Run("valid credentials get a bearer token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login",
			map[string]string{"email": "admin@acme.test", "password": "s3cret-pass"})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[loginResponse](s.T(), rr)
		s.NotEmpty(resp.AccessToken)
		s.Equal("Bearer", resp.TokenType)
		s.Equal(int64(900), resp.ExpiresIn)
		s.Equal(s.admin.ID, resp.User.ID)
	})

	s.Run("wrong password is unauthenticated", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login",
			map[string]string{"email": "admin@acme.test", "password": "wrong"})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthenticated")
	})

	s.Run("unparseable body is a bad request", func() {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *IdentityHandlerSuite) TestCreateUser() {
	s.Run("admin creates a user in their own company", func() {
		req := s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/users",
			map[string]string{"email": "bob@acme.test", "name": "Bob", "password": "s3cret-pass", "role": "employee"}))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		user := testutil.UnmarshalResponse[models.User](s.T(), rr)
		s.Equal(s.company.ID, user.CompanyID)
		s.Equal(models.RoleEmployee, user.Role)
	})

	s.Run("unknown role is rejected", func() {
		req := s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/users",
			map[string]string{"email": "carol@acme.test", "name": "Carol", "password": "s3cret-pass", "role": "supervisor"}))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})

	s.Run("non-admin callers are forbidden", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/users",
			map[string]string{"email": "dave@acme.test", "name": "Dave", "password": "s3cret-pass", "role": "employee"})
		req = testutil.WithCaller(req, id.NewUserID().String(), s.company.ID.String(), "manager")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})
}

func (s *IdentityHandlerSuite) TestChangeRole() {
	target, err := s.service.CreateUser(s.ctx, s.company.ID, models.RoleEmployee, "bob@acme.test", "Bob", "s3cret-pass")
	s.Require().NoError(err)

	s.Run("admin promotes an employee", func() {
		req := s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPatch, "/admin/users/"+target.ID.String()+"/role",
			map[string]string{"role": "manager"}))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		user := testutil.UnmarshalResponse[models.User](s.T(), rr)
		s.Equal(models.RoleManager, user.Role)
	})

	s.Run("unknown target is not found", func() {
		req := s.asAdmin(testutil.NewJSONRequest(s.T(), http.MethodPatch, "/admin/users/"+id.NewUserID().String()+"/role",
			map[string]string{"role": "manager"}))
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}
