// Package handler exposes company bootstrap and workflow configuration over
// HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"expensio/internal/authz"
	"expensio/internal/company/models"
	identitymodels "expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/httputil"
	"expensio/pkg/requestcontext"
)

// Service defines the company operations the handler delegates to.
type Service interface {
	CreateCompany(ctx context.Context, name, defaultCurrency, country string) (*models.Company, error)
	GetCompany(ctx context.Context, companyID id.CompanyID) (*models.Company, error)
	ConfigureWorkflow(ctx context.Context, companyID id.CompanyID, minAmount int64, tiers []models.Tier) (*models.WorkflowDefinition, error)
	GetWorkflow(ctx context.Context, companyID id.CompanyID) (*models.WorkflowDefinition, error)
}

// UserCreator provisions the initial admin during company bootstrap.
type UserCreator interface {
	CreateUser(ctx context.Context, companyID id.CompanyID, role identitymodels.Role, email, name, password string) (*identitymodels.User, error)
}

// TxBoundary runs a unit of work atomically. Bootstrap creates the company
// and its first admin as a pair; neither row may land without the other.
type TxBoundary interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Handler wires company endpoints to the company service.
type Handler struct {
	service Service
	users   UserCreator
	tx      TxBoundary
	logger  *slog.Logger
}

// New constructs a company handler with its dependencies.
func New(service Service, users UserCreator, boundary TxBoundary, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		users:   users,
		tx:      boundary,
		logger:  logger,
	}
}

// RegisterPublic mounts the bootstrap endpoint. Creating a company is the
// entry point of the system: there is no pre-existing admin to authenticate.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/admin/companies", h.HandleCreateCompany)
}

// Register mounts the authenticated company endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/companies/{companyID}", h.HandleGetCompany)
	r.Get("/companies/{companyID}/workflow", h.HandleGetWorkflow)
	r.Put("/companies/{companyID}/workflow", h.HandlePutWorkflow)
}

type createCompanyRequest struct {
	Name            string `json:"name"`
	DefaultCurrency string `json:"default_currency"`
	Country         string `json:"country"`
	AdminEmail      string `json:"admin_email"`
	AdminName       string `json:"admin_name"`
	AdminPassword   string `json:"admin_password"`
}

type createCompanyResponse struct {
	Company *models.Company      `json:"company"`
	Admin   *identitymodels.User `json:"admin"`
}

// HandleCreateCompany handles POST /admin/companies requests. The company and
// its first admin are provisioned together.
func (h *Handler) HandleCreateCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[createCompanyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var company *models.Company
	var admin *identitymodels.User
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		company, err = h.service.CreateCompany(ctx, req.Name, req.DefaultCurrency, req.Country)
		if err != nil {
			return err
		}
		admin, err = h.users.CreateUser(ctx, company.ID, identitymodels.RoleAdmin, req.AdminEmail, req.AdminName, req.AdminPassword)
		return err
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "company bootstrap failed",
			"request_id", requestID,
			"name", req.Name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "company bootstrapped",
		"request_id", requestID,
		"company_id", company.ID,
		"admin_id", admin.ID,
	)

	httputil.WriteJSON(w, http.StatusCreated, createCompanyResponse{Company: company, Admin: admin})
}

// HandleGetCompany handles GET /companies/{companyID} requests.
func (h *Handler) HandleGetCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, companyID, err := h.scopedCompany(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpCompanyRead); err != nil {
		httputil.WriteError(w, err)
		return
	}

	company, err := h.service.GetCompany(ctx, companyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, company)
}

// HandleGetWorkflow handles GET /companies/{companyID}/workflow requests.
func (h *Handler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, companyID, err := h.scopedCompany(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpWorkflowRead); err != nil {
		httputil.WriteError(w, err)
		return
	}

	def, err := h.service.GetWorkflow(ctx, companyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, def)
}

type tierRequest struct {
	Role       string `json:"role"`
	EscalateTo *int   `json:"escalate_to,omitempty"`
}

type putWorkflowRequest struct {
	MinAmount int64         `json:"min_amount"`
	Tiers     []tierRequest `json:"tiers"`
}

// HandlePutWorkflow handles PUT /companies/{companyID}/workflow requests.
func (h *Handler) HandlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, companyID, err := h.scopedCompany(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpWorkflowWrite); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[putWorkflowRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	tiers := make([]models.Tier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		role, err := identitymodels.ParseRole(t.Role)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "unknown tier role %q", t.Role))
			return
		}
		tiers = append(tiers, models.Tier{Role: role, EscalateTo: t.EscalateTo})
	}

	def, err := h.service.ConfigureWorkflow(ctx, companyID, req.MinAmount, tiers)
	if err != nil {
		h.logger.WarnContext(ctx, "workflow configuration failed",
			"request_id", requestID,
			"company_id", companyID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "workflow configured",
		"request_id", requestID,
		"company_id", companyID,
		"tiers", len(def.Tiers),
	)

	httputil.WriteJSON(w, http.StatusOK, def)
}

// scopedCompany parses the path company ID and verifies it is the caller's
// own company. Foreign companies read as not_found so tenant existence never
// leaks.
func (h *Handler) scopedCompany(r *http.Request) (identitymodels.Identity, id.CompanyID, error) {
	caller, err := authz.Caller(r.Context())
	if err != nil {
		return identitymodels.Identity{}, id.CompanyID{}, err
	}

	companyID, err := id.ParseCompanyID(chi.URLParam(r, "companyID"))
	if err != nil {
		return identitymodels.Identity{}, id.CompanyID{}, err
	}

	if err := authz.ScopeCheck(caller, authz.ResourceRef{CompanyID: companyID}); err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			return identitymodels.Identity{}, id.CompanyID{}, dErrors.New(dErrors.CodeNotFound, "company not found")
		}
		return identitymodels.Identity{}, id.CompanyID{}, err
	}

	return caller, companyID, nil
}
