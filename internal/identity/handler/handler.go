// Package handler exposes authentication and user administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"expensio/internal/authz"
	"expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/httputil"
	"expensio/pkg/requestcontext"
)

// Service defines the identity operations the handler delegates to.
type Service interface {
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	CreateUser(ctx context.Context, companyID id.CompanyID, role models.Role, email, name, password string) (*models.User, error)
	ChangeRole(ctx context.Context, actor models.Identity, userID id.UserID, role models.Role) (*models.User, error)
}

// Handler wires identity endpoints to the identity service.
type Handler struct {
	service   Service
	logger    *slog.Logger
	accessTTL time.Duration
}

// New constructs an identity handler with its dependencies.
func New(service Service, logger *slog.Logger, accessTTL time.Duration) *Handler {
	return &Handler{
		service:   service,
		logger:    logger,
		accessTTL: accessTTL,
	}
}

// RegisterPublic mounts the endpoints reachable without a bearer token.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

// Register mounts the authenticated administration endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/users", h.HandleCreateUser)
	r.Patch("/admin/users/{userID}/role", h.HandleChangeRole)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

// HandleLogin handles POST /auth/login requests.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	token, user, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"request_id", requestID,
			"email", req.Email,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "login succeeded",
		"request_id", requestID,
		"user_id", user.ID,
		"company_id", user.CompanyID,
	)

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.accessTTL.Seconds()),
		User:        user,
	})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// HandleCreateUser handles POST /admin/users requests. New users always join
// the caller's company.
func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpUserCreate); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[createUserRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "unknown role %q", req.Role))
		return
	}

	user, err := h.service.CreateUser(ctx, caller.CompanyID, role, req.Email, req.Name, req.Password)
	if err != nil {
		h.logger.ErrorContext(ctx, "user creation failed",
			"request_id", requestID,
			"company_id", caller.CompanyID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "user created",
		"request_id", requestID,
		"user_id", user.ID,
		"company_id", user.CompanyID,
		"role", user.Role,
	)

	httputil.WriteJSON(w, http.StatusCreated, user)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// HandleChangeRole handles PATCH /admin/users/{userID}/role requests.
func (h *Handler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpUserChangeRole); err != nil {
		httputil.WriteError(w, err)
		return
	}

	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[changeRoleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "unknown role %q", req.Role))
		return
	}

	user, err := h.service.ChangeRole(ctx, caller, userID, role)
	if err != nil {
		h.logger.WarnContext(ctx, "role change failed",
			"request_id", requestID,
			"target_user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "role changed",
		"request_id", requestID,
		"user_id", user.ID,
		"role", user.Role,
	)

	httputil.WriteJSON(w, http.StatusOK, user)
}
