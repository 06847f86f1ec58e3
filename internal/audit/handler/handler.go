// Package handler exposes the audit trail for admin review.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"expensio/internal/audit"
	"expensio/internal/authz"
	"expensio/pkg/platform/httputil"
)

// Lister reads audit events for one company.
type Lister interface {
	List(ctx context.Context, companyID string) ([]audit.Event, error)
}

// Handler wires the audit review endpoint to the audit publisher.
type Handler struct {
	lister Lister
	logger *slog.Logger
}

func New(lister Lister, logger *slog.Logger) *Handler {
	return &Handler{lister: lister, logger: logger}
}

// Register mounts the audit review endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit", h.HandleList)
}

type listResponse struct {
	Events []audit.Event `json:"events"`
}

// HandleList handles GET /admin/audit requests. Admins see their own
// company's trail only.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpAuditList); err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.lister.List(ctx, caller.CompanyID.String())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse{Events: events})
}
