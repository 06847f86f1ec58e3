// Package handler exposes approval workflow transitions over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"expensio/internal/authz"
	"expensio/internal/expense/models"
	identitymodels "expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/httputil"
	"expensio/pkg/requestcontext"
)

// Engine defines the workflow transitions the handler delegates to.
type Engine interface {
	ApproveStep(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error)
	RejectStep(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error)
	Escalate(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error)
	GetHistory(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) ([]models.DecisionRecord, error)
}

// Handler wires workflow endpoints to the workflow engine.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// New constructs a workflow handler with its dependencies.
func New(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Register mounts workflow transition endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/expenses/{expenseID}/approve", h.HandleApprove)
	r.Post("/expenses/{expenseID}/reject", h.HandleReject)
	r.Post("/expenses/{expenseID}/escalate", h.HandleEscalate)
	r.Get("/expenses/{expenseID}/history", h.HandleHistory)
}

type decisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

type transitionFunc func(ctx context.Context, approver identitymodels.Identity, expenseID id.ExpenseID, comment string) (*models.Expense, error)

// HandleApprove handles POST /expenses/{expenseID}/approve requests.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, authz.OpExpenseApprove, "approve", h.engine.ApproveStep, false)
}

// HandleReject handles POST /expenses/{expenseID}/reject requests. A reject
// must say why.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, authz.OpExpenseReject, "reject", h.engine.RejectStep, true)
}

// HandleEscalate handles POST /expenses/{expenseID}/escalate requests.
func (h *Handler) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, authz.OpExpenseEscalate, "escalate", h.engine.Escalate, false)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op authz.Operation, name string, fn transitionFunc, commentRequired bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, op); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// An empty body is a decision without a comment.
	var req decisionRequest
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}
	if commentRequired && req.Comment == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "a comment is required"))
		return
	}

	expense, err := fn(ctx, caller, expenseID, req.Comment)
	if err != nil {
		h.logger.WarnContext(ctx, "workflow transition failed",
			"request_id", requestID,
			"expense_id", expenseID,
			"approver_id", caller.UserID,
			"transition", name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "workflow transition applied",
		"request_id", requestID,
		"expense_id", expense.ID,
		"approver_id", caller.UserID,
		"transition", name,
		"status", expense.Status,
		"current_tier", expense.CurrentTier,
	)

	httputil.WriteJSON(w, http.StatusOK, expense)
}

type historyResponse struct {
	Decisions []models.DecisionRecord `json:"decisions"`
}

// HandleHistory handles GET /expenses/{expenseID}/history requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseHistory); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decisions, err := h.engine.GetHistory(ctx, caller, expenseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, historyResponse{Decisions: decisions})
}
