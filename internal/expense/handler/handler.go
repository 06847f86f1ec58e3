// Package handler exposes the expense lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"expensio/internal/authz"
	"expensio/internal/expense/models"
	"expensio/internal/expense/service"
	identitymodels "expensio/internal/identity/models"
	id "expensio/pkg/domain"
	dErrors "expensio/pkg/domain-errors"
	"expensio/pkg/platform/httputil"
	"expensio/pkg/requestcontext"
)

// Service defines the expense lifecycle operations the handler delegates to.
type Service interface {
	Submit(ctx context.Context, ident identitymodels.Identity, input service.SubmitInput) (*models.Expense, error)
	Get(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) (*models.Expense, error)
	List(ctx context.Context, ident identitymodels.Identity) ([]models.Expense, error)
	Edit(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID, input service.EditInput) (*models.Expense, error)
	Delete(ctx context.Context, ident identitymodels.Identity, expenseID id.ExpenseID) error
}

// Converter normalizes listed amounts into a single display currency.
type Converter interface {
	Convert(ctx context.Context, amount int64, from, to string) (int64, error)
	Supported(code string) bool
}

// Handler wires expense endpoints to the expense service.
type Handler struct {
	service   Service
	converter Converter
	logger    *slog.Logger
}

// New constructs an expense handler with its dependencies.
func New(service Service, converter Converter, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		converter: converter,
		logger:    logger,
	}
}

// Register mounts expense lifecycle endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/expenses", h.HandleSubmit)
	r.Get("/expenses", h.HandleList)
	r.Get("/expenses/{expenseID}", h.HandleGet)
	r.Put("/expenses/{expenseID}", h.HandleEdit)
	r.Delete("/expenses/{expenseID}", h.HandleDelete)
}

type expenseRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
	ReceiptRef  string `json:"receipt_ref,omitempty"`
}

func (r expenseRequest) parsedDate() (time.Time, error) {
	date, err := time.Parse(time.RFC3339, r.Date)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeValidation, "invalid date %q, want RFC 3339", r.Date)
	}
	return date, nil
}

// HandleSubmit handles POST /expenses requests.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseSubmit); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[expenseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	date, err := req.parsedDate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	expense, err := h.service.Submit(ctx, caller, service.SubmitInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
		Date:        date,
		ReceiptRef:  req.ReceiptRef,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "expense submission failed",
			"request_id", requestID,
			"user_id", caller.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "expense submitted",
		"request_id", requestID,
		"expense_id", expense.ID,
		"user_id", caller.UserID,
		"status", expense.Status,
	)

	httputil.WriteJSON(w, http.StatusCreated, expense)
}

// HandleGet handles GET /expenses/{expenseID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseRead); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	expense, err := h.service.Get(ctx, caller, expenseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, expense)
}

type listResponse struct {
	Expenses []models.Expense `json:"expenses"`
	// NormalizedTotal is present only when the caller asked for totals in a
	// single display currency via ?normalize=XXX.
	NormalizedTotal    *int64 `json:"normalized_total,omitempty"`
	NormalizedCurrency string `json:"normalized_currency,omitempty"`
}

// HandleList handles GET /expenses requests. With ?normalize=EUR the
// response carries the sum of all listed amounts converted to that currency;
// stored amounts are never changed.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseList); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenses, err := h.service.List(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := listResponse{Expenses: expenses}
	if target := strings.TrimSpace(r.URL.Query().Get("normalize")); target != "" {
		total, err := h.normalizedTotal(ctx, expenses, target)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp.NormalizedTotal = &total
		resp.NormalizedCurrency = strings.ToUpper(target)
	}

	h.logger.DebugContext(ctx, "expenses listed",
		"request_id", requestID,
		"user_id", caller.UserID,
		"count", len(expenses),
	)

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleEdit handles PUT /expenses/{expenseID} requests.
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseEdit); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[expenseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	date, err := req.parsedDate()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	expense, err := h.service.Edit(ctx, caller, expenseID, service.EditInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
		Date:        date,
		ReceiptRef:  req.ReceiptRef,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "expense edit failed",
			"request_id", requestID,
			"expense_id", expenseID,
			"user_id", caller.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, expense)
}

// HandleDelete handles DELETE /expenses/{expenseID} requests.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := authz.Caller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := authz.Require(caller, authz.OpExpenseDelete); err != nil {
		httputil.WriteError(w, err)
		return
	}

	expenseID, err := id.ParseExpenseID(chi.URLParam(r, "expenseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Delete(ctx, caller, expenseID); err != nil {
		h.logger.WarnContext(ctx, "expense deletion failed",
			"request_id", requestID,
			"expense_id", expenseID,
			"user_id", caller.UserID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) normalizedTotal(ctx context.Context, expenses []models.Expense, target string) (int64, error) {
	if !h.converter.Supported(target) {
		return 0, dErrors.Newf(dErrors.CodeValidation, "unsupported currency %q", target)
	}

	var total int64
	for i := range expenses {
		converted, err := h.converter.Convert(ctx, expenses[i].Amount, expenses[i].Currency, target)
		if err != nil {
			return 0, err
		}
		total += converted
	}
	return total, nil
}
