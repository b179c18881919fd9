package allocation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/shared"
)

type allocationService interface {
	ReplaceExpenses(ctx context.Context, receiptID, userID string, drafts []Draft) ([]Expense, error)
	EqualSplit(ctx context.Context, receiptID, userID string, amount money.Money, memberIDs []string) ([]Share, error)
	CheckDrafts(ctx context.Context, receiptID, userID string, drafts []Draft) ([]DraftCheck, error)
	DraftExpenses(ctx context.Context, receiptID, userID string) ([]Draft, error)
	ListExpenses(ctx context.Context, receiptID, userID string) ([]Expense, error)
}

// Handler exposes expense split endpoints.
type Handler struct {
	logger    *slog.Logger
	service   allocationService
	validator *validator.Validate
}

// NewHandler builds an allocation handler.
func NewHandler(logger *slog.Logger, service allocationService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receipts/{receiptID}/expenses", h.list)
	r.Put("/receipts/{receiptID}/expenses", h.replace)
	r.Get("/receipts/{receiptID}/expenses/draft", h.draft)
	r.Post("/receipts/{receiptID}/expenses/equal-split", h.equalSplit)
	r.Post("/receipts/{receiptID}/expenses/validate", h.validate)
}

type shareRequest struct {
	UserID string      `json:"user_id" validate:"required,max=128"`
	Amount money.Money `json:"amount"`
}

type draftRequest struct {
	Name   string         `json:"name" validate:"max=200"`
	Amount money.Money    `json:"amount"`
	Shares []shareRequest `json:"shares" validate:"max=200,dive"`
}

type replaceRequest struct {
	Expenses []draftRequest `json:"expenses" validate:"max=500,dive"`
}

type equalSplitRequest struct {
	Amount  money.Money `json:"amount"`
	Members []string    `json:"members" validate:"max=200,dive,required"`
}

func (r replaceRequest) drafts() []Draft {
	out := make([]Draft, 0, len(r.Expenses))
	for _, e := range r.Expenses {
		shares := make([]Share, 0, len(e.Shares))
		for _, s := range e.Shares {
			shares = append(shares, Share{UserID: s.UserID, Amount: s.Amount})
		}
		out = append(out, Draft{Name: e.Name, Amount: e.Amount, Shares: shares})
	}
	return out
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.ValidateStruct(h.validator, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListExpenses(r.Context(), chi.URLParam(r, "receiptID"), userID)
	if err != nil {
		h.fail(w, r, "list expenses", err)
		return
	}
	if list == nil {
		list = []Expense{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": list})
}

// replace swaps the whole expense set of a receipt. Nothing is written unless
// every expense is valid.
func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req replaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	list, err := h.service.ReplaceExpenses(r.Context(), chi.URLParam(r, "receiptID"), userID, req.drafts())
	if err != nil {
		h.fail(w, r, "replace expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": list})
}

func (h *Handler) draft(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	drafts, err := h.service.DraftExpenses(r.Context(), chi.URLParam(r, "receiptID"), userID)
	if err != nil {
		h.fail(w, r, "draft expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": drafts})
}

func (h *Handler) equalSplit(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req equalSplitRequest
	if !h.decode(w, r, &req) {
		return
	}
	shares, err := h.service.EqualSplit(r.Context(), chi.URLParam(r, "receiptID"), userID, req.Amount, req.Members)
	if err != nil {
		h.fail(w, r, "equal split", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shares": shares})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req replaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	checks, err := h.service.CheckDrafts(r.Context(), chi.URLParam(r, "receiptID"), userID, req.drafts())
	if err != nil {
		h.fail(w, r, "validate expenses", err)
		return
	}
	valid := true
	for _, c := range checks {
		valid = valid && c.Valid
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"valid": valid, "expenses": checks})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
