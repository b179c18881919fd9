package balances

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/shared"
)

type balanceService interface {
	ReceiptTotals(ctx context.Context, receiptID, userID string) (Summary, error)
	GroupTotals(ctx context.Context, groupID, userID string) (Summary, error)
	ReceiptOverview(ctx context.Context, receiptID, userID string) (Overview, error)
}

// Handler exposes balance endpoints.
type Handler struct {
	logger  *slog.Logger
	service balanceService
}

// NewHandler builds a balance handler.
func NewHandler(logger *slog.Logger, service balanceService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/groups/{groupID}/balances", h.group)
	r.Get("/receipts/{receiptID}/balances", h.receipt)
	r.Get("/receipts/{receiptID}/overview", h.overview)
}

func (h *Handler) group(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	summary, err := h.service.GroupTotals(r.Context(), chi.URLParam(r, "groupID"), userID)
	if err != nil {
		h.fail(w, r, "group balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	summary, err := h.service.ReceiptTotals(r.Context(), chi.URLParam(r, "receiptID"), userID)
	if err != nil {
		h.fail(w, r, "receipt balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	out, err := h.service.ReceiptOverview(r.Context(), chi.URLParam(r, "receiptID"), userID)
	if err != nil {
		h.fail(w, r, "receipt overview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
