package receipts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/shared"
)

type receiptService interface {
	Create(ctx context.Context, in ReceiptInput) (Draft, error)
	ParseCandidate(ctx context.Context, raw []byte, groupID, userID string) (Draft, error)
	CreateFromCandidate(ctx context.Context, raw []byte, groupID, userID string) (Draft, error)
	Extract(ctx context.Context, image []byte, mimeType, groupID, userID string) (Draft, error)
	Get(ctx context.Context, id, userID string) (Receipt, error)
	ListByGroup(ctx context.Context, groupID, userID string) ([]Receipt, error)
}

// ScanRequest asks a background worker to extract and store a receipt.
type ScanRequest struct {
	GroupID    string `json:"group_id"`
	UploadedBy string `json:"uploaded_by"`
	MimeType   string `json:"mime_type"`
	Image      []byte `json:"image"`
}

// ScanQueue enqueues background extraction.
type ScanQueue interface {
	EnqueueScan(ctx context.Context, req ScanRequest) (string, error)
}

// KeyClaimer deduplicates client retries carrying an Idempotency-Key header.
type KeyClaimer interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// HandlerConfig tunes upload handling.
type HandlerConfig struct {
	MaxImageBytes int64
	// ExtractPerMinute limits extraction requests per user.
	ExtractPerMinute int
}

// Handler serves the receipt JSON API.
type Handler struct {
	logger    *slog.Logger
	service   receiptService
	guard     MembershipGuard
	queue     ScanQueue
	keys      KeyClaimer
	validator *validator.Validate
	cfg       HandlerConfig
}

// NewHandler constructs a receipt handler. queue may be nil, which disables
// background scans.
func NewHandler(logger *slog.Logger, service receiptService, guard MembershipGuard, queue ScanQueue, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 4 << 20
	}
	if cfg.ExtractPerMinute <= 0 {
		cfg.ExtractPerMinute = 10
	}
	return &Handler{logger: logger, service: service, guard: guard, queue: queue, validator: httpx.NewValidator(), cfg: cfg}
}

// WithIdempotency enables Idempotency-Key handling on receipt creation and
// scan submission.
func (h *Handler) WithIdempotency(k KeyClaimer) *Handler {
	h.keys = k
	return h
}

// claim reserves the request's Idempotency-Key. The returned release must be
// called when the request fails so the client may retry.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, userID string) (release func(), ok bool) {
	key := r.Header.Get("Idempotency-Key")
	if h.keys == nil || key == "" {
		return func() {}, true
	}
	scope := "receipts:" + userID
	if err := h.keys.Claim(r.Context(), scope, key); err != nil {
		h.fail(w, r, "claim idempotency key", err)
		return nil, false
	}
	return func() {
		if err := h.keys.Release(context.WithoutCancel(r.Context()), scope, key); err != nil {
			h.logger.WarnContext(r.Context(), "release idempotency key", slog.Any("error", err))
		}
	}, true
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/groups/{groupID}/receipts", h.list)
	r.Post("/groups/{groupID}/receipts", h.create)
	r.Get("/receipts/{receiptID}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(h.cfg.ExtractPerMinute, time.Minute, httprate.WithKeyFuncs(keyByUser)))
		r.Post("/groups/{groupID}/receipts/parse", h.parse)
		r.Post("/groups/{groupID}/receipts/scan", h.scan)
		r.Post("/groups/{groupID}/receipts/candidate", h.candidate)
	})
}

func keyByUser(r *http.Request) (string, error) {
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		return "user:" + id, nil
	}
	return httprate.KeyByIP(r)
}

type itemRequest struct {
	Name      string      `json:"name" validate:"max=200"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Money `json:"unit_price"`
	Category  string      `json:"category" validate:"max=64"`
}

type createReceiptRequest struct {
	Title       string        `json:"title" validate:"max=200"`
	TotalAmount money.Money   `json:"total_amount"`
	Currency    string        `json:"currency" validate:"omitempty,len=3"`
	Date        string        `json:"date" validate:"max=32"`
	Items       []itemRequest `json:"items" validate:"max=500,dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req createReceiptRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ReceiptInput{
		Title:       req.Title,
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		Date:        req.Date,
		GroupID:     chi.URLParam(r, "groupID"),
		UploadedBy:  userID,
		Items:       make([]ItemInput, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Category: it.Category})
	}
	release, ok := h.claim(w, r, userID)
	if !ok {
		return
	}
	draft, err := h.service.Create(r.Context(), in)
	if err != nil {
		release()
		h.fail(w, r, "create receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draft)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListByGroup(r.Context(), chi.URLParam(r, "groupID"), userID)
	if err != nil {
		h.fail(w, r, "list receipts", err)
		return
	}
	if list == nil {
		list = []Receipt{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	receipt, err := h.service.Get(r.Context(), chi.URLParam(r, "receiptID"), userID)
	if err != nil {
		h.fail(w, r, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

// parse extracts a draft from an uploaded image without storing it.
func (h *Handler) parse(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	image, mime, err := httpx.ReadImage(w, r, "image", h.cfg.MaxImageBytes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	draft, err := h.service.Extract(r.Context(), image, mime, chi.URLParam(r, "groupID"), userID)
	if err != nil {
		h.fail(w, r, "parse receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

// candidate validates a candidate payload supplied by the client. With
// ?save=true the validated receipt is also stored.
func (h *Handler) candidate(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	groupID := chi.URLParam(r, "groupID")
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httpx.RespondError(w, httpx.ErrBodyTooLarge)
		return
	}
	if r.URL.Query().Get("save") != "true" {
		draft, err := h.service.ParseCandidate(r.Context(), raw, groupID, userID)
		if err != nil {
			h.fail(w, r, "validate candidate", err)
			return
		}
		httpx.JSON(w, http.StatusOK, draft)
		return
	}

	release, ok := h.claim(w, r, userID)
	if !ok {
		return
	}
	draft, err := h.service.CreateFromCandidate(r.Context(), raw, groupID, userID)
	if err != nil {
		release()
		h.fail(w, r, "store candidate", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draft)
}

// scan queues an uploaded image for background extraction.
func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background extraction is not configured")
		return
	}
	userID, _ := shared.UserIDFromContext(r.Context())
	groupID := chi.URLParam(r, "groupID")
	if err := h.guard.RequireMember(r.Context(), groupID, userID); err != nil {
		h.fail(w, r, "scan receipt", err)
		return
	}
	image, mime, err := httpx.ReadImage(w, r, "image", h.cfg.MaxImageBytes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	release, ok := h.claim(w, r, userID)
	if !ok {
		return
	}
	taskID, err := h.queue.EnqueueScan(r.Context(), ScanRequest{GroupID: groupID, UploadedBy: userID, MimeType: mime, Image: image})
	if err != nil {
		release()
		h.fail(w, r, "enqueue scan", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "queued"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
