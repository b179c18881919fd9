package jobs

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/internal/platform/httpx"
)

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves queue depth for the scan and default queues.
type Handler struct {
	inspector queueInspector
	logger    *slog.Logger
}

// NewHandler reports empty queues when inspector is nil.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger}
	// Keep the interface nil rather than holding a typed nil pointer.
	if inspector != nil {
		h.inspector = inspector
	}
	return h
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Retry   int    `json:"retry"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	var out []queueHealth
	for _, name := range []string{QueueScans, QueueDefault} {
		qh, err := h.queue(name)
		if err != nil {
			h.logger.WarnContext(r.Context(), "inspect queue", slog.String("queue", name), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue inspection failed")
			return
		}
		out = append(out, qh)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": out})
}

// queue treats a queue that has never received a task as empty.
func (h *Handler) queue(name string) (queueHealth, error) {
	qh := queueHealth{Queue: name}
	if h.inspector == nil {
		return qh, nil
	}
	info, err := h.inspector.GetQueueInfo(name)
	switch {
	case errors.Is(err, asynq.ErrQueueNotFound):
		return qh, nil
	case err != nil:
		return qh, err
	}
	qh.Pending, qh.Active, qh.Retry = info.Pending, info.Active, info.Retry
	return qh, nil
}
