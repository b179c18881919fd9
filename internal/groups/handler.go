package groups

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/shared"
)

type groupService interface {
	CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error)
	AddMember(ctx context.Context, in AddMemberInput) (Member, error)
	ListMembers(ctx context.Context, groupID, userID string) ([]Member, error)
	ListGroups(ctx context.Context, userID string) ([]Summary, error)
	GetGroup(ctx context.Context, groupID, userID string) (Group, error)
}

// Handler exposes group endpoints.
type Handler struct {
	logger    *slog.Logger
	service   groupService
	validator *validator.Validate
}

// NewHandler builds a group handler.
func NewHandler(logger *slog.Logger, service groupService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/groups", h.list)
	r.Post("/groups", h.create)
	r.Get("/groups/{groupID}", h.get)
	r.Get("/groups/{groupID}/members", h.members)
	r.Post("/groups/{groupID}/members", h.addMember)
}

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

type addMemberRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Role   Role   `json:"role" validate:"omitempty,oneof=admin member"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListGroups(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "list groups", err)
		return
	}
	if list == nil {
		list = []Summary{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": list})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req createGroupRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.CreateGroup(r.Context(), CreateGroupInput{Name: req.Name, Description: req.Description, OwnerID: userID})
	if err != nil {
		h.fail(w, r, "create group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	g, err := h.service.GetGroup(r.Context(), chi.URLParam(r, "groupID"), userID)
	if err != nil {
		h.fail(w, r, "get group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, g)
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	list, err := h.service.ListMembers(r.Context(), chi.URLParam(r, "groupID"), userID)
	if err != nil {
		h.fail(w, r, "list members", err)
		return
	}
	if list == nil {
		list = []Member{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": list})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	var req addMemberRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.AddMember(r.Context(), AddMemberInput{
		GroupID: chi.URLParam(r, "groupID"),
		ActorID: userID,
		UserID:  req.UserID,
		Role:    req.Role,
	})
	if err != nil {
		h.fail(w, r, "add member", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
