package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CipherHitro/AiMind/internal/middleware"
	"github.com/CipherHitro/AiMind/internal/model/user"
	notificationService "github.com/CipherHitro/AiMind/internal/service/notification"
	"github.com/CipherHitro/AiMind/internal/store"
	"github.com/CipherHitro/AiMind/pkg/utils"
)

const defaultListLimit = 50

// Handler is the HTTP surface for notifications.
type Handler struct {
	notifications *notificationService.Service
}

// New creates the notification handler.
func New(svc *notificationService.Service) *Handler {
	return &Handler{notifications: svc}
}

// RegisterRoutes mounts the notification routes. The router must run the auth
// middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notification", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/unread-count", h.handleUnreadCount)
		r.Patch("/read-all", h.handleMarkAllRead)
		r.Patch("/{notificationID}/read", h.handleMarkRead)
		r.Delete("/{notificationID}", h.handleDelete)
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (user.User, bool) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
	}
	return u, ok
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.notifications.List(r.Context(), u, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in notificationService.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Personal notifications without an explicit target go to the sender.
	if in.UserID == "" && in.OrganizationID == "" && in.Type != "global" {
		in.UserID = u.ID
	}

	n, err := h.notifications.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, notificationService.ErrMissingFields) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	count, err := h.notifications.UnreadCount(r.Context(), u)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"unreadCount": count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	n, err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "notificationID"), u)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, n)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	modified, err := h.notifications.MarkAllRead(r.Context(), u)
	if err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"modified": modified})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.notifications.Delete(r.Context(), chi.URLParam(r, "notificationID"), u); err != nil {
		respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotificationNotFound) {
		utils.RespondError(w, http.StatusNotFound, "notification not found")
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, "internal server error")
}
