package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CipherHitro/AiMind/internal/middleware"
	"github.com/CipherHitro/AiMind/internal/model/user"
	chatService "github.com/CipherHitro/AiMind/internal/service/chat"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	"github.com/CipherHitro/AiMind/internal/store"
	"github.com/CipherHitro/AiMind/pkg/utils"
)

// Handler is the HTTP surface for chats, messaging and chat locks.
type Handler struct {
	chats *chatService.Service
	locks *lock.Manager
}

// New creates the chat handler.
func New(chats *chatService.Service, locks *lock.Manager) *Handler {
	return &Handler{chats: chats, locks: locks}
}

// RegisterRoutes mounts the chat routes. The router must run the auth
// middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat", h.handleList)
	r.Post("/chat/create", h.handleCreate)
	r.Route("/chat/{chatID}", func(r chi.Router) {
		r.Get("/", h.handleOpen)
		r.Patch("/", h.handleRename)
		r.Delete("/", h.handleDelete)
		r.Post("/message", h.handleSendMessage)
		r.Post("/lock", h.handleLock)
		r.Post("/unlock", h.handleUnlock)
		r.Post("/heartbeat", h.handleHeartbeat)
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (user.User, bool) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
	}
	return u, ok
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title string `json:"title"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	c, err := h.chats.Create(r.Context(), u, payload.Title)
	if err != nil {
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	summaries, err := h.chats.List(r.Context(), u)
	if err != nil {
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"chats": summaries})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	res, err := h.chats.Open(r.Context(), chi.URLParam(r, "chatID"), u)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chat":          res.Chat,
		"lock":          res.Lock,
		"lockedByMe":    res.LockedByMe,
		"lockedByOther": res.LockedByOther,
	})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.chats.SendMessage(r.Context(), chi.URLParam(r, "chatID"), u, payload.Message)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"title":   res.Title,
		"credits": res.Balance,
		"userMessage": map[string]any{
			"role":      res.UserTurn.Role,
			"content":   res.UserTurn.Content,
			"timestamp": res.UserTurn.Timestamp,
		},
		"aiMessage": map[string]any{
			"role":      res.AssistantTurn.Role,
			"content":   res.AssistantTurn.Content,
			"timestamp": res.AssistantTurn.Timestamp,
		},
	})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	title, err := h.chats.Rename(r.Context(), chi.URLParam(r, "chatID"), u, payload.Title)
	if err != nil {
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.chats.Delete(r.Context(), chi.URLParam(r, "chatID"), u); err != nil {
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	state, err := h.locks.Acquire(r.Context(), chi.URLParam(r, "chatID"), u)
	if err != nil {
		var conflict *lock.ConflictError
		if errors.As(err, &conflict) {
			utils.RespondJSON(w, http.StatusLocked, map[string]any{
				"error": conflict.Error(),
				"lockedBy": map[string]string{
					"userId":   conflict.HolderID,
					"userName": conflict.HolderName,
				},
			})
			return
		}
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"lock": state})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.locks.Release(r.Context(), chi.URLParam(r, "chatID"), u); err != nil {
		if errors.Is(err, store.ErrNotLockHolder) {
			utils.RespondError(w, http.StatusForbidden, "you do not hold the lock on this chat")
			return
		}
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// handleHeartbeat renews the caller's lock. Always 200: a heartbeat from a
// caller that lost the lock is a silent no-op.
func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	u, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.locks.Heartbeat(r.Context(), chi.URLParam(r, "chatID"), u); err != nil {
		respondChatError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondChatError(w http.ResponseWriter, err error) {
	var insufficient *chatService.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		utils.RespondJSON(w, http.StatusForbidden, map[string]any{
			"error":    "Insufficient credits",
			"credits":  insufficient.Balance,
			"required": insufficient.Required,
		})
	case errors.Is(err, store.ErrChatNotFound):
		utils.RespondError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, chatService.ErrWrongOrganization),
		errors.Is(err, chatService.ErrNotOrganizationMember):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrEmptyTitle),
		errors.Is(err, chatService.ErrNoActiveOrganization):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
