package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CipherHitro/AiMind/internal/hub"
	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/middleware"
	"github.com/CipherHitro/AiMind/internal/model/user"
	notificationService "github.com/CipherHitro/AiMind/internal/service/notification"
	"github.com/CipherHitro/AiMind/pkg/utils"
)

// Handler upgrades authenticated requests to websocket connections and parks
// them in the hub.
type Handler struct {
	hub           *hub.Hub
	auth          *middleware.Authenticator
	notifications *notificationService.Service
	upgrader      websocket.Upgrader
}

// New creates the websocket handler. allowedOrigins mirrors the CORS config.
func New(h *hub.Hub, auth *middleware.Authenticator, notifications *notificationService.Service, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Handler{
		hub:           h,
		auth:          auth,
		notifications: notifications,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeHTTP handles GET /api/ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.UserFromRequest(r)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	firstConnection := h.hub.ConnectionCount(u.ID) == 0

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.L().Debug().Err(err).Str("user_id", u.ID).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), u, h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	if firstConnection {
		go h.maybeSendWelcome(u)
	}
}

// maybeSendWelcome greets users connecting for the first time: those with an
// empty notification feed.
func (h *Handler) maybeSendWelcome(u user.User) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	existing, err := h.notifications.List(ctx, u, 1)
	if err != nil {
		logging.L().Warn().Err(err).Str("user_id", u.ID).Msg("welcome check failed")
		return
	}
	if len(existing) > 0 {
		return
	}
	if _, err := h.notifications.SendWelcome(ctx, u.ID); err != nil {
		logging.L().Warn().Err(err).Str("user_id", u.ID).Msg("welcome notification failed")
	}
}
