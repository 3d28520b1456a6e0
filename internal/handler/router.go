package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/CipherHitro/AiMind/internal/config"
	chatHandler "github.com/CipherHitro/AiMind/internal/handler/chat"
	notificationHandler "github.com/CipherHitro/AiMind/internal/handler/notification"
	wsHandler "github.com/CipherHitro/AiMind/internal/handler/ws"
	"github.com/CipherHitro/AiMind/internal/hub"
	"github.com/CipherHitro/AiMind/internal/middleware"
	chatService "github.com/CipherHitro/AiMind/internal/service/chat"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	notificationService "github.com/CipherHitro/AiMind/internal/service/notification"
	"github.com/CipherHitro/AiMind/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg config.Config, auth *middleware.Authenticator, realtimeHub *hub.Hub,
	chats *chatService.Service, locks *lock.Manager, notifications *notificationService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// The websocket upgrade authenticates inside the handler so the
		// hijacked connection never passes through response-writing
		// middleware.
		api.Get("/ws", wsHandler.New(realtimeHub, auth, notifications, cfg.Server.AllowedOrigins).ServeHTTP)

		api.Group(func(authed chi.Router) {
			authed.Use(auth.Authenticate)
			chatHandler.New(chats, locks).RegisterRoutes(authed)
			notificationHandler.New(notifications).RegisterRoutes(authed)
		})
	})

	return r
}
