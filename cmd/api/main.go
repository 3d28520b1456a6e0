package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CipherHitro/AiMind/internal/config"
	"github.com/CipherHitro/AiMind/internal/handler"
	"github.com/CipherHitro/AiMind/internal/hub"
	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/middleware"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/service/ai"
	chatService "github.com/CipherHitro/AiMind/internal/service/chat"
	"github.com/CipherHitro/AiMind/internal/service/credit"
	"github.com/CipherHitro/AiMind/internal/service/lock"
	notificationService "github.com/CipherHitro/AiMind/internal/service/notification"
	"github.com/CipherHitro/AiMind/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logging.L().Warn().Err(err).Msg("no .env file, continuing with system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.Log)

	st, err := newStore(*cfg)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to initialize store")
	}
	defer st.Close()

	lockStore, lockStoreCloser, err := newLockStore(*cfg, st)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to initialize lock store")
	}
	if lockStoreCloser != nil {
		defer lockStoreCloser()
	}

	realtimeHub := hub.NewHub()
	locks := lock.NewManager(lockStore, st, realtimeHub, cfg.Chat.LockTTL)
	realtimeHub.OnDisconnect(func(ctx context.Context, u user.User) {
		if err := locks.ReleaseAll(ctx, u); err != nil {
			logging.L().Error().Err(err).Str("user_id", u.ID).Msg("failed to release locks on disconnect")
		}
	})
	go realtimeHub.Run(ctx)

	if !cfg.AI.Enabled() {
		logging.L().Warn().Msg("AI credentials missing, completions will use the fallback response")
	}
	gateway := ai.NewGateway(cfg.AI)
	titler := ai.NewTitleGenerator(cfg.AI)

	ledger := credit.NewLedger(st, cfg.Chat.CreditsPerMessage)
	chats := chatService.NewService(st, ledger, locks, gateway, titler)
	notifications := notificationService.NewService(st, realtimeHub)
	auth := middleware.NewAuthenticator(st, cfg.Auth.JWTSecret, cfg.Auth.CookieName)

	router := handler.NewRouter(*cfg, auth, realtimeHub, chats, locks, notifications)

	startServer(ctx, cfg.Server, router)
}

func newStore(cfg config.Config) (store.Store, error) {
	if cfg.Database.UseInMemory {
		logging.L().Info().Msg("using in-memory store")
		mem := store.NewMemoryStore()
		seedDevUser(mem)
		return mem, nil
	}
	logging.L().Info().
		Str("host", cfg.Database.Host).
		Str("dbname", cfg.Database.DBName).
		Msg("using postgres store")
	return store.NewPostgresStore(cfg.Database)
}

// seedDevUser makes the in-memory mode usable out of the box: tokens signed
// for this id authenticate without a signup flow.
func seedDevUser(mem *store.MemoryStore) {
	devID := os.Getenv("DEV_USER_ID")
	if devID == "" {
		devID = "dev-user"
	}
	mem.PutUser(user.User{
		ID:       devID,
		Username: "dev",
		FullName: "Dev User",
		Email:    "dev@localhost",
		Organizations: []user.Membership{
			{OrganizationID: "dev-org", Role: user.RoleAdmin},
		},
		ActiveOrganization: "dev-org",
		Credits:            user.DefaultCredits,
		CreatedAt:          time.Now(),
	})
	logging.L().Info().Str("user_id", devID).Msg("seeded development user")
}

func newLockStore(cfg config.Config, st store.Store) (lock.Store, func() error, error) {
	if !cfg.Redis.Enabled {
		return lock.NewChatStoreBacked(st), nil, nil
	}
	rs, err := lock.NewRedisStore(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logging.L().Info().Str("address", cfg.Redis.Address).Msg("using redis lock store")
	return rs, rs.Close, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logging.L().Info().Str("addr", serverCfg.Addr).Msg("AiMind backend listening")
	if err := runServer(ctx, srv); err != nil {
		logging.L().Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
