package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-livechat/internal/chat"
	"go-livechat/internal/danmaku"
	"go-livechat/internal/db"
	"go-livechat/internal/identity"
	"go-livechat/internal/ipinfo"
	myMiddleware "go-livechat/internal/middleware"
	"go-livechat/internal/presence"
	"go-livechat/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat and danmaku server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres is optional: without it danmaku live in memory and chat is not archived.
	var database *db.Database
	if cfg.DatabaseDSN != "" {
		database, err = db.NewDatabase(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close()
		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("[db] connected and migrated")
	}

	// Redis is optional too: it backs the shared rate limiter and the danmaku cache.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Str("addr", cfg.RedisAddr).Msg("[redis] connected")
	}

	g, ctx := errgroup.WithContext(ctx)

	limitCfg := ratelimit.Config{Limit: cfg.RateLimit.ConnectionsPerWindow, Window: cfg.RateLimit.Window}
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, limitCfg, "ratelimit:ws:")
	} else {
		mem := ratelimit.NewMemoryLimiter(limitCfg)
		g.Go(func() error {
			mem.Run(ctx)
			return nil
		})
		limiter = mem
	}

	var resolver ipinfo.Resolver = ipinfo.StaticResolver{}
	if cfg.GeoLookup {
		resolver = ipinfo.NewHTTPResolver(ipinfo.DefaultProviders, 2*time.Second, log.Logger)
	}

	// Chat
	var relayOpts []chat.RelayOption
	var history chat.History
	if database != nil {
		repo := chat.NewRepository(database.Conn)
		relayOpts = append(relayOpts, chat.WithArchiver(repo))
		history = repo
	}
	hub := chat.NewHub(presence.NewRegistry(), chat.HubConfig{
		Relay: chat.RelayConfig{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			TypingTTL:        cfg.Chat.TypingTTL,
			ArchiveTimeout:   3 * time.Second,
		},
		SendBuffer:  cfg.Chat.SendBuffer,
		SweepPeriod: time.Second,
	}, log.Logger, relayOpts...)
	chatHandler := chat.NewHandler(hub, limiter, resolver, history, cfg.AllowedOrigin, log.Logger)

	// Danmaku
	var store danmaku.Store = danmaku.NewMemoryStore()
	if database != nil {
		store = danmaku.NewPostgresStore(database.Conn)
	}
	if redisClient != nil {
		store = danmaku.NewCachedStore(store, redisClient, cfg.Danmaku.CacheTTL, log.Logger)
	}
	danmakuHandler := danmaku.NewHandler(danmaku.NewService(store), danmaku.SchedulerConfig{
		Tracks:          cfg.Danmaku.Tracks,
		DisplayDuration: cfg.Danmaku.DisplayDuration,
		TieBucket:       cfg.Danmaku.TieBucket,
		SeekThreshold:   cfg.Danmaku.SeekThreshold,
	}, chat.OriginChecker(cfg.AllowedOrigin), log.Logger)

	var validator myMiddleware.TokenValidator
	if cfg.JWTSecret != "" {
		validator = identity.NewService(cfg.JWTSecret, 24*time.Hour)
	}
	authMiddleware := myMiddleware.NewAuthMiddleware(validator)

	r := newRouter(chatHandler, danmakuHandler, authMiddleware)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("[server] listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("[server] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(chatHandler *chat.Handler, danmakuHandler *danmaku.Handler, auth *myMiddleware.AuthMiddleware) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", chatHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(auth.Identify)

		r.Get("/ws", chatHandler.ServeWs)
		r.Get("/ws/danmaku", danmakuHandler.ServePlayback)

		r.Get("/api/chat/messages", chatHandler.GetChatHistory)
		r.Get("/api/videos/{videoID}/danmaku", danmakuHandler.List)
		r.Post("/api/videos/{videoID}/danmaku", danmakuHandler.Create)
		r.Delete("/api/danmaku/{id}", danmakuHandler.Delete)
	})
	return r
}
