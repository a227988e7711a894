package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creatif-sam/ambf-connect/internal/changefeed"
	"github.com/creatif-sam/ambf-connect/internal/config"
	"github.com/creatif-sam/ambf-connect/internal/handler"
	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/push"
	"github.com/creatif-sam/ambf-connect/internal/realtime"
	"github.com/creatif-sam/ambf-connect/internal/repository"
	"github.com/creatif-sam/ambf-connect/internal/startup"
)

const devJWTSecret = "dev-secret-change-me"

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	if *dev {
		emb, err := startup.StartEmbeddedPostgres(5432, ".pgdata")
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		cfg.Database.URL = emb.URL
		defer func() {
			if err := emb.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
			logger.Infof("JWT_SECRET not set, dev secret %q in use", devJWTSecret)
		}
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required (or run with -dev)")
		os.Exit(1)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = startup.MigratePool(migrateCtx, pool)
	migrateCancel()
	if err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	if *migrate {
		return
	}
	logger.Info("database connected, migrations applied")

	msgRepo := repository.NewMessageRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	connRepo := repository.NewConnectionRepository(pool)
	pushClient := push.NewClient(cfg.PushServiceURL, cfg.PushInternalToken)
	if !pushClient.Enabled() {
		logger.Info("PUSH_SERVICE_URL not set, push notifications disabled")
	}

	hub := realtime.NewHub(realtime.Options{
		MaxConnections: cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		WriteTimeout:   cfg.WSWriteTimeout,
		PongTimeout:    cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		LastSeen:       profileRepo,
	})
	feed := changefeed.NewListener(pool, msgRepo, hub)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	bgWg.Add(2)
	go func() {
		defer bgWg.Done()
		hub.Run(bgCtx)
	}()
	go func() {
		defer bgWg.Done()
		feed.Run(bgCtx)
	}()

	msgH := handler.NewMessageHandler(msgRepo, profileRepo, pushClient)
	profileH := handler.NewProfileHandler(profileRepo, profileRepo)
	connH := handler.NewConnectionHandler(connRepo, profileRepo, pushClient)
	pushH := handler.NewPushHandler(pushClient)
	configH := handler.NewConfigHandler(cfg)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/push", configH.GetPushConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret, profileRepo))
		r.Use(middleware.RateLimit("api", 200, 100))

		r.Get("/api/conversations", msgH.Conversations)
		r.Get("/api/messages/{userId}", msgH.GetThread)
		r.Post("/api/messages", msgH.Send)
		r.Post("/api/messages/{userId}/read", msgH.MarkRead)

		r.Get("/api/profiles/me", profileH.GetMe)
		r.Put("/api/profiles/me/last-seen", profileH.TouchLastSeen)
		r.Get("/api/profiles/{id}", profileH.GetProfile)

		r.Get("/api/connections", connH.List)
		r.Post("/api/connections", connH.Create)
		r.Post("/api/connections/{id}/accept", connH.Accept)
		r.Post("/api/connections/{id}/decline", connH.Decline)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)

		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			bgCancel()
			bgWg.Wait()
			return
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	bgCancel()
	bgWg.Wait()
	logger.Info("hub and change feed stopped")
	srvWg.Wait()
	logger.Flush()
}

// splitOrigins разбирает CORS_ALLOWED_ORIGINS ("*" или список через запятую).
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
