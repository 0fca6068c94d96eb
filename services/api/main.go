package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hezronokwach/soshi/internal/config"
	"github.com/hezronokwach/soshi/internal/handler"
	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/middleware"
	"github.com/hezronokwach/soshi/internal/push"
	"github.com/hezronokwach/soshi/internal/repository"
	"github.com/hezronokwach/soshi/internal/startup"
	"github.com/hezronokwach/soshi/internal/storage"
	"github.com/hezronokwach/soshi/internal/storage/memory"
	"github.com/hezronokwach/soshi/internal/ws"
	"github.com/hezronokwach/soshi/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory cache (no external deps)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	userRepo := repository.NewUserRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	groupRepo := repository.NewGroupRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	// Presence does not survive a restart; clear stale flags before accepting
	// sockets.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := userRepo.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	var cache storage.SessionCacheStore
	if *dev {
		cache = memory.New()
		logger.Info("using in-memory session cache (-dev)")
	} else {
		cache = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer cache.Close()

	vapid := &push.VAPIDKeys{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
	}
	if vapid.PublicKey == "" || vapid.PrivateKey == "" {
		vapid, err = push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid keys: %v (push disabled)", err)
			vapid = &push.VAPIDKeys{}
		}
	}
	pushSender := push.NewSender(pushRepo, cfg.Push.Subscriber, vapid.PublicKey, vapid.PrivateKey)

	// A typed nil *push.Sender must not reach the interface, the hub checks
	// the interface against nil to see if push is enabled.
	var notifier ws.PushNotifier
	if pushSender != nil {
		notifier = pushSender
	}
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(userRepo, groupRepo, cfg.MaxWSConnections, notifier)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	secureCookie := os.Getenv("APP_ENV") == "production"
	authH := handler.NewAuthHandler(userRepo, sessionRepo, cache, secureCookie)
	userH := handler.NewUserHandler(userRepo)
	msgH := handler.NewMessageHandler(msgRepo, userRepo, contactRepo, notifRepo, hub, cache)
	groupH := handler.NewGroupHandler(groupRepo, userRepo, notifRepo, hub, cache)
	notifH := handler.NewNotificationHandler(notifRepo, msgRepo)
	pushH := handler.NewPushHandler(pushRepo, vapid.PublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket responses: the wrapped ResponseWriter would
	// lose http.Hijacker and the upgrade fails with 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Post("/api/auth/register", authH.Register)
	r.Post("/api/auth/login", authH.Login)
	r.Get("/api/push/public-key", pushH.PublicKey)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessionRepo, cache))

		r.Post("/api/auth/logout", authH.Logout)
		r.Get("/api/me", userH.Me)
		r.Get("/api/users", userH.List)

		r.Get("/api/conversations", msgH.GetConversations)
		r.Post("/api/conversations/{peerID}/read", msgH.MarkAsRead)
		r.Post("/api/conversations/{peerID}/accept", msgH.AcceptRequest)
		r.Get("/api/messages/{peerID}", msgH.GetMessages)
		r.Post("/api/messages", msgH.SendMessage)

		r.Get("/api/groups", groupH.ListGroups)
		r.Post("/api/groups", groupH.CreateGroup)
		r.Post("/api/groups/{groupID}/members", groupH.AddMember)
		r.Get("/api/groups/{groupID}/messages", groupH.GetMessages)
		r.Post("/api/groups/{groupID}/messages", groupH.SendMessage)

		r.Get("/api/notifications", notifH.List)
		r.Post("/api/notifications/read", notifH.MarkAllRead)
		r.Get("/api/unread-counts", notifH.UnreadCounts)

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
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "soshi"
		password = "soshi_secret"
		database = "soshi"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
