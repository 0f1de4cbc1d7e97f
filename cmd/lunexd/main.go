package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"lunex-backend/config"
	"lunex-backend/internal/api"
	"lunex-backend/internal/booking"
	"lunex-backend/internal/db"
	"lunex-backend/internal/gate"
	"lunex-backend/internal/issue"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/rebook"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
	"lunex-backend/internal/sweep"
)

func main() {
	logger := log.New(os.Stdout, "lunexd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded from %s", configPath)

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Println("VAPID keys not configured; web push delivery disabled")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.New(gormDB)

	notifier := notify.NewService(gormDB, webpushOptions, cfg.WorkerPool.Size)
	notifier.Start(ctx)

	allocator := booking.NewAllocator(appStore, &cfg.Engine, notifier)
	sessions := session.NewManager(appStore, &cfg.Engine, notifier)
	accessGate := gate.New(appStore, &cfg.Engine, sessions)
	issues := issue.NewTracker(appStore, sessions, notifier)
	negotiator := rebook.NewNegotiator(appStore, &cfg.Engine, notifier)

	sweeper := sweep.New(appStore, &cfg.Engine, sessions, notifier)
	go sweeper.Run(ctx)

	handler := api.NewHandler(appStore, allocator, sessions, accessGate, issues, negotiator, cfg.Push.PublicKey)
	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("server gracefully stopped")
}
