package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-relay/internal/api"
	"collab-relay/internal/backend"
	"collab-relay/internal/config"
	"collab-relay/internal/db"
	"collab-relay/internal/models"
	"collab-relay/internal/repository"
	"collab-relay/internal/services/collaboration"
	"collab-relay/internal/telemetry"
)

const (
	serviceName    = "collab-relay"
	serviceVersion = "1.0.0"
)

func main() {
	log.Println("🚀 Starting collaboration relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing goes first so every later component is traced.
	jaegerShutdown, err := telemetry.InitJaeger(serviceName, serviceVersion, cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	log.Printf("✓ Backend client initialized: %s", cfg.BackendURL)

	var store collaboration.ContentStore = backendClient
	if cfg.ContentStore == config.StorePostgres {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = repository.NewSnapshotRepository(database.DB)
	}
	log.Printf("✓ Content store: %s", cfg.ContentStore)

	tokens := collaboration.NewTokenTable()
	persist := collaboration.NewPersistenceCoordinator(store, tokens, cfg.SaveDebounce, cfg.BackendTimeout)

	sessionManager := collaboration.NewSessionManager(tokens, persist, cfg.AwarenessTimeout)
	sessionManager.Start()

	notifications := collaboration.NewNotificationRegistry()
	gateway := collaboration.NewAccessGateway(backendClient, tokens)
	wsHandler := collaboration.NewWebSocketHandler(
		gateway,
		sessionManager,
		collaboration.NewMessageRouter(),
		notifications,
		cfg.SendBuffer,
	)

	handler := api.NewHandler(sessionManager, collaboration.NewNotificationBroadcaster(notifications), wsHandler)
	router := api.SetupRoutes(handler)

	addr := cfg.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   WS     /{documentId}?token=     - Document collaboration")
		log.Printf("   WS     /notifications?token=    - User notifications")
		log.Printf("   GET    /health                  - Active documents")
		log.Printf("   GET    /metrics                 - Prometheus metrics")
		log.Printf("   POST   /reload-document/:id     - Evict a document")
		log.Printf("   POST   /notify                  - Document list update")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting connections; hijacked sockets are closed below.
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	sessionManager.Shutdown(ctx)
	notifications.CloseAll(models.CloseGoingAway, "Server shutting down")

	log.Println("✓ Server shutdown complete")
}
