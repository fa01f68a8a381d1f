package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"arbor/internal/bus"
	"arbor/internal/capabilities"
	"arbor/internal/config"
	"arbor/internal/handler"
	"arbor/internal/middleware"
	"arbor/internal/provider"
	anthropicProvider "arbor/internal/provider/anthropic"
	loremProvider "arbor/internal/provider/lorem"
	"arbor/internal/repository/postgres"
	"arbor/internal/service"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	logger.Info("database connected")

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	folderRepo := postgres.NewFolderRepository(repoConfig)
	convRepo := postgres.NewConversationRepository(repoConfig)
	msgRepo := postgres.NewMessageRepository(repoConfig)

	// Observer bus for store-change notifications
	reloadBus := bus.New()

	// Services
	folderService := service.NewFolderService(folderRepo, logger)
	convService := service.NewConversationService(convRepo, msgRepo, logger)
	sessions := service.NewSessionManager()
	reconciler := service.NewReconciler(convRepo, msgRepo, reloadBus, logger)

	// Model catalog
	catalog, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize model catalog: %v", err)
	}

	// Providers: lorem always (dev and tests), anthropic when configured
	providers := provider.NewRegistry(loremProvider.NewProvider())
	if cfg.AnthropicAPIKey != "" {
		anthropicInv, err := anthropicProvider.NewProvider(cfg.AnthropicAPIKey)
		if err != nil {
			log.Fatalf("Failed to create anthropic provider: %v", err)
		}
		providers.Register(anthropicInv)
		logger.Info("anthropic provider enabled")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, only lorem models available")
	}

	// Handlers
	folderHandler := handler.NewFolderHandler(folderService, logger)
	convHandler := handler.NewConversationHandler(convService, logger)
	chatHandler := handler.NewChatHandler(providers, catalog, sessions, reconciler, cfg.DefaultModel, logger)
	modelsHandler := handler.NewModelsHandler(catalog)
	eventsHandler := handler.NewEventsHandler(reloadBus, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Chat
	mux.HandleFunc("POST /api/chat", chatHandler.Chat)

	// Folder routes
	mux.HandleFunc("POST /api/folders", folderHandler.CreateFolder)
	mux.HandleFunc("GET /api/folders", folderHandler.ListFolders)
	mux.HandleFunc("GET /api/folders/{id}", folderHandler.GetFolder)
	mux.HandleFunc("PATCH /api/folders/{id}", folderHandler.RenameFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", folderHandler.DeleteFolder)

	// Conversation routes
	mux.HandleFunc("POST /api/conversations", convHandler.CreateConversation)
	mux.HandleFunc("GET /api/conversations", convHandler.ListConversations)
	mux.HandleFunc("POST /api/conversations/move", convHandler.MoveConversations)
	mux.HandleFunc("GET /api/conversations/{id}", convHandler.GetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", convHandler.UpdateConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", convHandler.DeleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/fork", convHandler.ForkConversation)
	mux.HandleFunc("GET /api/conversations/{id}/forks", convHandler.ListForks)
	mux.HandleFunc("GET /api/conversations/{id}/messages", convHandler.ListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", convHandler.AddMessage)

	// Model catalog and change notifications
	mux.HandleFunc("GET /api/models", modelsHandler.ListModels)
	mux.HandleFunc("GET /api/events", eventsHandler.Events)

	// Build middleware chain (applied in reverse order, they wrap each other)
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived chat and SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
