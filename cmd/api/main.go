package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lumenchat/backend/internal/config"
	"github.com/lumenchat/backend/internal/handler"
	"github.com/lumenchat/backend/internal/model/ai"
	authservice "github.com/lumenchat/backend/internal/service/auth"
	chatservice "github.com/lumenchat/backend/internal/service/chat"
	"github.com/lumenchat/backend/internal/service/openrouter"
	"github.com/lumenchat/backend/internal/service/pipeline"
	"github.com/lumenchat/backend/internal/service/search"
	"github.com/lumenchat/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("failed to open database at %s: %v", cfg.Storage.Path, err)
	}
	defer store.Close()
	log.Printf("database ready at %s", cfg.Storage.Path)

	registry := ai.NewStaticRegistry(ai.Seed())
	authSvc := authservice.NewService(store, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	chatSvc := chatservice.NewService(store)

	client := openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.OpenRouter.APIKey,
		BaseURL:     cfg.OpenRouter.BaseURL,
		SiteURL:     cfg.OpenRouter.SiteURL,
		SiteName:    cfg.OpenRouter.SiteName,
		CallTimeout: cfg.OpenRouter.CallTimeout,
		IdleWindow:  cfg.OpenRouter.IdleWindow,
	})
	if !client.Configured() {
		log.Println("warning: OPENROUTER_API_KEY not set, chat turns will fail")
	}

	searcher := search.NewSerpClient(search.Config{
		APIKey:  cfg.Search.APIKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Search.Timeout,
	})
	if cfg.Search.APIKey == "" {
		log.Println("SERPAPI_KEY not set, web search disabled")
	}

	pipe := pipeline.New(registry, pipeline.NewOpenRouterBackend(client), searcher, chatSvc, cfg.OpenRouter.ReasoningModel)

	router := handler.NewRouter(authSvc, chatSvc, pipe, registry, handler.Options{
		DefaultModel: cfg.OpenRouter.DefaultModel,
		CORSOrigin:   cfg.Server.CORSOrigin,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("LumenChat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
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
