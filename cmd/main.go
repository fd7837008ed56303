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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/qninhdt/storyforge/server/internal/agents"
	"github.com/qninhdt/storyforge/server/internal/api"
	"github.com/qninhdt/storyforge/server/internal/campaign"
	"github.com/qninhdt/storyforge/server/internal/config"
	"github.com/qninhdt/storyforge/server/internal/db"
	"github.com/qninhdt/storyforge/server/internal/game"
	"github.com/qninhdt/storyforge/server/internal/logger"
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if cfg.SeedCampaigns {
		if _, err := campaign.Seed(context.Background(), database, zlog.Named("campaign")); err != nil {
			return err
		}
	}

	if cfg.LLMAPIKey == "" {
		zlog.Warn("LLM_API_KEY is not set, every narration will use fallback text")
	}
	narrator := agents.NewNarrator(agents.Config{
		APIKey:        cfg.LLMAPIKey,
		BaseURL:       cfg.LLMBaseURL,
		Model:         cfg.LLMModel,
		HistoryWindow: cfg.HistoryWindow,
		HTTPTimeout:   cfg.GenerationTimeout,
	}, zlog)

	engine := game.NewEngine(database, database, narrator, zlog, game.EngineConfig{
		GenerationTimeout: cfg.GenerationTimeout,
		UpdateRetries:     cfg.UpdateRetries,
	})

	server := api.NewServer(engine, database, api.Config{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		CORSOrigins:    cfg.CORSOrigins,
		JWTSecret:      cfg.JWTSecret,
	}, zlog)

	// Two generation calls per turn, each bounded by GenerationTimeout
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2*cfg.GenerationTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("Starting server",
			zap.String("addr", httpServer.Addr),
			zap.String("model", cfg.LLMModel),
			zap.Bool("auth", cfg.AuthEnabled()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		zlog.Info("Shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	zlog.Info("Server exited")
	return nil
}
