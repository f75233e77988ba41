package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nkozdemir/character-chat-app/internal/api"
	"github.com/nkozdemir/character-chat-app/internal/auth"
	"github.com/nkozdemir/character-chat-app/internal/config"
	"github.com/nkozdemir/character-chat-app/internal/logging"
	"github.com/nkozdemir/character-chat-app/internal/mailer"
	"github.com/nkozdemir/character-chat-app/internal/redis"
	"github.com/nkozdemir/character-chat-app/internal/store"
	"github.com/nkozdemir/character-chat-app/internal/upstream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CHARACTER_CHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	st, err := store.Init(cfg.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer st.Close()
	if err := st.Migrate(cfg.Database.Driver); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	// Token cache is optional, the auth service falls back to SQL lookups.
	cache, err := redis.NewClient(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, token cache disabled", zap.Error(err))
		cache = nil
	}
	if cache != nil {
		defer cache.Close()
	}

	var resetMailer auth.ResetMailer
	if m := mailer.New(cfg.SMTP); m != nil {
		resetMailer = m
	}
	authService := auth.NewService(st, cache, resetMailer, 24*time.Hour)
	completions := upstream.NewClient(cfg.Upstream)
	if !completions.Configured() {
		logger.Warn("no upstream api key configured, chat relay will refuse requests")
	}

	handlers := api.NewHandler(st, authService, completions, logger)

	if cfg.Logging.Prod {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), api.Recovery(logger))
	handlers.RegisterRoutes(router)

	logger.Info("server starting", zap.String("address", cfg.Server.Address))
	if err := router.Run(cfg.Server.Address); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
