package main

import (
	"context"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"melodiChat/config"
	"melodiChat/pkg/api"
	"melodiChat/pkg/app"
	"melodiChat/pkg/middleware"
	"melodiChat/pkg/notification"
	"melodiChat/pkg/repository"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	db, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("connected to database")

	firebaseApp := config.SetupFirebase()

	storage := repository.NewStorage(db)

	var notifier api.Notifier
	if fcm, err := notification.NewFcmNotifier(firebaseApp, storage, logger); err != nil {
		logger.Warn().Err(err).Msg("push notifications disabled, no messaging credentials")
		notifier = api.NopNotifier{}
	} else {
		notifier = fcm
	}

	userService := api.NewUserService(storage)
	chatService := api.NewChatService(storage, storage, notifier, logger)

	// One hub per process; presence and typing state live here and
	// nowhere else.
	hub := api.NewHub(logger)

	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to redis")
		}
		defer redisClient.Close()
		logger.Info().Msg("connected to redis")

		limiter = middleware.NewRateLimiter(redisClient, logger)
	}

	router := chi.NewRouter()

	server := app.NewServer(router, userService, chatService, hub, limiter, firebaseApp, cfg.ServerURL, logger)

	if err := server.Run(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
	}
}
