package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/infrastructure/auth"
	"github.com/parley-chat/parley/internal/infrastructure/kafka"
	"github.com/parley-chat/parley/internal/infrastructure/redis"
	"github.com/parley-chat/parley/internal/llm"
	"github.com/parley-chat/parley/internal/observability"
	core "github.com/parley-chat/parley/internal/repository/postgres"
	service "github.com/parley-chat/parley/internal/services"

	_ "github.com/lib/pq"
)

func main() {
	// Логи, метрики, трейсы
	shutdown := observability.Setup("parley")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	convRepo := core.NewPostgresConversationRepository(db)
	messageRepo := core.NewPostgresMessageRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	tokens := auth.NewManager([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	var model llm.Caller = llm.EchoCaller{}
	if cfg.ModelBaseURL != "" {
		model = llm.NewHTTPCaller(cfg.ModelBaseURL, cfg.ModelName, cfg.ModelAPIKey)
	}

	sessions := service.NewSessionService(userRepo, tokens, producer)
	chat := service.NewChatService(convRepo, messageRepo, redisClient, producer, model)

	// Консьюмер usage-счётчиков
	usageConsumer := kafka.NewUsageConsumer(cfg.KafkaBrokers, "chat-events", "parley-usage", redisClient)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go usageConsumer.Consume(consumerCtx)
	defer usageConsumer.Close()
	defer stopConsumer()

	router := api.SetupRouter(sessions, chat, tokens)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
