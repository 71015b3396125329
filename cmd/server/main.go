package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/api/routes"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/config"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/database"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/services"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/webhooks"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting pusher server")

	// Redis is optional; without it the relay runs single-node.
	var redisService *services.RedisService
	if cfg.Redis.Enabled() {
		redisClient, err := database.NewRedisConnection(&cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		redisService = services.NewRedisService(redisClient)
	} else {
		slog.Info("Redis not configured, running single-node")
	}

	// Channel lifecycle events go to Kafka when brokers are configured.
	var emitter webhooks.Emitter
	if cfg.Kafka.Enabled() {
		kafkaEmitter, err := webhooks.NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		emitter = kafkaEmitter
	} else {
		emitter = webhooks.NewLogEmitter()
	}
	defer emitter.Close()

	signer := auth.NewSignatureAuthorizer(cfg.Auth.AppKey, cfg.Auth.AppSecret)

	// Initialize the hub
	registry := websocket.NewRegistry()
	hub := websocket.NewHub(registry, signer, redisService, emitter)
	go hub.Run()

	// Initialize router with all dependencies
	router := routes.NewRouter(hub, redisService, signer, cfg)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop WebSocket hub
	hub.Stop()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
