// Package main is the entry point for the development server, a local
// stand-in for the production chat backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/config"
	"github.com/healthbridge/chat-client/internal/handler"
	"github.com/healthbridge/chat-client/internal/llm"
	"github.com/healthbridge/chat-client/internal/middleware"
	"github.com/healthbridge/chat-client/internal/service"
	"github.com/healthbridge/chat-client/pkg/logger"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting development server")

	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	log.Info("responder configured", zap.String("provider", llmClient.Name()))

	conversationSvc := service.NewConversationService(log)
	messageSvc := service.NewMessageService(conversationSvc, llmClient, log)

	healthHandler := handler.NewHealthHandler(llmClient)
	authHandler := handler.NewAuthHandler(cfg.DevServerJWTSecret, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	streamHandler := handler.NewStreamHandler(cfg.DevServerJWTSecret, messageSvc, conversationSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login/", authHandler.Login)
	r.Post("/auth/refresh/", authHandler.Refresh)

	// websocket upgrade carries auth in the token query parameter
	r.Get("/ws/chat/{id}/", streamHandler.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.DevServerJWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/ai/chats/", conversationHandler.List)
		r.Post("/ai/chats/", conversationHandler.Create)

		r.Route("/ai/chat/{id}", func(r chi.Router) {
			r.Patch("/", conversationHandler.Update)
			r.Delete("/", conversationHandler.Delete)
			r.Get("/messages/", messageHandler.List)
			r.Post("/messages/", messageHandler.Send)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.DevServerPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket sessions are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.DevServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
