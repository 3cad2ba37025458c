package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"skillswap-chat-service/internal/config"
	"skillswap-chat-service/internal/db"
	"skillswap-chat-service/internal/delivery"
	"skillswap-chat-service/internal/handlers"
	"skillswap-chat-service/internal/media"
	"skillswap-chat-service/internal/middleware"
	"skillswap-chat-service/internal/observability"
	"skillswap-chat-service/internal/presence"
	"skillswap-chat-service/internal/rabbitmq"
	"skillswap-chat-service/internal/repositories"
	"skillswap-chat-service/internal/telemetry"
	"skillswap-chat-service/internal/ws"
)

const serviceName = "skillswap-chat-service"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, cfg.AuditRoutingKey, serviceName, cfg.Environment)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	registry := presence.NewRegistry(cfg.PresenceGrace)
	uploader := media.NewUploader(ctx, cfg.MediaBucket, cfg.MediaRegion, cfg.MediaEndpoint)

	pipeline := delivery.NewPipeline(chatRepo, messageRepo, userRepo, registry, uploader)
	receipts := delivery.NewReceipts(messageRepo)

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, pipeline, receipts, audit)
	presenceWS := ws.NewPresenceWebSocketHandler(registry, cfg.JWTSecret)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats/group", authMiddleware, chatHandler.CreateGroupChat)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.SendMessage)
	router.POST("/chats/:chat_id/read", authMiddleware, chatHandler.MarkRead)

	router.GET("/ws", presenceWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, registry, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
