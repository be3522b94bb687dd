package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-directory/internal/cache"
	"chat-directory/internal/config"
	"chat-directory/internal/db"
	"chat-directory/internal/directory"
	"chat-directory/internal/eventbus"
	"chat-directory/internal/handlers"
	"chat-directory/internal/middleware"
	"chat-directory/internal/observability"
	"chat-directory/internal/rabbitmq"
	"chat-directory/internal/repositories"
	"chat-directory/internal/telemetry"
	"chat-directory/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "chat-directory")
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	if shutdownTracing != nil {
		defer shutdownTracing(ctx)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("telemetry publisher mode=%s", rabbitmq.PublisherMode(publisher))
	if reason := rabbitmq.PublisherNoopReason(publisher); reason != "" {
		log.Printf("telemetry publisher noop reason: %s", reason)
	}
	if amqpPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(amqpPublisher)
		defer amqpPublisher.Close()
	}

	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, "chat-directory", cfg.Environment)

	groupRepo := repositories.NewGroupRepo(database)
	userRepo := repositories.NewUserRepo(database)

	groupCache := cache.New()
	bus := eventbus.NewBus(cfg.EventBufferSize)

	svc := directory.NewService(groupRepo, userRepo, groupCache, bus)
	if err := svc.WarmCache(ctx); err != nil {
		log.Fatalf("failed to warm cache: %v", err)
	}

	go refreshUsersLoop(ctx, svc, cfg.UserRefreshInterval)

	hub := ws.NewHub()
	go hub.Run(bus.Subscribe())

	groupHandler := handlers.NewGroupHandler(svc, audit)
	eventsWS := ws.NewEventsWebSocketHandler(hub, []byte(cfg.JWTSecret))

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-directory"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware([]byte(cfg.JWTSecret))

	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/groups", authMiddleware, groupHandler.ListGroups)
	router.GET("/groups/:group_id", authMiddleware, groupHandler.GetGroup)
	router.POST("/groups/:group_id/members", authMiddleware, groupHandler.AddMembers)
	router.DELETE("/groups/:group_id/members", authMiddleware, groupHandler.RemoveMembers)

	router.GET("/ws/events", eventsWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func refreshUsersLoop(ctx context.Context, svc *directory.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.RefreshUsers(ctx); err != nil {
				log.Printf("user refresh failed: %v", err)
			}
		}
	}
}
