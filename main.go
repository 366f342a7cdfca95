package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chirpchat/internal/auth"
	"chirpchat/internal/config"
	"chirpchat/internal/db"
	"chirpchat/internal/handlers"
	"chirpchat/internal/middleware"
	"chirpchat/internal/observability"
	"chirpchat/internal/outbox"
	"chirpchat/internal/rabbitmq"
	"chirpchat/internal/relay"
	"chirpchat/internal/repositories"
	"chirpchat/internal/services"
	"chirpchat/internal/telemetry"
)

const serviceName = "chirpchat"

type dependencies struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	hub           *relay.Hub
	dispatcher    *outbox.Dispatcher
	verifier      *auth.Verifier
	auditor       *telemetry.AuditEmitter
	wsEvents      relay.EventSink
	logger        zerolog.Logger
	pairKeyUnique bool
	debugRoutes   bool
}

func main() {
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
			Str("service", serviceName).
			Logger()
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init failed")
	}

	deps := dependencies{
		verifier:      auth.NewVerifier(cfg.JWTSecret),
		logger:        logger,
		pairKeyUnique: cfg.PairKeyUnique,
		debugRoutes:   cfg.DebugRoutes,
	}

	switch cfg.Store {
	case "memory":
		store := repositories.NewMemoryStore()
		deps.users, deps.conversations, deps.messages = store, store, store
		logger.Warn().Msg("using in-memory store, data is lost on restart")
	default:
		database, err := db.Connect(cfg.DBDSN, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to db")
		}
		defer database.Close()
		deps.users = repositories.NewUserRepo(database)
		deps.conversations = repositories.NewConversationRepo(database)
		deps.messages = repositories.NewMessageRepo(database)
	}

	deps.hub = relay.NewHub(logger)
	var publisher outbox.Publisher = deps.hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		backplane := relay.NewRedisBackplane(client, deps.hub, logger)
		go func() {
			if err := backplane.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("redis backplane stopped, events reach local subscribers only")
			}
		}()
		publisher = backplane
		logger.Info().Msg("relay using redis backplane")
	}

	amqpPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer amqpPublisher.Close()
	logger.Info().
		Str("mode", rabbitmq.PublisherMode(amqpPublisher)).
		Str("noop_reason", rabbitmq.PublisherNoopReason(amqpPublisher)).
		Msg("event mirror ready")

	deps.wsEvents = amqpPublisher
	deps.auditor = telemetry.NewAuditEmitter(amqpPublisher, "audit."+serviceName, serviceName, cfg.Env, logger)
	deps.dispatcher = outbox.NewDispatcher(publisher, logger, cfg.PublishTimeout, amqpPublisher)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(deps),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.Store).
			Bool("pair_key_unique", cfg.PairKeyUnique).
			Msg("starting chirpchat server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	deps.dispatcher.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

func newRouter(d dependencies) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Logger(d.logger),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	conversationService := services.NewConversationService(d.users, d.conversations, d.messages, d.pairKeyUnique)
	messageService := services.NewMessageService(d.conversations, d.messages)

	conversationHandler := handlers.NewConversationHandler(conversationService, d.dispatcher, d.auditor, d.logger)
	messageHandler := handlers.NewMessageHandler(messageService, d.dispatcher, d.auditor, d.logger)
	wsHandler := relay.NewHandler(d.hub, d.verifier, d.conversations, d.wsEvents, d.logger)

	api := router.Group("/api", middleware.Auth(d.verifier, d.users, d.logger))
	api.POST("/conversations", conversationHandler.CreateConversation)
	api.GET("/conversations", conversationHandler.ListConversations)
	api.GET("/conversations/:conversation_id", conversationHandler.GetConversation)
	api.GET("/conversations/:conversation_id/messages", conversationHandler.ListMessages)
	api.POST("/messages", messageHandler.PostMessage)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, d.auditor, d.debugRoutes)

	return router
}
