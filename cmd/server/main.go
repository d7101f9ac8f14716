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
	"github.com/prometheus/client_golang/prometheus"

	"chat-relay/internal/agent"
	"chat-relay/internal/authz"
	"chat-relay/internal/bridge"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/httpapi"
	"chat-relay/internal/httpapi/handlers"
	"chat-relay/internal/logger"
	"chat-relay/internal/metrics"
	"chat-relay/internal/notify"
	"chat-relay/internal/platform/mysql"
	"chat-relay/internal/platform/redis"
	"chat-relay/internal/store/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	gin.SetMode(cfg.App.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := mysql.New(ctx, cfg.MySQLDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("mysql connect failed")
	}
	if err := gdb.AutoMigrate(&chat.Session{}, &chat.Message{}, &chat.Bot{}, &chat.BotAccess{}); err != nil {
		log.Fatal().Err(err).Msg("auto migrate failed")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Delivery events fan out through Redis when an address is configured so
	// that multiple API replicas see each other's updates. A single process
	// gets the in-memory broker.
	var (
		events chat.EventPublisher
		sub    notify.Subscriber
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect failed")
		}
		defer rdb.Close()
		ch := notify.NewRedisChannel(rdb, log, m)
		events, sub = ch, ch
	} else {
		broker := notify.NewBroker(m)
		events, sub = broker, broker
	}

	repo := chat.NewRepo(gdb)
	agents := agent.NewRegistry(cfg.Agent.WebhookURL)
	br := bridge.New(repo, agents, events, log, m, bridge.Config{
		Timeout:       cfg.AgentTimeout(),
		HistoryWindow: cfg.Agent.HistoryWindow,
	})

	var (
		runner   chat.Runner
		goRunner *bridge.GoRunner
	)
	switch cfg.Agent.Dispatch {
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.TaskQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq connect failed")
		}
		defer pub.Close()
		runner = bridge.NewQueueRunner(pub)
		log.Info().Str("queue", cfg.RabbitMQ.TaskQueue).Msg("dispatching via rabbitmq")
	default:
		goRunner = bridge.NewGoRunner(br, log)
		runner = goRunner
		log.Info().Msg("dispatching via in-process runner")
	}

	svc := chat.NewService(repo, runner, events, authz.NewStore(gdb), log)
	h := handlers.NewHandler(svc, sub, m, log)
	router := httpapi.NewRouter(h, cfg.Auth.JWTSecret, reg, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	// Drain in-flight agent calls so accepted work still reaches a terminal
	// state before the process exits.
	if goRunner != nil {
		if err := goRunner.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("runner drain incomplete")
		}
	}

	log.Info().Msg("server stopped")
}
