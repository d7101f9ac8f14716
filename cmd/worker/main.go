package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"chat-relay/internal/agent"
	"chat-relay/internal/bridge"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/logger"
	"chat-relay/internal/metrics"
	"chat-relay/internal/notify"
	"chat-relay/internal/platform/mysql"
	"chat-relay/internal/platform/redis"
	"chat-relay/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	log = log.With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := mysql.New(ctx, cfg.MySQLDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("mysql connect failed")
	}
	repo := chat.NewRepo(gdb)

	m := metrics.New(prometheus.NewRegistry())

	// The worker publishes delivery events through Redis when configured;
	// without it, update notifications only reach clients through polling.
	var events chat.EventPublisher = notify.Nop{}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect failed")
		}
		defer rdb.Close()
		events = notify.NewRedisChannel(rdb, log, m)
	}

	agents := agent.NewRegistry(cfg.Agent.WebhookURL)
	br := bridge.New(repo, agents, events, log, m, bridge.Config{
		Timeout:       cfg.AgentTimeout(),
		HistoryWindow: cfg.Agent.HistoryWindow,
	})

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial failed")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel failed")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitMQ.TaskQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare failed")
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos failed")
	}

	msgs, err := ch.Consume(cfg.RabbitMQ.TaskQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume failed")
	}

	log.Info().
		Str("queue", cfg.RabbitMQ.TaskQueue).
		Int("concurrency", concurrency).
		Msg("worker started")

	// worker pool
	tasks := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range tasks {
				var task chat.Task
				if err := json.Unmarshal(d.Body, &task); err != nil || task.RequestID == "" {
					log.Error().Err(err).Int("worker", workerID).Msg("bad message, dropping to dlq")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := br.Process(ctx, task); err != nil {
					log.Error().Err(err).
						Int("worker", workerID).
						Str("request_id", task.RequestID).
						Dur("cost", time.Since(start)).
						Msg("task failed")
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Error().Err(err).
						Int("worker", workerID).
						Str("request_id", task.RequestID).
						Msg("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(tasks)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			tasks <- d
		}
	}
}
