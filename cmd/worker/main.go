package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/config"
	"chatcore/internal/infrastructure/database"
	"chatcore/internal/infrastructure/logging"
	queueAdapter "chatcore/internal/infrastructure/queue/adapter"
	"chatcore/internal/pkg/chat/application/task"
	"chatcore/internal/pkg/chat/persistence/notification"
)

// The worker drains the notifications queue into the durable store.
func main() {
	cfgPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Redis.URL == "" {
		return errors.New("worker: redis.url is required")
	}
	if cfg.Mongo.URI == "" {
		return errors.New("worker: mongo.uri is required")
	}

	client, err := database.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	store := notification.NewMongoNotificationStore(client.Database(cfg.Mongo.Database))

	srv, err := queueAdapter.NewAsynqServer(queueAdapter.ServerConfig{
		RedisURL:    cfg.Redis.URL,
		Concurrency: cfg.Asynq.Concurrency,
		Queues:      cfg.Asynq.Queues,
		Logger:      log.Named("asynq"),
	})
	if err != nil {
		return err
	}
	task.RegisterPersistNotificationTask(srv, store, log.Named("task"))

	log.Info("worker started", zap.String("queues", cfg.Asynq.Queues))
	return srv.Run(ctx)
}
