package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	v1 "chatcore/cmd/api/router/v1"
	cacheAdapter "chatcore/internal/infrastructure/cache/adapter"
	cachePort "chatcore/internal/infrastructure/cache/port"
	"chatcore/internal/infrastructure/config"
	"chatcore/internal/infrastructure/database"
	"chatcore/internal/infrastructure/logging"
	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/outbox"
	"chatcore/internal/infrastructure/push"
	queueAdapter "chatcore/internal/infrastructure/queue/adapter"
	"chatcore/internal/infrastructure/realtime"
	"chatcore/internal/pkg/chat/application/notify"
	"chatcore/internal/pkg/chat/application/presence"
	"chatcore/internal/pkg/chat/application/typing"
	"chatcore/internal/pkg/chat/application/usecase"
	chatAdapter "chatcore/internal/pkg/chat/persistence/repository/adapter"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
	httpHandler "chatcore/internal/pkg/chat/presentation/http"
	"chatcore/internal/pkg/chat/presentation/controller"
	userAdapter "chatcore/internal/repository/adapter"
	userPort "chatcore/internal/repository/port"
)

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
		log.Fatal("api exited", zap.Error(err))
	}
}

type stores struct {
	chats     repository.ChatRepository
	reactions repository.ReactionRepository
	presence  repository.PresenceRepository
	users     userPort.UserRepository
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (stores, func(), error) {
	if cfg.DB.URL == "" {
		log.Warn("db.url not set, using in-memory ledger")
		mem := memory.NewStore(nil)
		return stores{chats: mem, reactions: mem, presence: mem, users: userAdapter.MapUserRepository{}}, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := database.Connect(connectCtx, cfg.DB.URL, database.WithMaxConns(cfg.DB.MaxConns))
	if err != nil {
		return stores{}, nil, err
	}
	if err := database.Migrate(connectCtx, pool); err != nil {
		pool.Close()
		return stores{}, nil, err
	}
	return pgStores(pool), pool.Close, nil
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		chats:     chatAdapter.NewPgChatRepository(pool),
		reactions: chatAdapter.NewPgReactionRepository(pool),
		presence:  chatAdapter.NewPgPresenceRepository(pool),
		users:     userAdapter.NewPgUserRepository(pool),
	}
}

func newTransport(cfg *config.Config, rdb *redis.Client, log *zap.Logger) realtime.Transport {
	if cfg.Fabric.Transport == "redis" {
		return realtime.NewRedisTransport(rdb, "chat:", log)
	}
	return realtime.NewHub(cfg.Fabric.QueueLimit).Endpoint("api")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	var (
		rdb      *redis.Client
		cache    cachePort.Cache      = cacheAdapter.NewMemoryCache(clock.New())
		sessions cachePort.SessionSet = cacheAdapter.NewMemorySessionSet()
	)
	if cfg.Redis.URL != "" {
		rdb, err = cacheAdapter.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache = cacheAdapter.NewRedisCache(rdb)
		sessions = cacheAdapter.NewRedisSessionSet(rdb, "chat:")
	}

	fabric := realtime.NewFabric(newTransport(cfg, rdb, log),
		realtime.WithLogger(log.Named("fabric")),
		realtime.WithMetrics(m),
		realtime.WithConnectTimeout(cfg.Fabric.ConnectTimeout),
		realtime.WithBackoff(cfg.Fabric.BackoffInitial, cfg.Fabric.BackoffMax),
		realtime.WithQueueLimit(cfg.Fabric.QueueLimit),
	)
	defer fabric.Close()

	tracker := presence.NewTracker(st.presence, fabric, presence.WithLogger(log.Named("presence")))
	sessionSet := presence.NewSessions(sessions, tracker,
		presence.WithSessionTTL(cfg.Presence.SessionTTL),
		presence.WithSessionLogger(log.Named("sessions")),
	)
	bus := typing.NewBus(fabric,
		typing.WithLogger(log.Named("typing")),
		typing.WithCache(cache),
		typing.WithTTL(cfg.Typing.TTL, cfg.Typing.Margin),
	)
	fabric.HandleSnapshots(realtime.PresenceTopic, tracker.Snapshot)
	fabric.HandleSnapshots(realtime.TypingTopic(""), bus.Snapshot)

	ob, err := outbox.Open(cfg.Outbox.Path, cfg.Outbox.Capacity)
	if err != nil {
		return err
	}
	defer ob.Close()

	appendUC := usecase.NewAppendMessageUseCase(st.chats, fabric)
	appendUC.Log, appendUC.Metrics = log, m
	sendUC := usecase.NewSendMessageUseCase(appendUC, ob)
	sendUC.MaxAttempts = cfg.Ledger.MaxAttempts
	sendUC.InitialBackoff = cfg.Ledger.BackoffInitial
	sendUC.Log, sendUC.Metrics = log, m
	flushUC := usecase.NewFlushOutboxUseCase(appendUC, ob)
	flushUC.Log, flushUC.Metrics = log, m
	advanceUC := usecase.NewAdvanceStatusUseCase(st.chats, fabric)
	advanceUC.Log, advanceUC.Metrics = log, m
	readUC := usecase.NewMarkConversationReadUseCase(st.chats, fabric)
	readUC.Log, readUC.Metrics = log, m
	reactUC := usecase.NewSetReactionUseCase(st.chats, st.reactions, fabric)
	reactUC.Log, reactUC.Metrics = log, m
	listConvUC := usecase.NewListConversationsUseCase(st.chats)

	sinks := []notify.Sink{notify.ToastSink{Fabric: fabric}}
	if cfg.Redis.URL != "" {
		qc, err := queueAdapter.NewAsynqClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer qc.Close()
		sinks = append(sinks, notify.QueueSink{Client: qc, Queue: "notifications", Retention: 24 * time.Hour})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := push.NewKafkaPusher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kp.Close()
		sinks = append(sinks, notify.PushSink{Pusher: kp})
	}
	background := func(userID string) controller.Runner {
		return notify.NewDispatcher(userID, listConvUC, st.users, fabric, sinks,
			notify.WithLogger(log.Named("notify").With(zap.String("observer", userID))),
			notify.WithMetrics(m),
			notify.WithTimeout(cfg.Notify.Timeout),
			notify.WithRefresh(cfg.Notify.Refresh),
		)
	}

	go func() {
		if err := fabric.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("fabric stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("presence tracker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := sessionSet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session sweeper stopped", zap.Error(err))
		}
	}()
	go flushUC.Run(ctx, cfg.Outbox.FlushInterval)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), cors.Default())

	v1.RegisterRoutes(r, httpHandler.Services{
		CreateConversation: usecase.NewCreateConversationUseCase(st.chats),
		ListConversations:  listConvUC,
		SendMessage:        sendUC,
		ListMessages:       usecase.NewListMessagesUseCase(st.chats),
		MarkRead:           readUC,
		AdvanceStatus:      advanceUC,
		SetReaction:        reactUC,
		ListReactions:      usecase.NewListReactionsUseCase(st.reactions),
		Conversations:      st.chats,
		Fabric:             fabric,
		Presence:           tracker,
		Sessions:           sessionSet,
		Typing:             bus,
		Background:         background,
		Log:                log.Named("socket"),
	}, reg)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
