package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/alert"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/allocation"
	httpapi "github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/api/http"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/config"
	eventkafka "github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/event/kafka"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository/postgres"
	redisrepo "github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository/redis"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/service"
	platformhealth "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/health/http"
	platformkafka "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/kafka"
	platformlogging "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/logging"
	platformobservability "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"
	platformshutdown "github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/shutdown"
)

const serviceName = "pharmaflow"

// App содержит все зависимости для запуска и корректного shutdown PharmaFlow
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	workers     []worker
	wg          sync.WaitGroup
}

// worker - фоновый цикл (sweeper алертов, outbox dispatcher)
type worker struct {
	name   string
	start  func(ctx context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Build создаёт и настраивает все зависимости PharmaFlow.
// При ошибке уже поднятые ресурсы закрываются через shutdown manager.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	const op = "app.Build"

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("building PharmaFlow", zap.String("op", op), zap.String("http_addr", cfg.HTTPAddr))

	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	defer func() {
		if err != nil {
			shutdownMgr.Shutdown()
		}
	}()

	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: init observability: %w", op, err)
	}
	shutdownMgr.Add("otel", otelShutdown)

	kafkaCfg, err := platformkafka.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("%s: kafka config: %w", op, err)
	}

	// PostgreSQL + миграции
	logger.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("%s: postgres pool: %w", op, err)
	}
	shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))

	if err := pingWithTimeout(ctx, pool.Ping); err != nil {
		return nil, fmt.Errorf("%s: postgres ping: %w", op, err)
	}
	if err := migrate(ctx, pool, cfg.MigrationsDir); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger.Info("database migrations applied", zap.String("dir", cfg.MigrationsDir))

	// Redis для cool-down алертов
	logger.Info("connecting to Redis", zap.String("addr", cfg.RedisAddr))
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	shutdownMgr.Add("redis_client", platformshutdown.CloseClient(redisClient))

	redisPing := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	if err := pingWithTimeout(ctx, redisPing); err != nil {
		return nil, fmt.Errorf("%s: redis ping: %w", op, err)
	}

	store := postgres.NewStore(pool, cfg.LockTimeout)
	cooldown := redisrepo.NewCooldownStore(redisClient, logger)

	// без брокеров события в outbox не пишутся
	var alertTopic, movementTopic string
	if kafkaCfg.Enabled() {
		alertTopic, movementTopic = kafkaCfg.AlertTopic, kafkaCfg.MovementTopic
	}

	ledger := service.NewLedger(store, allocation.NewEngine(), logger, service.Options{
		TxTimeout:     cfg.TxTimeout,
		MaxRetries:    cfg.MaxRetries,
		MovementTopic: movementTopic,
	})
	evaluator := alert.NewEvaluator(store, cooldown, logger, alert.Options{
		Cooldown: cfg.AlertCooldown,
		Topic:    alertTopic,
	})

	a := &App{logger: logger, shutdownMgr: shutdownMgr}
	a.addWorker("alert_sweeper", alert.NewSweeper(logger, evaluator, cfg.AlertSweepInterval).Start)

	if kafkaCfg.Enabled() {
		writer := eventkafka.NewWriter(kafkaCfg.Brokers)
		dispatcher := eventkafka.NewOutboxDispatcher(logger, store, writer, eventkafka.DispatcherConfig{
			BatchSize:  cfg.OutboxBatchSize,
			Interval:   cfg.OutboxInterval,
			MaxRetries: cfg.OutboxMaxRetries,
			Backoff:    100 * time.Millisecond,
		})
		shutdownMgr.Add("kafka_writer", func(context.Context) error { return dispatcher.Close() })
		a.addWorker("outbox_dispatcher", dispatcher.Start)
		logger.Info("kafka publishing enabled",
			zap.Strings("brokers", kafkaCfg.Brokers),
			zap.String("alert_topic", alertTopic),
			zap.String("movement_topic", movementTopic),
		)
	} else {
		logger.Warn("KAFKA_BROKERS is empty, events are not published")
	}

	handler := httpapi.NewHandler(ledger, store, evaluator, logger)
	router := httpapi.NewRouter(handler, logger,
		platformhealth.Check{Name: "postgres", Probe: store.Ping},
		platformhealth.Check{Name: "redis", Probe: redisPing},
	)

	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	for _, w := range a.workers {
		shutdownMgr.Add(w.name, platformshutdown.StopWorker(w.cancel, w.done))
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(a.httpServer))

	return a, nil
}

func (a *App) addWorker(name string, start func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	a.workers = append(a.workers, worker{
		name:   name,
		start:  start,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	})
}

// Run запускает HTTP сервер и фоновые циклы, блокируется до SIGINT/SIGTERM или отмены ctx
func (a *App) Run(ctx context.Context) error {
	defer platformlogging.Sync(a.logger)

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w worker) {
			defer a.wg.Done()
			defer close(w.done)
			if err := w.start(w.ctx); err != nil {
				a.logger.Error("worker stopped with error", zap.String("worker", w.name), zap.Error(err))
			}
		}(w)
	}

	a.logger.Info("starting PharmaFlow", zap.String("addr", a.httpServer.Addr))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.shutdownMgr.Wait(ctx)

	a.wg.Wait()
	a.logger.Info("PharmaFlow stopped")
	return nil
}

func pingWithTimeout(ctx context.Context, ping func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ping(ctx)
}

// migrate применяет goose миграции через database/sql поверх пула
func migrate(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
