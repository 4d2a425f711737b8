package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storesync/internal/api"
	"storesync/internal/config"
	"storesync/internal/coordinator"
	"storesync/internal/domain"
	"storesync/internal/events"
	"storesync/internal/logging"
	"storesync/internal/metrics"
	"storesync/internal/models"
	"storesync/internal/netstate"
	"storesync/internal/queue"
	"storesync/internal/remote"
	"storesync/internal/repository"
	"storesync/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	store, err := queue.NewStore(cfg.Queue.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize pending submission store")
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	var remoteStore domain.RemoteStore
	if cfg.Remote.Configured() {
		remoteStore = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout())
	} else {
		logger.Warn().Msg("no remote store configured, running in queue-only mode")
	}

	bus := events.NewEventBus()
	snapshots := initSnapshotRepository(ctx, cfg, &logger)

	monitor := netstate.NewMonitor(remoteStore, bus, cfg.Sync.ProbeInterval(), &logger)
	coord := coordinator.New(store, remoteStore, monitor, bus, &logger)

	retryPolicy := worker.RetryPolicy{
		MaxRetries:    cfg.Sync.Retry.MaxRetries,
		InitialDelay:  time.Duration(cfg.Sync.Retry.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Sync.Retry.MaxDelaySeconds) * time.Second,
		BackoffFactor: cfg.Sync.Retry.BackoffFactor,
	}
	drainWorker := worker.NewDrainWorker(coord, store, snapshots, retryPolicy, cfg.Sync.PollInterval(), &logger)
	drainWorker.BindEvents(bus)

	go monitor.Start(ctx)
	go drainWorker.Start(ctx)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, coord, store, monitor, snapshots, drainWorker, cfg.Monitoring.PrometheusEnabled, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("storesync started")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initSnapshotRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.SnapshotRepository {
	ttl := time.Duration(models.DefaultSnapshotTTL) * time.Second
	fallback := repository.NewMemorySnapshotRepository(ttl)

	if cfg.Redis.Address == "" {
		return fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}

	primary := repository.NewRedisSnapshotRepository(redisClient, ttl)
	return repository.NewFailoverSnapshotRepository(primary, fallback, logger)
}
