package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reserva/internal/api"
	"reserva/internal/broadcast"
	"reserva/internal/config"
	"reserva/internal/database"
	"reserva/internal/domain"
	"reserva/internal/expiry"
	"reserva/internal/logging"
	"reserva/internal/metrics"
	"reserva/internal/repository"
	"reserva/internal/service"
	"reserva/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	logger.Info().Str("config", *configPath).Msg("starting reservation engine")

	metrics.Register()

	store, err := database.NewStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer store.Close()
	store.SetSpaces(cfg.Spaces)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Event pipeline: committed transitions land in the outbox, the dispatcher
	// drains them into the in-process broadcaster and, when configured, Redis.
	broadcaster := broadcast.NewBroadcaster(logger)
	sinks := []domain.EventSink{broadcaster}

	sessions := domain.SessionRepository(repository.NewMemorySessionRepository())
	if cfg.Redis.Enabled {
		redisClient := broadcast.NewRedisClient(cfg.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := broadcast.Ping(pingCtx, redisClient)
		pingCancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable at startup, continuing with in-process sinks only")
		} else {
			sinks = append(sinks, broadcast.NewRedisSink(redisClient, "reserva:events", logger))
			sessions = repository.NewFailoverSessionRepository(
				repository.NewRedisSessionRepository(redisClient, cfg.Engine.SessionTTL(), logger),
				sessions, logger)
			defer redisClient.Close()
		}
	}

	dispatcher := worker.NewDispatcher(store, sinks, worker.DefaultRetryPolicy(), cfg.Engine.OutboxPollInterval(), logger)
	go dispatcher.Run(ctx)

	authority := expiry.NewAuthority(cfg.Engine.TickInterval(), time.Now, logger)
	grants := service.NewGrantService(store, authority,
		cfg.Engine.MinGrantDuration(), cfg.Engine.MaxGrantDuration(), time.Now, logger)
	reservations := service.NewReservationService(store, cfg.Engine.MaxAdvanceDays, time.Now, logger)

	// Sessions live before this process did; their deadlines must too.
	if err := grants.Rehydrate(ctx); err != nil {
		return err
	}
	go authority.Run(ctx, grants)

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
		go backup.Start(ctx)
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort, logger)
	}

	auth := api.NewHTTPAuth(cfg.API, sessions, logger)
	server := api.NewHTTPServer(cfg.API, reservations, grants, broadcaster, store, auth, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}

	logger.Info().Msg("reservation engine stopped")
	return nil
}

func startMetricsServer(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
